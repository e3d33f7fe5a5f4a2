package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Class groups errors by how callers should react to them.
type Class string

const (
	ClassValidation     Class = "validation"
	ClassConflict       Class = "conflict"
	ClassChain          Class = "chain_verification"
	ClassPolicy         Class = "policy"
	ClassNotFound       Class = "not_found"
	ClassInfrastructure Class = "infrastructure"
)

// Validation errors
var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidTxHash  = errors.New("invalid transaction hash")
	ErrInvalidMode    = errors.New("invalid adjustment mode")
	ErrMissingReason  = errors.New("reason is required")
	ErrInvalidType    = errors.New("invalid ledger entry type")
)

// State-conflict errors
var (
	ErrClaimLost              = errors.New("record was claimed by another worker")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrDuplicateTxHash        = errors.New("transaction hash already used")
	ErrAddressMismatch        = errors.New("deposit sender differs from linked address")
	ErrWalletExists           = errors.New("custodial wallet already exists")
	ErrPlatformAddressUsed    = errors.New("platform address was already used")
)

// Chain verification errors
var (
	ErrTxNotFound                = errors.New("transaction not found")
	ErrNotMinedYet               = errors.New("transaction not mined yet")
	ErrChainExecutionFailed      = errors.New("transaction reverted on chain")
	ErrInsufficientConfirmations = errors.New("insufficient confirmations")
	ErrSenderMismatch            = errors.New("sender does not match account")
	ErrRecipientMismatch         = errors.New("recipient is not the platform address")
	ErrConfirmationTimeout       = errors.New("timed out waiting for confirmations")
)

// Policy errors
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBelowMinimum        = errors.New("amount below minimum")
	ErrUserDailyLimit      = errors.New("user daily withdrawal limit exceeded")
	ErrPlatformDailyLimit  = errors.New("platform daily withdrawal limit exceeded")
	ErrVelocityLimit       = errors.New("too many withdrawal requests")
)

// Not-found errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEntryNotFound      = errors.New("ledger entry not found")
	ErrWithdrawalNotFound = errors.New("withdrawal not found")
)

// Infrastructure errors
var (
	ErrRPCNotConfigured = errors.New("rpc endpoint is not configured")
	ErrKeyNotFound      = errors.New("signing key not found")
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrEncryptionKey    = errors.New("encryption key must be exactly 32 bytes")
	ErrSignerMismatch   = errors.New("platform signer does not control the active platform address")
)

type classified struct {
	err   error
	class Class
}

// classes is ordered by precedence. An error joining several sentinels takes
// the class of the first one listed here.
var classes = []classified{
	{ErrUserNotFound, ClassNotFound},
	{ErrEntryNotFound, ClassNotFound},
	{ErrWithdrawalNotFound, ClassNotFound},
	{ErrInvalidAddress, ClassValidation},
	{ErrInvalidAmount, ClassValidation},
	{ErrInvalidTxHash, ClassValidation},
	{ErrInvalidMode, ClassValidation},
	{ErrMissingReason, ClassValidation},
	{ErrInvalidType, ClassValidation},
	{ErrInsufficientBalance, ClassPolicy},
	{ErrBelowMinimum, ClassPolicy},
	{ErrUserDailyLimit, ClassPolicy},
	{ErrPlatformDailyLimit, ClassPolicy},
	{ErrVelocityLimit, ClassPolicy},
	{ErrTxNotFound, ClassChain},
	{ErrNotMinedYet, ClassChain},
	{ErrChainExecutionFailed, ClassChain},
	{ErrInsufficientConfirmations, ClassChain},
	{ErrSenderMismatch, ClassChain},
	{ErrRecipientMismatch, ClassChain},
	{ErrConfirmationTimeout, ClassChain},
	{ErrClaimLost, ClassConflict},
	{ErrInvalidStateTransition, ClassConflict},
	{ErrDuplicateTxHash, ClassConflict},
	{ErrAddressMismatch, ClassConflict},
	{ErrWalletExists, ClassConflict},
	{ErrPlatformAddressUsed, ClassConflict},
	{ErrSignerMismatch, ClassInfrastructure},
	{ErrRPCNotConfigured, ClassInfrastructure},
	{ErrKeyNotFound, ClassInfrastructure},
	{ErrDecryptionFailed, ClassInfrastructure},
	{ErrEncryptionKey, ClassInfrastructure},
}

// Sentinel returns the highest-precedence known sentinel wrapped by err, or
// nil when there is none.
func Sentinel(err error) error {
	if err == nil {
		return nil
	}
	for _, c := range classes {
		if errors.Is(err, c.err) {
			return c.err
		}
	}
	return nil
}

// ClassOf returns the class of Sentinel(err). Unknown errors are treated as
// infrastructure failures.
func ClassOf(err error) Class {
	if err == nil {
		return ""
	}
	sentinel := Sentinel(err)
	for _, c := range classes {
		if c.err == sentinel {
			return c.class
		}
	}
	return ClassInfrastructure
}

// PolicyError reports which limit rejected a request and by how much.
type PolicyError struct {
	Err       error
	Limit     decimal.Decimal
	Used      decimal.Decimal
	Requested decimal.Decimal
	Remaining decimal.Decimal
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("%v: requested %s, limit %s, used %s, remaining %s",
		e.Err, e.Requested.String(), e.Limit.String(), e.Used.String(), e.Remaining.String())
}

func (e *PolicyError) Unwrap() error {
	return e.Err
}
