package domain

const (
	// Ledger entry types
	EntryTypeDeposit     = "deposit"
	EntryTypeWithdrawal  = "withdrawal"
	EntryTypePurchase    = "purchase"
	EntryTypeSale        = "sale"
	EntryTypePlatformFee = "platform_fee"
	EntryTypeRoyalty     = "royalty"
	EntryTypeRefund      = "refund"
	EntryTypeAdminCredit = "admin_credit"
	EntryTypeAdminDebit  = "admin_debit"

	// Statuses shared by ledger entries and withdrawal requests
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"

	// Balance counters on the user record
	CounterDeposited = "total_deposited"
	CounterWithdrawn = "total_withdrawn"
	CounterEarned    = "total_earned"
	CounterSpent     = "total_spent"

	AdjustModeCredit = "credit"
	AdjustModeDebit  = "debit"

	RoleAdmin = "admin"

	// DefaultDerivationPath is the first external account of the standard Ethereum BIP-44 tree.
	DefaultDerivationPath = "m/44'/60'/0'/0/0"

	// NativeTransferGas is the fixed gas limit of a plain value transfer.
	NativeTransferGas uint64 = 21000

	CancelledByUserReason = "cancelled by user"
)

var entryTypes = map[string]struct{}{
	EntryTypeDeposit:     {},
	EntryTypeWithdrawal:  {},
	EntryTypePurchase:    {},
	EntryTypeSale:        {},
	EntryTypePlatformFee: {},
	EntryTypeRoyalty:     {},
	EntryTypeRefund:      {},
	EntryTypeAdminCredit: {},
	EntryTypeAdminDebit:  {},
}

// IsEntryType reports whether t is a known ledger entry type.
func IsEntryType(t string) bool {
	_, ok := entryTypes[t]
	return ok
}

// CounterFor returns the user counter an entry type updates and whether the
// entry adds to (credit) or subtracts from the virtual balance.
func CounterFor(entryType string) (counter string, credit bool, ok bool) {
	switch entryType {
	case EntryTypeDeposit:
		return CounterDeposited, true, true
	case EntryTypeWithdrawal:
		return CounterWithdrawn, false, true
	case EntryTypeSale, EntryTypeRoyalty, EntryTypeRefund, EntryTypeAdminCredit:
		return CounterEarned, true, true
	case EntryTypePurchase, EntryTypePlatformFee, EntryTypeAdminDebit:
		return CounterSpent, false, true
	default:
		return "", false, false
	}
}
