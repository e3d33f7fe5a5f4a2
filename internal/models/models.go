package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type User struct {
	ID             uuid.UUID       `json:"id"`
	WalletAddress  string          `json:"wallet_address"`
	DepositAddress *string         `json:"deposit_address,omitempty"`
	VirtualBalance decimal.Decimal `json:"virtual_balance"`
	TotalDeposited decimal.Decimal `json:"total_deposited"`
	TotalWithdrawn decimal.Decimal `json:"total_withdrawn"`
	TotalEarned    decimal.Decimal `json:"total_earned"`
	TotalSpent     decimal.Decimal `json:"total_spent"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type CustodialWallet struct {
	UserID              uuid.UUID `json:"user_id"`
	Address             string    `json:"address"`
	EncryptedMnemonic   string    `json:"-"`
	EncryptedPassphrase string    `json:"-"`
	DerivationPath      string    `json:"derivation_path"`
	CreatedAt           time.Time `json:"created_at"`
}

type LedgerEntry struct {
	ID            uuid.UUID       `json:"id"`
	Type          string          `json:"type"`
	UserID        uuid.UUID       `json:"user_id"`
	WalletAddress string          `json:"wallet_address"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Status        string          `json:"status"`
	TxHash        *string         `json:"tx_hash,omitempty"`
	FromAddress   *string         `json:"from_address,omitempty"`
	ToAddress     *string         `json:"to_address,omitempty"`
	BlockNumber   *int64          `json:"block_number,omitempty"`
	Confirmations int64           `json:"confirmations"`
	Description   string          `json:"description"`
	FailureReason *string         `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type WithdrawalRequest struct {
	ID                 uuid.UUID       `json:"id"`
	UserID             uuid.UUID       `json:"user_id"`
	Amount             decimal.Decimal `json:"amount"`
	DestinationAddress string          `json:"destination_address"`
	Status             string          `json:"status"`
	TxHash             *string         `json:"tx_hash,omitempty"`
	FailureReason      *string         `json:"failure_reason,omitempty"`
	RetryCount         int32           `json:"retry_count"`
	GasCost            decimal.Decimal `json:"gas_cost"`
	BlockNumber        *int64          `json:"block_number,omitempty"`
	IPAddress          string          `json:"-"`
	UserAgent          string          `json:"-"`
	RequestedAt        time.Time       `json:"requested_at"`
	ProcessedAt        *time.Time      `json:"processed_at,omitempty"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	FailedAt           *time.Time      `json:"failed_at,omitempty"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

type PlatformWallet struct {
	ID                     uuid.UUID       `json:"id"`
	Address                string          `json:"address"`
	ChainID                int64           `json:"chain_id"`
	TotalBalance           decimal.Decimal `json:"total_balance"`
	UserBalances           decimal.Decimal `json:"user_balances"`
	PlatformRevenue        decimal.Decimal `json:"platform_revenue"`
	ReservedForWithdrawals decimal.Decimal `json:"reserved_for_withdrawals"`
	DailyWithdrawalLimit   decimal.Decimal `json:"daily_withdrawal_limit"`
	DailyWithdrawalUsed    decimal.Decimal `json:"daily_withdrawal_used"`
	MinimumBalance         decimal.Decimal `json:"minimum_balance"`
	Discrepancy            decimal.Decimal `json:"discrepancy"`
	LastLimitReset         time.Time       `json:"last_limit_reset"`
	LastReconciled         *time.Time      `json:"last_reconciled,omitempty"`
	Active                 bool            `json:"active"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

type ReconciliationReport struct {
	ID              uuid.UUID       `json:"id"`
	PlatformAddress string          `json:"platform_address"`
	OnChainBalance  decimal.Decimal `json:"onchain_balance"`
	SumUserBalances decimal.Decimal `json:"sum_user_balances"`
	AggregateDrift  decimal.Decimal `json:"aggregate_drift"`
	PlatformRevenue decimal.Decimal `json:"platform_revenue"`
	Discrepancy     decimal.Decimal `json:"discrepancy"`
	Alerted         bool            `json:"alerted"`
	CreatedAt       time.Time       `json:"created_at"`
}

// AuditEvent is one row of an entity's audit trail. A nil ActorID marks an
// action taken by the system.
type AuditEvent struct {
	ID         int64           `json:"id"`
	EntityType string          `json:"entity_type"`
	EntityID   uuid.UUID       `json:"entity_id"`
	ActorID    *uuid.UUID      `json:"actor_id,omitempty"`
	Action     string          `json:"action"`
	PrevState  *string         `json:"prev_state,omitempty"`
	NextState  *string         `json:"next_state,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
