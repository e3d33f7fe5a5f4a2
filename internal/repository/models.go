package repository

import (
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

type User struct {
	ID             pgtype.UUID
	WalletAddress  string
	DepositAddress *string
	VirtualBalance decimal.Decimal
	TotalDeposited decimal.Decimal
	TotalWithdrawn decimal.Decimal
	TotalEarned    decimal.Decimal
	TotalSpent     decimal.Decimal
	CreatedAt      pgtype.Timestamptz
	UpdatedAt      pgtype.Timestamptz
}

type CustodialWallet struct {
	UserID              pgtype.UUID
	Address             string
	EncryptedMnemonic   string
	EncryptedPassphrase string
	DerivationPath      string
	CreatedAt           pgtype.Timestamptz
}

type LedgerEntry struct {
	ID            pgtype.UUID
	Type          string
	UserID        pgtype.UUID
	WalletAddress string
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	Status        string
	TxHash        *string
	FromAddress   *string
	ToAddress     *string
	BlockNumber   *int64
	Confirmations int64
	Description   string
	FailureReason *string
	CreatedAt     pgtype.Timestamptz
	UpdatedAt     pgtype.Timestamptz
}

type WithdrawalRequest struct {
	ID                 pgtype.UUID
	UserID             pgtype.UUID
	Amount             decimal.Decimal
	DestinationAddress string
	Status             string
	TxHash             *string
	FailureReason      *string
	RetryCount         int32
	GasCost            decimal.Decimal
	BlockNumber        *int64
	IpAddress          string
	UserAgent          string
	RequestedAt        pgtype.Timestamptz
	ProcessedAt        pgtype.Timestamptz
	CompletedAt        pgtype.Timestamptz
	FailedAt           pgtype.Timestamptz
	UpdatedAt          pgtype.Timestamptz
}

type PlatformWallet struct {
	ID                     pgtype.UUID
	Address                string
	ChainID                int64
	TotalBalance           decimal.Decimal
	UserBalances           decimal.Decimal
	PlatformRevenue        decimal.Decimal
	ReservedForWithdrawals decimal.Decimal
	DailyWithdrawalLimit   decimal.Decimal
	DailyWithdrawalUsed    decimal.Decimal
	MinimumBalance         decimal.Decimal
	Discrepancy            decimal.Decimal
	LastLimitReset         pgtype.Timestamptz
	LastReconciled         pgtype.Timestamptz
	Active                 bool
	CreatedAt              pgtype.Timestamptz
	UpdatedAt              pgtype.Timestamptz
}

type ReconciliationReport struct {
	ID              pgtype.UUID
	PlatformAddress string
	OnchainBalance  decimal.Decimal
	SumUserBalances decimal.Decimal
	AggregateDrift  decimal.Decimal
	PlatformRevenue decimal.Decimal
	Discrepancy     decimal.Decimal
	Alerted         bool
	CreatedAt       pgtype.Timestamptz
}

type IdempotencyKey struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	InProgress     bool
	CreatedAt      pgtype.Timestamptz
	UpdatedAt      pgtype.Timestamptz
}

type AuditLog struct {
	ID         int64
	EntityType string
	EntityID   pgtype.UUID
	ActorID    pgtype.UUID
	Action     string
	PrevState  *string
	NextState  *string
	Metadata   []byte
	CreatedAt  pgtype.Timestamptz
}
