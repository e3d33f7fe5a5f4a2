package repository

import "github.com/ayo6706/custodial-ledger/internal/models"

func UserModel(row User) models.User {
	return models.User{
		ID:             FromPgUUID(row.ID),
		WalletAddress:  row.WalletAddress,
		DepositAddress: row.DepositAddress,
		VirtualBalance: row.VirtualBalance,
		TotalDeposited: row.TotalDeposited,
		TotalWithdrawn: row.TotalWithdrawn,
		TotalEarned:    row.TotalEarned,
		TotalSpent:     row.TotalSpent,
		CreatedAt:      row.CreatedAt.Time,
		UpdatedAt:      row.UpdatedAt.Time,
	}
}

func LedgerEntryModel(row LedgerEntry) models.LedgerEntry {
	return models.LedgerEntry{
		ID:            FromPgUUID(row.ID),
		Type:          row.Type,
		UserID:        FromPgUUID(row.UserID),
		WalletAddress: row.WalletAddress,
		Amount:        row.Amount,
		BalanceBefore: row.BalanceBefore,
		BalanceAfter:  row.BalanceAfter,
		Status:        row.Status,
		TxHash:        row.TxHash,
		FromAddress:   row.FromAddress,
		ToAddress:     row.ToAddress,
		BlockNumber:   row.BlockNumber,
		Confirmations: row.Confirmations,
		Description:   row.Description,
		FailureReason: row.FailureReason,
		CreatedAt:     row.CreatedAt.Time,
		UpdatedAt:     row.UpdatedAt.Time,
	}
}

func WithdrawalRequestModel(row WithdrawalRequest) models.WithdrawalRequest {
	return models.WithdrawalRequest{
		ID:                 FromPgUUID(row.ID),
		UserID:             FromPgUUID(row.UserID),
		Amount:             row.Amount,
		DestinationAddress: row.DestinationAddress,
		Status:             row.Status,
		TxHash:             row.TxHash,
		FailureReason:      row.FailureReason,
		RetryCount:         row.RetryCount,
		GasCost:            row.GasCost,
		BlockNumber:        row.BlockNumber,
		IPAddress:          row.IpAddress,
		UserAgent:          row.UserAgent,
		RequestedAt:        row.RequestedAt.Time,
		ProcessedAt:        TimePtr(row.ProcessedAt),
		CompletedAt:        TimePtr(row.CompletedAt),
		FailedAt:           TimePtr(row.FailedAt),
		UpdatedAt:          row.UpdatedAt.Time,
	}
}

func PlatformWalletModel(row PlatformWallet) models.PlatformWallet {
	return models.PlatformWallet{
		ID:                     FromPgUUID(row.ID),
		Address:                row.Address,
		ChainID:                row.ChainID,
		TotalBalance:           row.TotalBalance,
		UserBalances:           row.UserBalances,
		PlatformRevenue:        row.PlatformRevenue,
		ReservedForWithdrawals: row.ReservedForWithdrawals,
		DailyWithdrawalLimit:   row.DailyWithdrawalLimit,
		DailyWithdrawalUsed:    row.DailyWithdrawalUsed,
		MinimumBalance:         row.MinimumBalance,
		Discrepancy:            row.Discrepancy,
		LastLimitReset:         row.LastLimitReset.Time,
		LastReconciled:         TimePtr(row.LastReconciled),
		Active:                 row.Active,
		CreatedAt:              row.CreatedAt.Time,
		UpdatedAt:              row.UpdatedAt.Time,
	}
}

func ReconciliationReportModel(row ReconciliationReport) models.ReconciliationReport {
	return models.ReconciliationReport{
		ID:              FromPgUUID(row.ID),
		PlatformAddress: row.PlatformAddress,
		OnChainBalance:  row.OnchainBalance,
		SumUserBalances: row.SumUserBalances,
		AggregateDrift:  row.AggregateDrift,
		PlatformRevenue: row.PlatformRevenue,
		Discrepancy:     row.Discrepancy,
		Alerted:         row.Alerted,
		CreatedAt:       row.CreatedAt.Time,
	}
}

func AuditEventModel(row AuditLog) models.AuditEvent {
	out := models.AuditEvent{
		ID:         row.ID,
		EntityType: row.EntityType,
		EntityID:   FromPgUUID(row.EntityID),
		Action:     row.Action,
		PrevState:  row.PrevState,
		NextState:  row.NextState,
		Metadata:   row.Metadata,
		CreatedAt:  row.CreatedAt.Time,
	}
	if row.ActorID.Valid {
		actor := FromPgUUID(row.ActorID)
		out.ActorID = &actor
	}
	return out
}
