package service

import (
	"context"
	"testing"

	"github.com/ayo6706/custodial-ledger/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestParseAuditEntity(t *testing.T) {
	tests := []struct {
		raw  string
		want auditEntity
	}{
		{raw: "withdrawal_request", want: entityWithdrawal},
		{raw: " Ledger_Entry ", want: entityLedgerEntry},
		{raw: "platform_wallet", want: entityPlatformWallet},
	}
	for _, tc := range tests {
		got, err := parseAuditEntity(tc.raw)
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
	}

	_, err := parseAuditEntity("invoice")
	require.ErrorIs(t, err, domain.ErrInvalidType)
}

func TestAuditWriteRequiresAction(t *testing.T) {
	err := NewAuditService(nil).Write(context.Background(), nil, entityWithdrawal, uuid.New(), nil, "  ", "", "", nil)
	require.ErrorIs(t, err, errAuditAction)
}

func TestWithdrawalAuditHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "0x4444444444444444444444444444444444444444")
	env.fund(t, user.ID, txHash(1), dec("1"))

	req, err := env.withdrawals.CreateWithdrawalRequest(ctx, CreateWithdrawalInput{
		UserID: user.ID, Amount: dec("0.4"), DestinationAddress: testPayoutAddress,
	})
	require.NoError(t, err)
	_, err = env.withdrawals.ProcessWithdrawal(ctx, req.ID)
	require.NoError(t, err)

	events, err := env.audit.History(ctx, "withdrawal_request", req.ID, 0, 0)
	require.NoError(t, err)
	actions := make([]string, 0, len(events))
	for _, e := range events {
		actions = append(actions, e.Action)
	}
	require.Equal(t, []string{"withdrawal_requested", "withdrawal_claimed", "withdrawal_signed", "withdrawal_completed"}, actions)

	require.NotNil(t, events[0].ActorID)
	require.Equal(t, user.ID, *events[0].ActorID)
	require.Nil(t, events[1].ActorID, "worker actions carry no actor")
	require.Equal(t, domain.StatusCompleted, *events[3].NextState)
	require.Contains(t, string(events[2].Metadata), "tx_hash")

	_, err = env.audit.History(ctx, "invoice", req.ID, 0, 0)
	require.ErrorIs(t, err, domain.ErrInvalidType)
}
