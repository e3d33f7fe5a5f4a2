package service

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/custodial-ledger/internal/alert"
	"github.com/ayo6706/custodial-ledger/internal/chain"
	"github.com/ayo6706/custodial-ledger/internal/db"
	"github.com/ayo6706/custodial-ledger/internal/domain"
	"github.com/ayo6706/custodial-ledger/internal/models"
	"github.com/ayo6706/custodial-ledger/internal/repository"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	testPlatformAddress = "0x1111111111111111111111111111111111111111"
	testSenderAddress   = "0x2222222222222222222222222222222222222222"
	testPayoutAddress   = "0x3333333333333333333333333333333333333333"
)

// setupTestDB connects to Postgres, applies the schema and empties every table.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	connString := os.Getenv("DATABASE_URL")
	if connString == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		t.Fatalf("Failed to connect to DB: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE TABLE audit_log, idempotency_keys, reconciliation_reports, ledger_entries, withdrawal_requests, custodial_wallets, platform_wallets, users CASCADE`); err != nil {
		t.Fatalf("Failed to truncate: %v", err)
	}
	return pool
}

func txHash(n int) string {
	return fmt.Sprintf("0x%064x", n)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakeChain struct {
	mu       sync.Mutex
	facts    map[string]*chain.TxFacts
	factErrs map[string]error
	balances map[string]decimal.Decimal

	sendErr  error
	waitErr  error
	// submitErr fails submission after the hash was recorded. With
	// acceptOnSubmitErr the node still learns the transfer.
	submitErr         error
	acceptOnSubmitErr bool
	beforeSubmit      func(hash string)
	// onFacts runs before every transaction lookup.
	onFacts func(hash string)
	gasCost  decimal.Decimal
	sent     []string
	sendSeq  int
	sentTo   []string
	waitSeen []string
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		facts:    map[string]*chain.TxFacts{},
		factErrs: map[string]error{},
		balances: map[string]decimal.Decimal{},
		gasCost:  dec("0.000021"),
	}
}

func (f *fakeChain) setDeposit(hash, from string, value decimal.Decimal, confirmations uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.facts[hash] = &chain.TxFacts{
		Hash:          hash,
		From:          from,
		To:            testPlatformAddress,
		Value:         value,
		BlockNumber:   100,
		Confirmations: confirmations,
		Success:       true,
	}
	delete(f.factErrs, hash)
}

func (f *fakeChain) setFactErr(hash string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.factErrs[hash] = err
}

func (f *fakeChain) setBalance(address string, balance decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[address] = balance
}

func (f *fakeChain) GetTransactionFacts(_ context.Context, hash string) (*chain.TxFacts, error) {
	if f.onFacts != nil {
		f.onFacts(hash)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	facts, ok := f.facts[hash]
	if err, failed := f.factErrs[hash]; failed {
		if ok {
			copied := *facts
			return &copied, err
		}
		return nil, err
	}
	if !ok {
		return nil, domain.ErrTxNotFound
	}
	copied := *facts
	return &copied, nil
}

func (f *fakeChain) GetBalance(_ context.Context, address string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	balance, ok := f.balances[address]
	if !ok {
		return decimal.Zero, domain.ErrRPCNotConfigured
	}
	return balance, nil
}

func (f *fakeChain) SendValue(ctx context.Context, _ chain.TxSigner, to string, amount decimal.Decimal, record chain.RecordFunc) (string, error) {
	f.mu.Lock()
	if f.sendErr != nil {
		err := f.sendErr
		f.mu.Unlock()
		return "", err
	}
	f.sendSeq++
	hash := txHash(0xbeef0000 + f.sendSeq)
	beforeSubmit := f.beforeSubmit
	f.mu.Unlock()

	if record != nil {
		if err := record(ctx, hash); err != nil {
			return "", err
		}
	}
	if beforeSubmit != nil {
		beforeSubmit(hash)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil && !f.acceptOnSubmitErr {
		return hash, f.submitErr
	}
	f.sent = append(f.sent, hash)
	f.sentTo = append(f.sentTo, to)
	f.facts[hash] = &chain.TxFacts{
		Hash:          hash,
		From:          testPlatformAddress,
		To:            to,
		Value:         amount,
		BlockNumber:   200,
		Confirmations: 0,
		Success:       true,
		GasUsed:       domain.NativeTransferGas,
		GasCost:       f.gasCost,
	}
	return hash, f.submitErr
}

func (f *fakeChain) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// forget drops a transfer from the fake node, as a mempool eviction would.
func (f *fakeChain) forget(hash string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.facts, hash)
	delete(f.factErrs, hash)
}

func (f *fakeChain) WaitForConfirmations(_ context.Context, hash string, n uint64, _ time.Duration) (*chain.TxFacts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waitSeen = append(f.waitSeen, hash)
	facts := *f.facts[hash]
	if f.waitErr != nil {
		facts.Success = false
		return &facts, f.waitErr
	}
	facts.Confirmations = n
	f.facts[hash] = &facts
	return &facts, nil
}

// confirm marks a broadcast transfer as mined with n confirmations.
func (f *fakeChain) confirm(hash string, n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.facts[hash].Confirmations = n
	delete(f.factErrs, hash)
}

type staticSigner struct {
	address common.Address
}

func (s staticSigner) Address() common.Address {
	return s.address
}

func (s staticSigner) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	return tx, nil
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (r *recordingAlerter) Notify(_ context.Context, a alert.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
}

func (r *recordingAlerter) titles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.alerts))
	for _, a := range r.alerts {
		out = append(out, a.Title)
	}
	return out
}

type testEnv struct {
	pool        *pgxpool.Pool
	store       *repository.Store
	users       *repository.Repository
	chain       *fakeChain
	alerts      *recordingAlerter
	signer      staticSigner
	audit       *AuditService
	platform    *PlatformWalletService
	ledger      *LedgerService
	deposits    *DepositService
	withdrawals *WithdrawalService
	reconciler  *ReconciliationService
}

type envOptions struct {
	policy               domain.WithdrawalPolicy
	platformDailyLimit   decimal.Decimal
	minDeposit           decimal.Decimal
	discrepancyThreshold decimal.Decimal
	minimumBalance       decimal.Decimal
}

func newTestEnv(t *testing.T, opts ...func(*envOptions)) *testEnv {
	t.Helper()
	o := envOptions{
		policy: domain.WithdrawalPolicy{
			MinAmount:          dec("0.001"),
			UserDailyLimit:     dec("100"),
			MaxRequestsPerHour: 100,
		},
		platformDailyLimit:   dec("1000"),
		minDeposit:           dec("0.01"),
		discrepancyThreshold: dec("0.001"),
	}
	for _, opt := range opts {
		opt(&o)
	}

	pool := setupTestDB(t)
	store := repository.NewStore(pool)
	fc := newFakeChain()
	alerts := &recordingAlerter{}
	signer := staticSigner{address: common.HexToAddress(testPlatformAddress)}

	audit := NewAuditService(store)
	platform := NewPlatformWalletService(store, audit, PlatformConfig{
		Address:              testPlatformAddress,
		ChainID:              1,
		DailyWithdrawalLimit: o.platformDailyLimit,
		MinimumBalance:       o.minimumBalance,
	})
	ledger := NewLedgerService(store, audit, platform, fc)
	deposits := NewDepositService(store, audit, ledger, platform, fc, DepositConfig{
		Confirmations: 12,
		MinAmount:     o.minDeposit,
	})
	withdrawals := NewWithdrawalService(store, audit, ledger, platform, fc, fc,
		func(context.Context) (chain.TxSigner, error) { return signer, nil },
		alerts,
		WithdrawalConfig{Policy: o.policy, Confirmations: 3},
	)
	reconciler := NewReconciliationService(store, audit, platform, fc, alerts, ReconciliationConfig{
		DiscrepancyThreshold: o.discrepancyThreshold,
	})

	return &testEnv{
		pool:        pool,
		store:       store,
		users:       repository.NewRepository(pool),
		chain:       fc,
		alerts:      alerts,
		signer:      signer,
		audit:       audit,
		platform:    platform,
		ledger:      ledger,
		deposits:    deposits,
		withdrawals: withdrawals,
		reconciler:  reconciler,
	}
}

func (e *testEnv) createUser(t *testing.T, wallet string) *models.User {
	t.Helper()
	user := &models.User{WalletAddress: wallet}
	require.NoError(t, e.users.CreateUser(context.Background(), user))
	return user
}

// fund deposits amount through the full submit and approve path.
func (e *testEnv) fund(t *testing.T, userID uuid.UUID, hash string, amount decimal.Decimal) {
	t.Helper()
	ctx := context.Background()
	e.chain.setDeposit(hash, testSenderAddress, amount, 15)
	res, err := e.deposits.SubmitDeposit(ctx, userID, hash)
	require.NoError(t, err)
	_, err = e.deposits.ApproveDeposit(ctx, res.Entry.ID, uuid.New())
	require.NoError(t, err)
}

func (e *testEnv) user(t *testing.T, id uuid.UUID) repository.User {
	t.Helper()
	row, err := e.store.Queries().GetUser(context.Background(), repository.ToPgUUID(id))
	require.NoError(t, err)
	return row
}

func (e *testEnv) platformRow(t *testing.T) repository.PlatformWallet {
	t.Helper()
	row, err := e.store.Queries().GetActivePlatformWallet(context.Background())
	require.NoError(t, err)
	return row
}

// backdateClaim makes a processing withdrawal look claimed age ago.
func (e *testEnv) backdateClaim(t *testing.T, id uuid.UUID, age time.Duration) {
	t.Helper()
	_, err := e.pool.Exec(context.Background(),
		`UPDATE withdrawal_requests SET processed_at = NOW() - $2::int * INTERVAL '1 second', updated_at = NOW() - $2::int * INTERVAL '1 second' WHERE id = $1`,
		id, int(age.Seconds()))
	require.NoError(t, err)
}

func (e *testEnv) backdate(t *testing.T, table string, id uuid.UUID) {
	t.Helper()
	_, err := e.pool.Exec(context.Background(),
		fmt.Sprintf(`UPDATE %s SET updated_at = NOW() - INTERVAL '1 hour' WHERE id = $1`, table), id)
	require.NoError(t, err)
}
