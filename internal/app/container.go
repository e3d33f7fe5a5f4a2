package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/custodial-ledger/internal/alert"
	"github.com/ayo6706/custodial-ledger/internal/chain"
	"github.com/ayo6706/custodial-ledger/internal/config"
	"github.com/ayo6706/custodial-ledger/internal/db"
	"github.com/ayo6706/custodial-ledger/internal/domain"
	"github.com/ayo6706/custodial-ledger/internal/keyvault"
	"github.com/ayo6706/custodial-ledger/internal/repository"
	"github.com/ayo6706/custodial-ledger/internal/service"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Container holds the shared infrastructure and services used by both the
// HTTP server and the admin CLI.
type Container struct {
	Config *config.Config
	Pool   *pgxpool.Pool
	Redis  *redis.Client
	Chain  *chain.Client
	Repo   *repository.Repository
	Store  *repository.Store
	Vault  *keyvault.Vault
	// WalletsEnabled is false when no ENCRYPTION_KEY is configured.
	WalletsEnabled bool

	Alerter     alert.Alerter
	Audit       *service.AuditService
	Platform    *service.PlatformWalletService
	Ledger      *service.LedgerService
	Deposits    *service.DepositService
	Withdrawals *service.WithdrawalService
	Reconciler  *service.ReconciliationService
}

// Build opens the database, Redis and RPC connections and wires the services.
// Close must be called to release them.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Container, error) {
	c := &Container{Config: cfg}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	c.Pool = pool

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	c.Redis = redisClient

	client, err := chain.Dial(ctx, cfg.RPCURL, cfg.ChainID)
	if err != nil {
		c.Close()
		return nil, err
	}
	if !client.Configured() {
		logger.Warn("RPC_URL not set; chain verification and withdrawals are disabled")
	}
	c.Chain = client

	c.Repo = repository.NewRepository(pool)
	c.Store = repository.NewStore(pool)

	var cipher *keyvault.Cipher
	if strings.TrimSpace(cfg.EncryptionKey) != "" {
		cipher, err = keyvault.NewCipher(cfg.EncryptionKey)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("encryption key: %w", err)
		}
		c.WalletsEnabled = true
	} else {
		logger.Warn("ENCRYPTION_KEY not set; custodial wallets are disabled")
	}
	c.Vault = keyvault.NewVault(c.Store.Queries(), cipher, keyvault.Config{
		ChainID:            cfg.ChainID,
		DerivationPath:     cfg.DerivationPath,
		PlatformPrivateKey: cfg.PlatformPrivateKey,
	})

	c.Alerter = newAlerter(cfg, logger)

	broadcaster := chain.NewBroadcaster(client, chain.NewSignerLock(redisClient, cfg.SignerLockTTL),
		chain.WithMaxGasPriceGwei(cfg.MaxGasPriceGwei),
	)
	audit := service.NewAuditService(c.Store)
	c.Audit = audit
	c.Platform = service.NewPlatformWalletService(c.Store, audit, service.PlatformConfig{
		Address:              cfg.PlatformWalletAddress,
		ChainID:              cfg.ChainID,
		DailyWithdrawalLimit: cfg.PlatformDailyWithdrawLimit,
		MinimumBalance:       cfg.MinimumPlatformBalance,
	})
	c.Ledger = service.NewLedgerService(c.Store, audit, c.Platform, client)
	c.Deposits = service.NewDepositService(c.Store, audit, c.Ledger, c.Platform, client, service.DepositConfig{
		Confirmations:     cfg.DepositConfirmations,
		MinAmount:         cfg.MinDepositAmount,
		StaleClaimTimeout: cfg.StaleClaimTimeout,
	})
	c.Withdrawals = service.NewWithdrawalService(c.Store, audit, c.Ledger, c.Platform, broadcaster, client, c.platformSigner, c.Alerter, service.WithdrawalConfig{
		Policy: domain.WithdrawalPolicy{
			MinAmount:          cfg.MinWithdrawalAmount,
			UserDailyLimit:     cfg.UserDailyWithdrawalLimit,
			MaxRequestsPerHour: cfg.MaxWithdrawalsPerHour,
		},
		Confirmations:       cfg.WithdrawalConfirmation,
		ConfirmationTimeout: cfg.ConfirmationTimeout,
		StaleClaimTimeout:   cfg.StaleClaimTimeout,
		BroadcastTimeout:    cfg.BroadcastTimeout,
		MinWait:             cfg.WithdrawalMinWait,
	})
	c.Reconciler = service.NewReconciliationService(c.Store, audit, c.Platform, client, c.Alerter, service.ReconciliationConfig{
		DiscrepancyThreshold: cfg.DiscrepancyAlertThreshold,
	})
	return c, nil
}

func (c *Container) platformSigner(ctx context.Context) (chain.TxSigner, error) {
	signer, err := c.Vault.PlatformSigner(ctx)
	if err != nil {
		return nil, err
	}
	return signer, nil
}

// Close releases every connection the container opened.
func (c *Container) Close() {
	if c.Chain != nil {
		c.Chain.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}

func newAlerter(cfg *config.Config, logger *zap.Logger) alert.Alerter {
	alerters := alert.Fanout{alert.NewLogAlerter(logger)}
	if cfg.TelegramBotToken == "" {
		return alerters
	}
	tg, err := alert.NewTelegramAlerter(cfg.TelegramBotToken, cfg.TelegramChatID)
	if err != nil {
		logger.Error("telegram alerts disabled", zap.Error(err))
		return alerters
	}
	return append(alerters, tg)
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
