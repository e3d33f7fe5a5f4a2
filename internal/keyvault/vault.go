package keyvault

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ayo6706/custodial-ledger/internal/domain"
	"github.com/ayo6706/custodial-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"
)

// WalletQueries is the slice of repository.Queries the vault reads and writes.
type WalletQueries interface {
	GetCustodialWallet(ctx context.Context, userID pgtype.UUID) (repository.CustodialWallet, error)
	InsertCustodialWallet(ctx context.Context, arg repository.InsertCustodialWalletParams) (repository.CustodialWallet, error)
}

type Config struct {
	ChainID            int64
	DerivationPath     string
	PlatformPrivateKey string
}

// Vault derives, encrypts and unlocks per-user signing keys.
type Vault struct {
	queries     WalletQueries
	cipher      *Cipher
	chainID     *big.Int
	path        string
	platformKey string
}

// EnsureResult carries the mnemonic only on the call that created the wallet.
type EnsureResult struct {
	Created  bool   `json:"created"`
	Address  string `json:"address"`
	Mnemonic string `json:"mnemonic,omitempty"`
}

func NewVault(queries WalletQueries, cipher *Cipher, cfg Config) *Vault {
	path := cfg.DerivationPath
	if path == "" {
		path = domain.DefaultDerivationPath
	}
	return &Vault{
		queries:     queries,
		cipher:      cipher,
		chainID:     big.NewInt(cfg.ChainID),
		path:        path,
		platformKey: cfg.PlatformPrivateKey,
	}
}

func (v *Vault) EnsureWallet(ctx context.Context, userID uuid.UUID, passphrase string) (*EnsureResult, error) {
	existing, err := v.queries.GetCustodialWallet(ctx, repository.ToPgUUID(userID))
	if err == nil {
		return &EnsureResult{Created: false, Address: existing.Address}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("load custodial wallet: %w", err)
	}

	mnemonic, err := NewMnemonic()
	if err != nil {
		return nil, err
	}
	address, err := DeriveAddress(mnemonic, passphrase, v.path)
	if err != nil {
		return nil, fmt.Errorf("derive custodial address: %w", err)
	}
	encMnemonic, err := v.cipher.Encrypt(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("encrypt mnemonic: %w", err)
	}
	encPassphrase, err := v.cipher.Encrypt(passphrase)
	if err != nil {
		return nil, fmt.Errorf("encrypt passphrase: %w", err)
	}

	row, err := v.queries.InsertCustodialWallet(ctx, repository.InsertCustodialWalletParams{
		UserID:              repository.ToPgUUID(userID),
		Address:             strings.ToLower(address.Hex()),
		EncryptedMnemonic:   encMnemonic,
		EncryptedPassphrase: encPassphrase,
		DerivationPath:      v.path,
	})
	if errors.Is(err, pgx.ErrNoRows) {
		// A concurrent call created the wallet first; its mnemonic was returned there.
		winner, getErr := v.queries.GetCustodialWallet(ctx, repository.ToPgUUID(userID))
		if getErr != nil {
			return nil, fmt.Errorf("load custodial wallet after conflict: %w", getErr)
		}
		return &EnsureResult{Created: false, Address: winner.Address}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store custodial wallet: %w", err)
	}

	zap.L().Info("custodial wallet created", zap.String("user_id", userID.String()), zap.String("address", row.Address))
	return &EnsureResult{Created: true, Address: row.Address, Mnemonic: mnemonic}, nil
}

// GetSigner unlocks the user's key and checks it still derives the stored address.
func (v *Vault) GetSigner(ctx context.Context, userID uuid.UUID) (*Signer, error) {
	row, err := v.queries.GetCustodialWallet(ctx, repository.ToPgUUID(userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrKeyNotFound
		}
		return nil, fmt.Errorf("load custodial wallet: %w", err)
	}
	mnemonic, err := v.cipher.Decrypt(row.EncryptedMnemonic)
	if err != nil {
		return nil, err
	}
	passphrase, err := v.cipher.Decrypt(row.EncryptedPassphrase)
	if err != nil {
		return nil, err
	}
	key, err := DeriveKey(mnemonic, passphrase, row.DerivationPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecryptionFailed, err)
	}
	signer := NewSigner(key, v.chainID)
	if !strings.EqualFold(signer.Address().Hex(), row.Address) {
		return nil, fmt.Errorf("%w: derived %s, stored %s", domain.ErrDecryptionFailed, signer.Address().Hex(), row.Address)
	}
	return signer, nil
}

// PlatformSigner returns the signer for the account that pays withdrawals.
func (v *Vault) PlatformSigner(ctx context.Context) (*Signer, error) {
	if strings.TrimSpace(v.platformKey) == "" {
		return nil, fmt.Errorf("%w: platform private key is not configured", domain.ErrKeyNotFound)
	}
	return SignerFromHex(v.platformKey, v.chainID)
}
