package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/custodial-ledger/internal/domain"
	"github.com/ayo6706/custodial-ledger/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the user directory consumed by the HTTP layer and the CLI.
type Repository struct {
	queries *Queries
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{queries: New(db)}
}

// CreateUser registers a wallet address. The address is stored lowercased.
func (r *Repository) CreateUser(ctx context.Context, user *models.User) error {
	address, err := domain.NormalizeAddress(user.WalletAddress)
	if err != nil {
		return err
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	row, err := r.queries.CreateUser(ctx, CreateUserParams{
		ID:            ToPgUUID(user.ID),
		WalletAddress: address,
	})
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	*user = UserModel(row)
	return nil
}

func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	row, err := r.queries.GetUser(ctx, ToPgUUID(id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	user := UserModel(row)
	return &user, nil
}

func (r *Repository) GetUserByWallet(ctx context.Context, wallet string) (*models.User, error) {
	address, err := domain.NormalizeAddress(wallet)
	if err != nil {
		return nil, err
	}
	row, err := r.queries.GetUserByWallet(ctx, address)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by wallet: %w", err)
	}
	user := UserModel(row)
	return &user, nil
}

// EnsureUser returns the user owning wallet, creating it on first sight.
// created reports whether this call registered the wallet.
func (r *Repository) EnsureUser(ctx context.Context, wallet string) (user *models.User, created bool, err error) {
	user, err = r.GetUserByWallet(ctx, wallet)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, false, err
	}
	user = &models.User{WalletAddress: wallet}
	if err := r.CreateUser(ctx, user); err != nil {
		// Lost a race with a concurrent registration of the same wallet.
		if existing, lookupErr := r.GetUserByWallet(ctx, wallet); lookupErr == nil {
			return existing, false, nil
		}
		return nil, false, err
	}
	return user, true, nil
}
