package repository

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/ayo6706/custodial-ledger/internal/db"
	"github.com/ayo6706/custodial-ledger/internal/domain"
	"github.com/ayo6706/custodial-ledger/internal/models"
	"github.com/ayo6706/custodial-ledger/internal/testutil/dblock"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func init() {
	_ = godotenv.Load("../../.env") // Load from root
}

func TestUserRegistry(t *testing.T) {
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}

	release := dblock.Acquire()
	defer release()

	ctx := context.Background()
	pool, err := db.Connect(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		t.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	repo := NewRepository(pool)
	// Random suffix keeps reruns against a shared database independent.
	wallet := "0xAbCd" + strings.ReplaceAll(uuid.New().String(), "-", "") + "0000"

	user := &models.User{WalletAddress: wallet}
	if err := repo.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if user.WalletAddress != strings.ToLower(wallet) {
		t.Errorf("Expected lowercased wallet, got %s", user.WalletAddress)
	}
	if !user.VirtualBalance.IsZero() {
		t.Errorf("Expected zero balance, got %s", user.VirtualBalance)
	}

	byID, err := repo.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("Failed to get user: %v", err)
	}
	if byID.ID != user.ID {
		t.Errorf("Expected user ID %s, got %s", user.ID, byID.ID)
	}

	byWallet, err := repo.GetUserByWallet(ctx, wallet)
	if err != nil {
		t.Fatalf("Failed to get user by wallet: %v", err)
	}
	if byWallet.ID != user.ID {
		t.Errorf("Expected user ID %s, got %s", user.ID, byWallet.ID)
	}

	ensured, created, err := repo.EnsureUser(ctx, wallet)
	if err != nil {
		t.Fatalf("EnsureUser failed: %v", err)
	}
	if created || ensured.ID != user.ID {
		t.Errorf("Expected existing user %s, got %s (created=%v)", user.ID, ensured.ID, created)
	}

	if _, err := repo.GetUser(ctx, uuid.New()); !errors.Is(err, domain.ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}
	if err := repo.CreateUser(ctx, &models.User{WalletAddress: "nope"}); !errors.Is(err, domain.ErrInvalidAddress) {
		t.Errorf("Expected ErrInvalidAddress, got %v", err)
	}
}
