package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const custodialWalletColumns = `user_id, address, encrypted_mnemonic, encrypted_passphrase, derivation_path, created_at`

func scanCustodialWallet(row pgx.Row) (CustodialWallet, error) {
	var i CustodialWallet
	err := row.Scan(
		&i.UserID,
		&i.Address,
		&i.EncryptedMnemonic,
		&i.EncryptedPassphrase,
		&i.DerivationPath,
		&i.CreatedAt,
	)
	return i, err
}

const getCustodialWallet = `SELECT ` + custodialWalletColumns + ` FROM custodial_wallets WHERE user_id = $1`

func (q *Queries) GetCustodialWallet(ctx context.Context, userID pgtype.UUID) (CustodialWallet, error) {
	return scanCustodialWallet(q.db.QueryRow(ctx, getCustodialWallet, userID))
}

const insertCustodialWallet = `
INSERT INTO custodial_wallets (user_id, address, encrypted_mnemonic, encrypted_passphrase, derivation_path)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id) DO NOTHING
RETURNING ` + custodialWalletColumns

type InsertCustodialWalletParams struct {
	UserID              pgtype.UUID
	Address             string
	EncryptedMnemonic   string
	EncryptedPassphrase string
	DerivationPath      string
}

// InsertCustodialWallet returns pgx.ErrNoRows when the user already has a wallet.
func (q *Queries) InsertCustodialWallet(ctx context.Context, arg InsertCustodialWalletParams) (CustodialWallet, error) {
	return scanCustodialWallet(q.db.QueryRow(ctx, insertCustodialWallet,
		arg.UserID,
		arg.Address,
		arg.EncryptedMnemonic,
		arg.EncryptedPassphrase,
		arg.DerivationPath,
	))
}
