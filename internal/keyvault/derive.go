package keyvault

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

const mnemonicEntropyBits = 128

var errInvalidMnemonic = errors.New("invalid mnemonic")

// NewMnemonic returns a fresh 12-word BIP-39 phrase.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(mnemonicEntropyBits)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("build mnemonic: %w", err)
	}
	return mnemonic, nil
}

// DeriveKey walks the BIP-32 path from the seed of mnemonic salted by passphrase.
func DeriveKey(mnemonic, passphrase, path string) (*ecdsa.PrivateKey, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errInvalidMnemonic
	}
	indexes, err := accounts.ParseDerivationPath(path)
	if err != nil {
		return nil, fmt.Errorf("parse derivation path %q: %w", path, err)
	}

	seed := bip39.NewSeed(mnemonic, passphrase)
	key, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("master key: %w", err)
	}
	for _, index := range indexes {
		key, err = key.Derive(index)
		if err != nil {
			return nil, fmt.Errorf("derive child %d: %w", index, err)
		}
	}

	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("extract private key: %w", err)
	}
	return priv.ToECDSA(), nil
}

// DeriveAddress is DeriveKey followed by the usual Keccak address encoding.
func DeriveAddress(mnemonic, passphrase, path string) (common.Address, error) {
	key, err := DeriveKey(mnemonic, passphrase, path)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}
