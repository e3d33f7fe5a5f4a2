package domain

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-f]{64}$`)

// NormalizeAddress validates an EVM address and returns its lowercase hex form.
func NormalizeAddress(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}
	addr := common.HexToAddress(raw)
	if addr == (common.Address{}) {
		return "", fmt.Errorf("%w: zero address", ErrInvalidAddress)
	}
	return strings.ToLower(addr.Hex()), nil
}

// SameAddress compares two addresses ignoring case and surrounding whitespace.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// NormalizeTxHash lowercases a transaction hash and checks its shape.
func NormalizeTxHash(raw string) (string, error) {
	h := strings.ToLower(strings.TrimSpace(raw))
	if !strings.HasPrefix(h, "0x") {
		h = "0x" + h
	}
	if !txHashPattern.MatchString(h) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTxHash, raw)
	}
	return h, nil
}
