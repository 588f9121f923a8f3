package ingestion

import (
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// ValidateWalletAddress checks that a tracked wallet address is a plausible
// ed25519 public key: base58, 32 bytes, on the curve. Program-derived
// addresses are off-curve and cannot sign trades, so they are rejected.
func ValidateWalletAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("empty wallet address")
	}

	decoded, err := base58.Decode(addr)
	if err != nil {
		return fmt.Errorf("wallet address %q is not base58: %w", addr, err)
	}
	if len(decoded) != 32 {
		return fmt.Errorf("wallet address %q decodes to %d bytes, want 32", addr, len(decoded))
	}
	if !isOnCurve(decoded) {
		return fmt.Errorf("wallet address %q is not an ed25519 public key", addr)
	}
	return nil
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
