package otp

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
)

// generateCode returns a uniformly random decimal code with leading zeros kept.
func generateCode(r io.Reader, digits int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(r, limit)
	if err != nil {
		return "", fmt.Errorf("otp: generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}
