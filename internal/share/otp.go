package share

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// OTP step-up parameters: 6-digit codes, single-use, short TTL, hard attempt
// limit before the challenge locks.
const (
	MaxOTPAttempts = 5
)

var otpMax = big.NewInt(1000000)

// generateOTPCode produces a 6-digit code from crypto/rand.
func generateOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, otpMax)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
