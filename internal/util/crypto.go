package util

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// MaskPin keeps the first two digits so log lines can be correlated
// without revealing a usable PIN.
func MaskPin(pin string) string {
	if len(pin) <= 2 {
		return "******"
	}
	return pin[:2] + strings.Repeat("*", len(pin)-2)
}
