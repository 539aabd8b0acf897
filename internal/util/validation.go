package util

import (
	"github.com/google/uuid"
)

// PinLength is the number of digits in a pairing PIN.
const PinLength = 6

// IsValidUUID accepts only the canonical 36-character form that session ids
// are issued in.
func IsValidUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// IsValidPin reports whether s is exactly PinLength ASCII digits.
func IsValidPin(s string) bool {
	if len(s) != PinLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func IsValidEnum(value string, validValues []string) bool {
	if value == "" {
		return true
	}
	for _, v := range validValues {
		if value == v {
			return true
		}
	}
	return false
}
