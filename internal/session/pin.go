package session

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/openclaw/support-relay-go/internal/util"
)

const maxPinAttempts = 20

var pinSpace = big.NewInt(1_000_000)

// PinGenerator returns a candidate PIN. It may repeat; the registry
// retries on collision with a live session.
type PinGenerator func() string

func generatePin() string {
	n, err := rand.Int(rand.Reader, pinSpace)
	if err != nil {
		// crypto/rand does not fail on supported platforms
		panic(fmt.Sprintf("generate pin: %v", err))
	}
	return fmt.Sprintf("%0*d", util.PinLength, n.Int64())
}
