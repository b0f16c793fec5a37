package order

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const numberAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// generateOrderNumber builds a human-readable order number of the form
// ORD-YYYYMMDDHHMM-XXXXXX. The random suffix is not guaranteed unique on
// its own; the database unique constraint is, and collisions are
// resolved by regenerating.
func generateOrderNumber() string {
	return fmt.Sprintf("ORD-%s-%s", time.Now().UTC().Format("200601021504"), randomString(6))
}

// newGuestToken mints the access token a guest needs to look up or
// cancel their order.
func newGuestToken() string {
	return randomString(32)
}

func randomString(n int) string {
	b := make([]byte, n)
	max := big.NewInt(int64(len(numberAlphabet)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failing means the platform is broken.
			panic(fmt.Sprintf("order: failed to read random bytes: %v", err))
		}
		b[i] = numberAlphabet[idx.Int64()]
	}
	return string(b)
}
