package bureau

import (
	"context"
	"crypto/md5" //nolint:gosec // Used for stable bucketing, not security.
	"fmt"
	"math/big"
)

const (
	MinScore = 600
	MaxScore = 850
)

// HashScores derives a stable score in [600, 850] from the customer ID, so
// the same customer always receives the same decision.
type HashScores struct{}

// Score returns the deterministic score for customerID.
func (HashScores) Score(_ context.Context, customerID string) (int, error) {
	if customerID == "" {
		return 0, fmt.Errorf("customer id is required")
	}
	sum := md5.Sum([]byte(customerID)) //nolint:gosec // See import.
	n := new(big.Int).SetBytes(sum[:])
	span := big.NewInt(MaxScore - MinScore + 1)
	return MinScore + int(n.Mod(n, span).Int64()), nil
}
