// Package scoring combines independent presence signals into a confidence score.
package scoring

// DefaultThreshold is the acceptance threshold used when the organisation policy sets none.
const DefaultThreshold = 70

// Signal weights. They sum to 100.
const (
	WeightCredential = 40
	WeightGeofence   = 30
	WeightToken      = 20
	WeightNetwork    = 10
)

// Signals are the boolean trust inputs of one verification attempt.
type Signals struct {
	CredentialVerified bool
	WithinGeofence     bool
	TokenValid         bool
	NetworkTrusted     bool
}

// Score returns the weighted sum of the true signals, in [0, 100].
func Score(s Signals) int {
	score := 0
	if s.CredentialVerified {
		score += WeightCredential
	}
	if s.WithinGeofence {
		score += WeightGeofence
	}
	if s.TokenValid {
		score += WeightToken
	}
	if s.NetworkTrusted {
		score += WeightNetwork
	}
	return score
}

// IsFlagged reports whether score falls below threshold. A threshold of 0
// never flags.
func IsFlagged(score, threshold int) bool {
	return score < threshold
}
