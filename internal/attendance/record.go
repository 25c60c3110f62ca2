package attendance

import (
	"time"

	"classpresence/internal/session"
)

// ReverifyStatus tracks the second verification pass of a record.
type ReverifyStatus string

const (
	ReverifyPending       ReverifyStatus = "PENDING"
	ReverifyVerified      ReverifyStatus = "VERIFIED"
	ReverifyFailed        ReverifyStatus = "FAILED"
	ReverifyManualPresent ReverifyStatus = "MANUAL_PRESENT"
)

// open reports whether an automatic reverification may still change the status.
func (s ReverifyStatus) open() bool {
	return s == ReverifyPending || s == ReverifyFailed
}

// Record is the attendance of one student in one session.
type Record struct {
	ID                         string         `json:"id"`
	SessionID                  string         `json:"session_id"`
	StudentID                  string         `json:"student_id"`
	Confidence                 int            `json:"confidence"`
	Flagged                    bool           `json:"flagged"`
	GPSDistance                *float64       `json:"gps_distance,omitempty"`
	IPTrusted                  bool           `json:"ip_trusted"`
	WebAuthnUsed               bool           `json:"webauthn_used"`
	QRTokenValid               bool           `json:"qr_token_valid"`
	ReverifyStatus             ReverifyStatus `json:"reverify_status"`
	ReverifyMarkedAt           *time.Time     `json:"reverify_marked_at,omitempty"`
	ReverifyManualOverride     bool           `json:"reverify_manual_override"`
	ReverifyManualOverriddenAt *time.Time     `json:"reverify_manual_overridden_at,omitempty"`
	CreatedAt                  time.Time      `json:"created_at"`

	// ReverifyRequired is computed against the session phase at read time.
	ReverifyRequired bool `json:"reverify_required"`
}

// ReverifyRequired reports whether rec still needs its second check in phase.
func ReverifyRequired(rec *Record, phase session.Phase) bool {
	return phase == session.PhaseReverify && rec.ReverifyStatus == ReverifyPending
}

// ReverifyOutcome is the result of an automatic reverification attempt.
type ReverifyOutcome struct {
	Status     ReverifyStatus
	Confidence int
	Flagged    bool
	At         time.Time
}
