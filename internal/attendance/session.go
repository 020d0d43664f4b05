package attendance

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

// State is a session's lifecycle state. Transitions are monotonic: a session
// leaves Active exactly once and never returns.
type State string

const (
	StateActive    State = "active"
	StateExpired   State = "expired"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateExpired || s == StateCancelled
}

// Session is one instructor-initiated window during which students may check
// in for a course meeting. The payload is generated once at creation and
// never mutates; only state, expiry, and scan counters do.
type Session struct {
	ID         string     `json:"id"`
	CourseID   string     `json:"course_id"`
	CreatedBy  string     `json:"created_by"`
	Title      string     `json:"title"`
	Notes      string     `json:"notes"`
	State      State      `json:"state"`
	Payload    string     `json:"payload"`
	ScanCount  int        `json:"scan_count"`
	LastScanAt *time.Time `json:"last_scan_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
}

// Payload is the data embedded in the QR image: enough identifiers to resolve
// back to a session, nothing more. Plaintext, no signature; replay within the
// validity window is an accepted limitation.
type Payload struct {
	SessionID string `json:"sid"`
	CourseID  string `json:"cid"`
	ExpiresAt int64  `json:"exp"`
}

// EncodePayload serializes for QR embedding.
func EncodePayload(p Payload) string {
	data, _ := json.Marshal(p)
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodePayload parses a scanned payload string.
func DecodePayload(s string) (Payload, error) {
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Payload{}, ErrMalformedPayload
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, ErrMalformedPayload
	}
	if p.SessionID == "" || p.CourseID == "" {
		return Payload{}, ErrMalformedPayload
	}
	return p, nil
}
