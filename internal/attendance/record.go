package attendance

import "time"

// Attendance statuses. The enumeration is closed; anything else fails with
// ErrInvalidStatus.
const (
	StatusPresent = "present"
	StatusAbsent  = "absent"
	StatusLate    = "late"
	StatusExcused = "excused"
)

// ValidStatus reports membership in the status enumeration.
func ValidStatus(s string) bool {
	switch s {
	case StatusPresent, StatusAbsent, StatusLate, StatusExcused:
		return true
	}
	return false
}

// Record is one student's presence decision for one course on one calendar
// day. At most one exists per (student, course, date); later marks overwrite
// it in place.
type Record struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	CourseID  string    `json:"course_id"`
	Date      time.Time `json:"date"`
	Status    string    `json:"status"`
	Note      string    `json:"note"`
	MarkedBy  string    `json:"marked_by"`
	SessionID *string   `json:"session_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DateOnly normalizes a timestamp to its UTC calendar day.
func DateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
