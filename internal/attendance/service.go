package attendance

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"edutend/internal/broadcast"
	"edutend/internal/metrics"
	"edutend/internal/roster"
)

const (
	minSessionMinutes = 1
	maxSessionMinutes = 480
)

// Store is the persistence contract for sessions and records. All conflict
// resolution is delegated to the store's constraints; the service holds no
// locks and no durable state of its own.
type Store interface {
	InsertSession(ctx context.Context, sess Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	// FinishSession moves a session out of Active, guarded so a terminal
	// session is never overwritten. Reports whether the transition happened.
	FinishSession(ctx context.Context, id string, state State, expiresAt time.Time) (bool, error)
	RecordScan(ctx context.Context, id string, at time.Time) error
	ListActiveSessions(ctx context.Context, courseID string, now time.Time) ([]Session, error)
	UpsertRecord(ctx context.Context, rec Record) (Record, error)
	ListRecords(ctx context.Context, courseID string, date time.Time) ([]Record, error)
}

// Roster supplies identity and enrollment lookups for authorization.
type Roster interface {
	GetUser(ctx context.Context, id string) (*roster.User, error)
	GetCourse(ctx context.Context, id string) (*roster.Course, error)
	IsEnrolled(ctx context.Context, courseID, studentID string) (bool, error)
}

// Service owns the attendance session lifecycle and the at-most-once marking
// rule. Stateless across calls.
type Service struct {
	store  Store
	roster Roster
	bus    broadcast.Bus
	now    func() time.Time
}

// NewService wires the service to its collaborators.
func NewService(store Store, ros Roster, bus broadcast.Bus) *Service {
	return &Service{store: store, roster: ros, bus: bus, now: time.Now}
}

// CreateInput describes a new session request.
type CreateInput struct {
	CourseID        string
	DurationMinutes int
	Title           string
	Notes           string
}

// Create opens a new Active session for a course the actor owns (or any
// course, for admins). The QR payload is generated here and never changes.
func (s *Service) Create(ctx context.Context, in CreateInput, actor roster.Actor) (Session, error) {
	if in.DurationMinutes < minSessionMinutes || in.DurationMinutes > maxSessionMinutes {
		return Session{}, ErrInvalidDuration
	}
	course, err := s.roster.GetCourse(ctx, in.CourseID)
	if err != nil {
		return Session{}, storeErr(err)
	}
	if course == nil {
		return Session{}, ErrCourseNotFound
	}
	if actor.Role != roster.RoleAdmin && course.OwnerID != actor.ID {
		return Session{}, ErrForbidden
	}

	now := s.now().UTC()
	sess := Session{
		ID:        uuid.NewString(),
		CourseID:  course.ID,
		CreatedBy: actor.ID,
		Title:     in.Title,
		Notes:     in.Notes,
		State:     StateActive,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(in.DurationMinutes) * time.Minute),
	}
	sess.Payload = EncodePayload(Payload{
		SessionID: sess.ID,
		CourseID:  sess.CourseID,
		ExpiresAt: sess.ExpiresAt.Unix(),
	})

	if err := s.store.InsertSession(ctx, sess); err != nil {
		return Session{}, storeErr(err)
	}
	metrics.SessionsCreated.Inc()
	s.publish(ctx, broadcast.Event{
		Name:      broadcast.SessionCreated,
		SessionID: sess.ID,
		CourseID:  sess.CourseID,
	})
	return sess, nil
}

// ScanResult carries the descriptive fields a client shows after a scan.
// It is populated even on expiry/not-active failures so the client can say
// which session's window closed, not just that something failed.
type ScanResult struct {
	SessionID  string    `json:"session_id"`
	CourseID   string    `json:"course_id"`
	CourseCode string    `json:"course_code,omitempty"`
	CourseName string    `json:"course_name,omitempty"`
	Title      string    `json:"title"`
	State      State     `json:"state"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// ValidateAndScan resolves a scanned payload and, when everything checks out,
// marks the scanner present for today. Expiry is re-derived from the clock on
// every scan; a stale Active flag is flipped here rather than trusted.
func (s *Service) ValidateAndScan(ctx context.Context, payload string, scannerID string) (ScanResult, error) {
	p, err := DecodePayload(payload)
	if err != nil {
		metrics.Scans.WithLabelValues("malformed").Inc()
		return ScanResult{}, err
	}

	sess, err := s.store.GetSession(ctx, p.SessionID)
	if err != nil {
		return ScanResult{}, storeErr(err)
	}
	if sess == nil {
		metrics.Scans.WithLabelValues("not_found").Inc()
		return ScanResult{}, ErrSessionNotFound
	}

	res := ScanResult{
		SessionID: sess.ID,
		CourseID:  sess.CourseID,
		Title:     sess.Title,
		State:     sess.State,
		ExpiresAt: sess.ExpiresAt,
	}
	if course, err := s.roster.GetCourse(ctx, sess.CourseID); err == nil && course != nil {
		res.CourseCode = course.Code
		res.CourseName = course.Name
	}

	now := s.now().UTC()
	if now.After(sess.ExpiresAt) {
		if sess.State == StateActive {
			flipped, err := s.store.FinishSession(ctx, sess.ID, StateExpired, sess.ExpiresAt)
			if err != nil {
				return res, storeErr(err)
			}
			if flipped {
				s.publish(ctx, broadcast.Event{
					Name:      broadcast.SessionExpired,
					SessionID: sess.ID,
					CourseID:  sess.CourseID,
				})
			}
		}
		res.State = StateExpired
		metrics.Scans.WithLabelValues("expired").Inc()
		return res, ErrSessionExpired
	}
	if sess.State != StateActive {
		metrics.Scans.WithLabelValues("not_active").Inc()
		return res, ErrSessionNotActive
	}

	enrolled, err := s.roster.IsEnrolled(ctx, sess.CourseID, scannerID)
	if err != nil {
		return res, storeErr(err)
	}
	if !enrolled {
		metrics.Scans.WithLabelValues("not_enrolled").Inc()
		return res, ErrNotEnrolled
	}

	if err := s.store.RecordScan(ctx, sess.ID, now); err != nil {
		return res, storeErr(err)
	}
	if _, err := s.Mark(ctx, MarkInput{
		StudentID: scannerID,
		CourseID:  sess.CourseID,
		Date:      now,
		Status:    StatusPresent,
		SessionID: &sess.ID,
	}, roster.System); err != nil {
		return res, err
	}

	metrics.Scans.WithLabelValues("ok").Inc()
	s.publish(ctx, broadcast.Event{
		Name:      broadcast.SessionScanned,
		SessionID: sess.ID,
		CourseID:  sess.CourseID,
		StudentID: scannerID,
	})
	return res, nil
}

// Expire ends a session's window now. Idempotent: expiring an already
// terminal session is a no-op success.
func (s *Service) Expire(ctx context.Context, sessionID string, actor roster.Actor) (Session, error) {
	return s.finish(ctx, sessionID, StateExpired, actor)
}

// Cancel marks a session ended early by its instructor, a terminal state
// distinct from expiry for reporting. A session already terminal stays as it
// is; cancellation never overrides expiry.
func (s *Service) Cancel(ctx context.Context, sessionID string, actor roster.Actor) (Session, error) {
	return s.finish(ctx, sessionID, StateCancelled, actor)
}

func (s *Service) finish(ctx context.Context, sessionID string, state State, actor roster.Actor) (Session, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return Session{}, storeErr(err)
	}
	if sess == nil {
		return Session{}, ErrSessionNotFound
	}
	if actor.Role != roster.RoleAdmin && sess.CreatedBy != actor.ID {
		return Session{}, ErrForbidden
	}
	if sess.State.Terminal() {
		return *sess, nil
	}

	expiresAt := sess.ExpiresAt
	if state == StateExpired {
		expiresAt = s.now().UTC()
	}
	flipped, err := s.store.FinishSession(ctx, sessionID, state, expiresAt)
	if err != nil {
		return Session{}, storeErr(err)
	}
	if !flipped {
		// Lost the race to another terminal transition; whatever landed
		// first is final.
		latest, err := s.store.GetSession(ctx, sessionID)
		if err != nil {
			return Session{}, storeErr(err)
		}
		if latest == nil {
			return Session{}, ErrSessionNotFound
		}
		return *latest, nil
	}

	sess.State = state
	sess.ExpiresAt = expiresAt
	name := broadcast.SessionExpired
	if state == StateCancelled {
		name = broadcast.SessionCancelled
	}
	s.publish(ctx, broadcast.Event{Name: name, SessionID: sess.ID, CourseID: sess.CourseID})
	return *sess, nil
}

// ListActive returns sessions that are Active right now, optionally filtered
// by course. Effective state is re-derived against the clock; a stored Active
// flag past its expiry never shows up here.
func (s *Service) ListActive(ctx context.Context, courseID string) ([]Session, error) {
	sessions, err := s.store.ListActiveSessions(ctx, courseID, s.now().UTC())
	if err != nil {
		return nil, storeErr(err)
	}
	return sessions, nil
}

// MarkInput describes one presence decision.
type MarkInput struct {
	StudentID string
	CourseID  string
	Date      time.Time
	Status    string
	Note      string
	SessionID *string
}

// Mark upserts the single record for (student, course, date). Last write
// wins: status, note, actor, and session reference are all replaced. No
// history is kept.
func (s *Service) Mark(ctx context.Context, in MarkInput, actor roster.Actor) (Record, error) {
	if !ValidStatus(in.Status) {
		return Record{}, ErrInvalidStatus
	}
	student, err := s.roster.GetUser(ctx, in.StudentID)
	if err != nil {
		return Record{}, storeErr(err)
	}
	if student == nil || student.Role != roster.RoleStudent {
		return Record{}, ErrStudentNotFound
	}
	course, err := s.roster.GetCourse(ctx, in.CourseID)
	if err != nil {
		return Record{}, storeErr(err)
	}
	if course == nil {
		return Record{}, ErrCourseNotFound
	}
	if actor.Role != roster.RoleSystem && actor.Role != roster.RoleAdmin && course.OwnerID != actor.ID {
		return Record{}, ErrForbidden
	}

	date := in.Date
	if date.IsZero() {
		date = s.now()
	}
	rec, err := s.store.UpsertRecord(ctx, Record{
		ID:        uuid.NewString(),
		StudentID: in.StudentID,
		CourseID:  in.CourseID,
		Date:      DateOnly(date),
		Status:    in.Status,
		Note:      in.Note,
		MarkedBy:  actor.ID,
		SessionID: in.SessionID,
	})
	if err != nil {
		return Record{}, storeErr(err)
	}
	metrics.Marks.Inc()
	s.publish(ctx, broadcast.Event{
		Name:      broadcast.AttendanceMarked,
		CourseID:  in.CourseID,
		StudentID: in.StudentID,
	})
	return rec, nil
}

// ListRecords returns a course's records for one calendar day.
func (s *Service) ListRecords(ctx context.Context, courseID string, date time.Time) ([]Record, error) {
	records, err := s.store.ListRecords(ctx, courseID, DateOnly(date))
	if err != nil {
		return nil, storeErr(err)
	}
	return records, nil
}

// publish is fire-and-forget: failures are logged, never retried, and never
// fail the operation that triggered them.
func (s *Service) publish(ctx context.Context, evt broadcast.Event) {
	evt.At = s.now().UTC()
	if err := s.bus.Publish(ctx, evt); err != nil {
		log.Printf("broadcast %s failed: %v", evt.Name, err)
	}
}
