package session

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	// errors
	ErrNotFound               = errors.New("session not found")
	ErrDuplicateActiveSession = errors.New("an active session already exists for this instructor")
	ErrLocationDenied         = errors.New("location permission denied")
	ErrLocationUnavailable    = errors.New("location unavailable")
	ErrStoreUnavailable       = errors.New("session store unavailable")
	ErrSubjectGroupNotFound   = errors.New("subject group not found")
)

// TerminationReason says which path closed a session.
type TerminationReason string

const (
	ReasonTimeout TerminationReason = "timeout"
	ReasonManual  TerminationReason = "manual"
)

type Coordinate struct {
	Lat float64 `json:"lat" validate:"latitude"`
	Lon float64 `json:"lon" validate:"longitude"`
}

// Session is one attendance window. At most one active Session exists per
// owner at any time; IsActive flips true→false exactly once and rows are
// never deleted (the store keeps them for audit).
type Session struct {
	ID             string     `json:"id"`
	OwnerID        string     `json:"owner_id"`
	SubjectGroupID string     `json:"subject_group_id"`
	Anchor         Coordinate `json:"anchor"`
	RadiusMeters   int        `json:"radius_meters"`
	IsActive       bool       `json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"` // UTC
	ExpiresAt      time.Time  `json:"expires_at"` // UTC
}

// Remaining returns the time left in the window at `now`, floored at zero.
func (s Session) Remaining(now time.Time) time.Duration {
	if d := s.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// SubjectGroup is the directory's view of a class the owner teaches.
type SubjectGroup struct {
	ID          string `json:"id"`
	SubjectName string `json:"subject_name"`
	GroupName   string `json:"group_name"`
	Semester    int    `json:"semester"`
}

// Recipient is an enrolled participant with a resolvable push address.
type Recipient struct {
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	PushToken string `json:"push_token"`
}

// NotificationLogEntry is the one best-effort log row written per session
// fan-out. Failure to write it never fails session creation.
type NotificationLogEntry struct {
	SessionID      string    `json:"session_id"`
	OwnerID        string    `json:"owner_id"`
	SubjectGroupID string    `json:"subject_group_id"`
	RecipientCount int       `json:"recipient_count"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	SentAt         time.Time `json:"sent_at"` // UTC
}

// Status is the live (or reconciled) view of a session.
type Status struct {
	SessionID        string `json:"session_id"`
	RemainingSeconds int    `json:"remaining_seconds"`
	SubmissionCount  int    `json:"submission_count"`
	IsActive         bool   `json:"is_active"`
}

// NewSession contains information needed to open an attendance session.
type NewSession struct {
	OwnerID        string `json:"-"`
	SubjectGroupID string `json:"subject_group_id" validate:"required,uuid4"`
}

func (ns *NewSession) Validate(validate *validator.Validate) error {
	return validate.Struct(ns)
}

// Locator captures the instructor's coordinate anchoring the geofence.
// A single best-effort read bounded by ctx; the caller decides on retries.
type Locator interface {
	Capture(ctx context.Context) (Coordinate, error)
}

// LocatorFunc adapts a function to the Locator interface.
type LocatorFunc func(ctx context.Context) (Coordinate, error)

func (f LocatorFunc) Capture(ctx context.Context) (Coordinate, error) { return f(ctx) }

// DeviceCoordinate returns a Locator serving a coordinate already captured
// on the instructor's device (the API hands it in with the create request).
func DeviceCoordinate(c Coordinate) Locator {
	return LocatorFunc(func(ctx context.Context) (Coordinate, error) {
		if err := ctx.Err(); err != nil {
			return Coordinate{}, ErrLocationUnavailable
		}
		return c, nil
	})
}
