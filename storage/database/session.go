package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core/session"
)

type sessionRow struct {
	ID             string    `db:"id"`
	OwnerID        string    `db:"owner_id"`
	SubjectGroupID string    `db:"subject_group_id"`
	AnchorLat      float64   `db:"anchor_lat"`
	AnchorLon      float64   `db:"anchor_lon"`
	RadiusMeters   int       `db:"radius_meters"`
	IsActive       bool      `db:"is_active"`
	CreatedAt      time.Time `db:"created_at"`
	ExpiresAt      time.Time `db:"expires_at"`
}

func (r sessionRow) toSession() session.Session {
	return session.Session{
		ID:             r.ID,
		OwnerID:        r.OwnerID,
		SubjectGroupID: r.SubjectGroupID,
		Anchor:         session.Coordinate{Lat: r.AnchorLat, Lon: r.AnchorLon},
		RadiusMeters:   r.RadiusMeters,
		IsActive:       r.IsActive,
		CreatedAt:      r.CreatedAt.UTC(),
		ExpiresAt:      r.ExpiresAt.UTC(),
	}
}

// storeErr classifies a store failure: connection-level errors surface as
// session.ErrStoreUnavailable so callers can treat them as transient,
// anything else is wrapped as permanent.
func storeErr(err error, msg string) error {
	cause := errors.Cause(err)
	if cause == driver.ErrBadConn {
		return session.ErrStoreUnavailable
	}
	if pqErr, ok := cause.(*pq.Error); ok {
		switch pqErr.Code.Class() {
		case "08", "53", "57": // connection failure, insufficient resources, operator intervention
			return session.ErrStoreUnavailable
		}
	}
	return errors.Wrap(err, msg)
}

type sessionRepository struct {
	db *sqlx.DB
}

var _ session.Repository = (*sessionRepository)(nil) // interface compliance check

func NewSessionRepository(db *sqlx.DB) session.Repository {
	return &sessionRepository{db: db}
}

func (repo *sessionRepository) GetActiveSessionByOwner(ctx context.Context, ownerID string) (session.Session, error) {
	var row sessionRow
	err := repo.db.GetContext(ctx, &row,
		`SELECT * FROM attendance_session WHERE owner_id = $1 AND is_active`, ownerID)
	if err != nil {
		if err == sql.ErrNoRows {
			return session.Session{}, session.ErrNotFound
		}
		return session.Session{}, storeErr(err, "querying active session")
	}
	return row.toSession(), nil
}

func (repo *sessionRepository) GetSessionByID(ctx context.Context, id string) (session.Session, error) {
	var row sessionRow
	err := repo.db.GetContext(ctx, &row,
		`SELECT * FROM attendance_session WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return session.Session{}, session.ErrNotFound
		}
		return session.Session{}, storeErr(err, "querying session")
	}
	return row.toSession(), nil
}

// CreateSession inserts iff no active row exists for the owner, so the
// one-active-session-per-owner invariant holds at the storage boundary
// even when two creates race past the coordinator's pre-check. A partial
// unique index on (owner_id) WHERE is_active backs the same guarantee.
func (repo *sessionRepository) CreateSession(ctx context.Context, sess session.Session) (session.Session, error) {
	res, err := repo.db.ExecContext(ctx,
		`INSERT INTO attendance_session
			(id, owner_id, subject_group_id, anchor_lat, anchor_lon, radius_meters, is_active, created_at, expires_at)
		 SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9
		 WHERE NOT EXISTS (SELECT 1 FROM attendance_session WHERE owner_id = $2 AND is_active)`,
		sess.ID, sess.OwnerID, sess.SubjectGroupID,
		sess.Anchor.Lat, sess.Anchor.Lon, sess.RadiusMeters,
		sess.IsActive, sess.CreatedAt, sess.ExpiresAt,
	)
	if err != nil {
		if pqErr, ok := errors.Cause(err).(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return session.Session{}, session.ErrDuplicateActiveSession
		}
		return session.Session{}, storeErr(err, "inserting session")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return session.Session{}, session.ErrDuplicateActiveSession
	}
	return sess, nil
}

// DeactivateSession flips is_active exactly once; the conditional update
// is the linearization point between racing termination paths.
func (repo *sessionRepository) DeactivateSession(ctx context.Context, id string) (bool, error) {
	res, err := repo.db.ExecContext(ctx,
		`UPDATE attendance_session SET is_active = FALSE WHERE id = $1 AND is_active`, id)
	if err != nil {
		return false, storeErr(err, "deactivating session")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr(err, "deactivating session")
	}
	return n > 0, nil
}

func (repo *sessionRepository) CountAcceptedSubmissions(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := repo.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM attendance_submission WHERE session_id = $1 AND accepted`, sessionID)
	if err != nil {
		return 0, storeErr(err, "counting submissions")
	}
	return count, nil
}

func (repo *sessionRepository) InsertNotificationLog(ctx context.Context, entry session.NotificationLogEntry) error {
	_, err := repo.db.ExecContext(ctx,
		`INSERT INTO notification_log
			(session_id, owner_id, subject_group_id, recipient_count, title, body, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.SessionID, entry.OwnerID, entry.SubjectGroupID,
		entry.RecipientCount, entry.Title, entry.Body, entry.SentAt,
	)
	return storeErr(err, "inserting notification log")
}
