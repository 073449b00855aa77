package dummydb

import (
	"context"
	"time"

	"github.com/trezcool/mahudhurio/core/session"
)

type SessionRepository struct {
	db *sessionTable

	// FailDeactivate makes the next n DeactivateSession calls return
	// session.ErrStoreUnavailable; lets tests exercise the retry path.
	FailDeactivate int
	// FailCount makes the next n CountAcceptedSubmissions calls fail.
	FailCount int
	// Deactivations counts the calls that actually flipped the flag.
	Deactivations int
}

var _ session.Repository = (*SessionRepository)(nil) // interface compliance check

func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db.session}
}

func (repo *SessionRepository) GetActiveSessionByOwner(ctx context.Context, ownerID string) (session.Session, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, sess := range repo.db.table {
		if sess.OwnerID == ownerID && sess.IsActive {
			return *sess, nil
		}
	}
	return session.Session{}, session.ErrNotFound
}

func (repo *SessionRepository) GetSessionByID(ctx context.Context, id string) (session.Session, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if sess, ok := repo.db.table[id]; ok {
		return *sess, nil
	}
	return session.Session{}, session.ErrNotFound
}

// CreateSession honors the conditional-insert contract: the duplicate
// check and the insert happen under one write lock, so a concurrent
// create race from the same owner resolves to a single committed session.
func (repo *SessionRepository) CreateSession(ctx context.Context, sess session.Session) (session.Session, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, existing := range repo.db.table {
		if existing.OwnerID == sess.OwnerID && existing.IsActive {
			return session.Session{}, session.ErrDuplicateActiveSession
		}
	}
	repo.db.table[sess.ID] = &sess
	return sess, nil
}

func (repo *SessionRepository) DeactivateSession(ctx context.Context, id string) (bool, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if repo.FailDeactivate > 0 {
		repo.FailDeactivate--
		return false, session.ErrStoreUnavailable
	}

	sess, ok := repo.db.table[id]
	if !ok || !sess.IsActive {
		return false, nil
	}
	sess.IsActive = false
	repo.Deactivations++
	return true, nil
}

func (repo *SessionRepository) CountAcceptedSubmissions(ctx context.Context, sessionID string) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if repo.FailCount > 0 {
		repo.FailCount--
		return 0, session.ErrStoreUnavailable
	}

	var count int
	for _, sub := range repo.db.submissions[sessionID] {
		if sub.accepted {
			count++
		}
	}
	return count, nil
}

func (repo *SessionRepository) InsertNotificationLog(ctx context.Context, entry session.NotificationLogEntry) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	repo.db.logs = append(repo.db.logs, entry)
	return nil
}

// NotificationLogs exposes the written log entries to tests.
func (repo *SessionRepository) NotificationLogs() []session.NotificationLogEntry {
	repo.db.RLock()
	defer repo.db.RUnlock()

	logs := make([]session.NotificationLogEntry, len(repo.db.logs))
	copy(logs, repo.db.logs)
	return logs
}

// AddSubmission records a presence-proof outcome; the submission pipeline
// itself lives outside this service.
func (repo *SessionRepository) AddSubmission(sessionID, participantID string, accepted bool) {
	repo.db.Lock()
	defer repo.db.Unlock()

	repo.db.submissions[sessionID] = append(repo.db.submissions[sessionID], submission{
		participantID: participantID,
		submittedAt:   time.Now().UTC(),
		accepted:      accepted,
	})
}
