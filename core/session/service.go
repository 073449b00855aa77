package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
)

type (
	// Repository is the session store surface. CreateSession must enforce
	// the one-active-session-per-owner invariant at the storage boundary
	// (insert iff no active row for the owner exists) and DeactivateSession
	// must be a conditional update (set inactive iff still active) so a
	// race between timeout and manual termination resolves to exactly one
	// winner.
	Repository interface {
		GetActiveSessionByOwner(ctx context.Context, ownerID string) (Session, error)
		GetSessionByID(ctx context.Context, id string) (Session, error)
		CreateSession(ctx context.Context, sess Session) (Session, error)
		// DeactivateSession reports whether this call flipped the flag.
		DeactivateSession(ctx context.Context, id string) (bool, error)
		CountAcceptedSubmissions(ctx context.Context, sessionID string) (int, error)
		InsertNotificationLog(ctx context.Context, entry NotificationLogEntry) error
	}

	// Directory is the slice of the directory store this engine consumes.
	Directory interface {
		GetSubjectGroup(ctx context.Context, id string) (SubjectGroup, error)
		ListSubjectGroupsByOwner(ctx context.Context, ownerID string) ([]SubjectGroup, error)
		// ListRecipients returns enrolled, active participants; push
		// addresses may still be absent or malformed and are filtered by
		// the dispatcher.
		ListRecipients(ctx context.Context, subjectGroupID string) ([]Recipient, error)
	}

	ServiceInterface interface {
		Start(ctx context.Context, ns NewSession, loc Locator) (*Handle, error)
		Resume(ctx context.Context, sessionID string) (*Handle, error)
		Terminate(ctx context.Context, sessionID string, reason TerminationReason) error
		Status(ctx context.Context, sessionID string) (Status, error)
		Get(ctx context.Context, sessionID string) (Session, error)
		ActiveForOwner(ctx context.Context, ownerID string) (Session, error)
		SubjectGroups(ctx context.Context, ownerID string) ([]SubjectGroup, error)
		Shutdown()
	}

	service struct {
		repo   Repository
		dir    Directory
		disp   *dispatcher
		logger core.Logger
		conf   core.SessionConfig

		mu      sync.Mutex
		runners map[string]*runner
	}
)

var _ ServiceInterface = (*service)(nil)

func NewService(repo Repository, dir Directory, gateway core.PushGateway, logger core.Logger, conf *core.Config) ServiceInterface {
	return &service{
		repo:    repo,
		dir:     dir,
		disp:    newDispatcher(gateway, conf.Push.BatchSize, logger),
		logger:  logger,
		conf:    conf.Session,
		runners: make(map[string]*runner),
	}
}

// Handle is the live view handed to the creator of a session.
type Handle struct {
	Session Session
	Report  core.DeliveryReport

	r *runner
}

func (h *Handle) Status() Status { return h.r.status() }

// Start opens an attendance window: duplicate-active check, geofence
// anchor capture, conditional insert, participant fan-out, then the live
// countdown/poller. Nothing is committed before the insert, so any failure
// up to there rolls back nothing; everything after it is non-fatal.
func (svc *service) Start(ctx context.Context, ns NewSession, loc Locator) (*Handle, error) {
	if _, err := svc.repo.GetActiveSessionByOwner(ctx, ns.OwnerID); err == nil {
		return nil, ErrDuplicateActiveSession
	} else if errors.Cause(err) != ErrNotFound {
		return nil, errors.Wrap(err, "checking active session")
	}

	grp, err := svc.dir.GetSubjectGroup(ctx, ns.SubjectGroupID)
	if err != nil {
		if errors.Cause(err) == ErrSubjectGroupNotFound {
			return nil, err
		}
		return nil, errors.Wrap(err, "resolving subject group")
	}

	coord, err := loc.Capture(ctx)
	if err != nil {
		switch errors.Cause(err) {
		case ErrLocationDenied, ErrLocationUnavailable:
			return nil, err
		default:
			return nil, ErrLocationUnavailable
		}
	}

	now := nowFunc().UTC()
	sess := Session{
		ID:             uuid.New().String(),
		OwnerID:        ns.OwnerID,
		SubjectGroupID: ns.SubjectGroupID,
		Anchor:         coord,
		RadiusMeters:   svc.conf.ToleranceRadiusMeters,
		IsActive:       true,
		CreatedAt:      now,
		ExpiresAt:      now.Add(svc.conf.WindowLength),
	}

	// sole state mutation of the creation path; the store rejects the
	// insert if another active session won a concurrent race.
	sess, err = svc.repo.CreateSession(ctx, sess)
	if err != nil {
		if errors.Cause(err) == ErrDuplicateActiveSession {
			return nil, err
		}
		return nil, errors.Wrap(err, "creating session")
	}

	report := svc.notify(ctx, sess, grp)
	r := svc.startRunner(sess)

	return &Handle{Session: sess, Report: report, r: r}, nil
}

// notify resolves the recipients and fans the alert out. Best-effort from
// top to bottom: the session stays valid even if zero notifications land.
func (svc *service) notify(ctx context.Context, sess Session, grp SubjectGroup) core.DeliveryReport {
	recipients, err := svc.dir.ListRecipients(ctx, sess.SubjectGroupID)
	if err != nil {
		svc.logger.Warn(fmt.Sprintf("session %s: resolving recipients", sess.ID), err)
		recipients = nil
	}

	title := "Attendance open: " + grp.SubjectName
	body := fmt.Sprintf("Mark attendance for %s. Session will end in %s.", grp.GroupName, formatWindow(svc.conf.WindowLength))

	report := svc.disp.send(ctx, recipients, title, body)
	if report.HasFailures() {
		svc.logger.Warn(fmt.Sprintf("session %s: %d of %d push batches failed", sess.ID, report.Failed, report.Attempted))
	}

	if report.Recipients > 0 {
		entry := NotificationLogEntry{
			SessionID:      sess.ID,
			OwnerID:        sess.OwnerID,
			SubjectGroupID: sess.SubjectGroupID,
			RecipientCount: report.Recipients,
			Title:          title,
			Body:           body,
			SentAt:         nowFunc().UTC(),
		}
		if err := svc.repo.InsertNotificationLog(ctx, entry); err != nil {
			svc.logger.Warn(fmt.Sprintf("session %s: logging notification", sess.ID), err)
		}
	}
	return report
}

// Resume rebinds a live runner to a still-active stored session, e.g.
// after a crash between the insert and the runner start. An inactive or
// unknown id resumes nothing.
func (svc *service) Resume(ctx context.Context, sessionID string) (*Handle, error) {
	sess, err := svc.repo.GetSessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsActive {
		return nil, ErrNotFound
	}
	if sess.Remaining(nowFunc().UTC()) == 0 {
		// the window lapsed while nothing was driving it
		if err := svc.Terminate(ctx, sessionID, ReasonTimeout); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}

	svc.mu.Lock()
	if r, ok := svc.runners[sessionID]; ok {
		svc.mu.Unlock()
		return &Handle{Session: sess, r: r}, nil
	}
	svc.mu.Unlock()

	return &Handle{Session: sess, r: svc.startRunner(sess)}, nil
}

// Terminate closes a session. Idempotent: the conditional store update is
// the linearization point, so whichever of the timeout callback and a
// manual call lands first is authoritative and the other sees the no-op
// branch. The live runner is stopped before the store write, so no tick or
// poll fires once termination is observed.
func (svc *service) Terminate(ctx context.Context, sessionID string, reason TerminationReason) error {
	svc.mu.Lock()
	r, ok := svc.runners[sessionID]
	if ok {
		delete(svc.runners, sessionID)
	}
	svc.mu.Unlock()
	if ok {
		r.stop()
	}

	flipped, err := svc.repo.DeactivateSession(ctx, sessionID)
	if err != nil {
		// transient store failures get one retry on this path only
		if flipped, err = svc.repo.DeactivateSession(ctx, sessionID); err != nil {
			svc.logger.Warn(fmt.Sprintf("session %s (%s): store update failed, reconciled on next read", sessionID, reason), err)
			return nil
		}
	}
	if flipped {
		svc.logger.Info(fmt.Sprintf("session %s closed (%s)", sessionID, reason))
	}
	return nil
}

// Status never mutates. With a live runner it returns the in-memory view;
// otherwise it reconciles from the store.
func (svc *service) Status(ctx context.Context, sessionID string) (Status, error) {
	svc.mu.Lock()
	r := svc.runners[sessionID]
	svc.mu.Unlock()
	if r != nil {
		return r.status(), nil
	}

	sess, err := svc.repo.GetSessionByID(ctx, sessionID)
	if err != nil {
		return Status{}, err
	}
	count, err := svc.repo.CountAcceptedSubmissions(ctx, sessionID)
	if err != nil {
		return Status{}, errors.Wrap(err, "counting submissions")
	}

	remaining := 0
	if sess.IsActive {
		remaining = int(sess.Remaining(nowFunc().UTC()) / time.Second)
	}
	return Status{
		SessionID:        sess.ID,
		RemainingSeconds: remaining,
		SubmissionCount:  count,
		IsActive:         sess.IsActive,
	}, nil
}

func (svc *service) Get(ctx context.Context, sessionID string) (Session, error) {
	return svc.repo.GetSessionByID(ctx, sessionID)
}

func (svc *service) ActiveForOwner(ctx context.Context, ownerID string) (Session, error) {
	return svc.repo.GetActiveSessionByOwner(ctx, ownerID)
}

func (svc *service) SubjectGroups(ctx context.Context, ownerID string) ([]SubjectGroup, error) {
	return svc.dir.ListSubjectGroupsByOwner(ctx, ownerID)
}

// Shutdown stops all live runners without touching the store; still-active
// sessions stay active and are re-attachable with Resume.
func (svc *service) Shutdown() {
	svc.mu.Lock()
	runners := make([]*runner, 0, len(svc.runners))
	for id, r := range svc.runners {
		runners = append(runners, r)
		delete(svc.runners, id)
	}
	svc.mu.Unlock()

	for _, r := range runners {
		r.stop()
	}
}

func (svc *service) startRunner(sess Session) *runner {
	r := newRunner(sess, svc.repo, svc.logger, svc.conf, func(id string) {
		_ = svc.Terminate(context.Background(), id, ReasonTimeout)
	})
	svc.mu.Lock()
	svc.runners[sess.ID] = r
	svc.mu.Unlock()
	r.start()
	return r
}

func formatWindow(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		m := int(d / time.Minute)
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	}
	return d.String()
}
