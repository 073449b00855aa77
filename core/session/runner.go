package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/trezcool/mahudhurio/core"
)

var nowFunc = time.Now // mockable

// runner drives the live view of one active session: a cosmetic countdown
// tick, a submission-count poller and the authoritative expiry deadline.
// All of them stop together on any termination path.
type runner struct {
	sess   Session
	repo   Repository
	logger core.Logger

	tick time.Duration
	poll time.Duration

	// onDeadline fires the real timeout termination; the tick never does.
	onDeadline func(sessionID string)

	mu        sync.Mutex
	remaining int
	count     int
	active    bool

	stopOnce sync.Once
	stopCh   chan struct{}
	loops    sync.WaitGroup // tick + poll loops; the deadline loop may be the one calling stop
}

func newRunner(sess Session, repo Repository, logger core.Logger, conf core.SessionConfig, onDeadline func(string)) *runner {
	return &runner{
		sess:       sess,
		repo:       repo,
		logger:     logger,
		tick:       conf.TickInterval,
		poll:       conf.PollInterval,
		onDeadline: onDeadline,
		remaining:  int(sess.Remaining(nowFunc().UTC()) / time.Second),
		active:     true,
		stopCh:     make(chan struct{}),
	}
}

func (r *runner) start() {
	r.loops.Add(2)
	go r.tickLoop()
	go r.pollLoop()
	go r.deadlineLoop()
}

// tickLoop renders the countdown. Strictly for observation: it updates the
// remaining seconds and self-cancels at zero, leaving termination to the
// deadline.
func (r *runner) tickLoop() {
	defer r.loops.Done()
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			remaining := int(r.sess.Remaining(nowFunc().UTC()) / time.Second)
			r.mu.Lock()
			r.remaining = remaining
			r.mu.Unlock()
			if remaining <= 0 {
				return
			}
		case <-r.stopCh:
			return
		}
	}
}

// deadlineLoop holds the one authoritative expiry decision, scheduled once
// for exactly the window length so tick scheduling jitter cannot delay it.
func (r *runner) deadlineLoop() {
	timer := time.NewTimer(r.sess.ExpiresAt.Sub(nowFunc().UTC()))
	defer timer.Stop()

	select {
	case <-timer.C:
		r.onDeadline(r.sess.ID)
	case <-r.stopCh:
	}
}

// pollLoop refreshes the accepted-submission count, starting with one
// immediate read. Failed reads are logged and skipped; only the stop
// signal ends the loop.
func (r *runner) pollLoop() {
	defer r.loops.Done()
	r.refreshCount()

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.refreshCount()
		case <-r.stopCh:
			return
		}
	}
}

func (r *runner) refreshCount() {
	ctx, cancel := context.WithTimeout(context.Background(), r.poll)
	defer cancel()

	count, err := r.repo.CountAcceptedSubmissions(ctx, r.sess.ID)
	if err != nil {
		r.logger.Warn(fmt.Sprintf("session %s: reading submission count", r.sess.ID), err)
		return
	}

	// each read overwrites the previous observation
	r.mu.Lock()
	r.count = count
	r.mu.Unlock()
}

// stop halts the tick and poll loops and waits for them to exit: no store
// read or view update happens once termination is observed.
func (r *runner) stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.loops.Wait()

	r.mu.Lock()
	r.active = false
	r.remaining = 0
	r.mu.Unlock()
}

func (r *runner) status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		SessionID:        r.sess.ID,
		RemainingSeconds: r.remaining,
		SubmissionCount:  r.count,
		IsActive:         r.active,
	}
}
