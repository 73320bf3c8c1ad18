package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/tara/internal/conversation"
	"github.com/MrWong99/tara/internal/journal"
)

var (
	// ErrSessionActive is returned by [SessionManager.Start] while a worker
	// is already running.
	ErrSessionActive = errors.New("app: a session is already active")

	// ErrNoSession is returned by [SessionManager.Stop] when no worker is
	// running.
	ErrNoSession = errors.New("app: no active session")
)

// Runner runs one conversation. [*conversation.Controller] implements it.
type Runner interface {
	Run(ctx context.Context) (conversation.Outcome, error)
	State() conversation.State
}

// SessionInfo holds metadata about the current or last session.
type SessionInfo struct {
	// SessionID identifies the session in logs.
	SessionID string `json:"session_id"`

	// StartedAt is when the worker was started.
	StartedAt time.Time `json:"started_at"`

	// Conversations counts conversations that ended during this session.
	Conversations int `json:"conversations"`

	// LastOutcome is how the most recent conversation ended.
	LastOutcome string `json:"last_outcome,omitempty"`
}

// SessionManager owns the single conversation worker. Start launches it,
// Stop cancels it and waits for it to exit. All exported methods are safe for
// concurrent use.
type SessionManager struct {
	runner  Runner
	restart bool
	journal journal.Journal

	mu     sync.Mutex
	active bool
	info   SessionInfo
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// SessionManagerConfig holds the dependencies of a [SessionManager].
type SessionManagerConfig struct {
	// Runner runs each conversation.
	Runner Runner

	// RestartOnEnd starts a new conversation, waiting for the trigger phrase
	// again, whenever one ends. When false the worker exits after the first.
	RestartOnEnd bool

	// Journal, if non-nil, receives one record per finished conversation.
	Journal journal.Journal
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	done := make(chan struct{})
	close(done)
	return &SessionManager{
		runner:  cfg.Runner,
		restart: cfg.RestartOnEnd,
		journal: cfg.Journal,
		done:    done,
	}
}

// Start launches the worker. The worker stops when ctx is cancelled, when
// [SessionManager.Stop] is called, on a device failure, or after the first
// conversation when restarts are disabled.
//
// Returns [ErrSessionActive] if a worker is already running.
func (sm *SessionManager) Start(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.active {
		return fmt.Errorf("%w (id=%s)", ErrSessionActive, sm.info.SessionID)
	}

	now := time.Now().UTC()
	runCtx, cancel := context.WithCancel(ctx)
	sm.active = true
	sm.cancel = cancel
	sm.done = make(chan struct{})
	sm.err = nil
	sm.info = SessionInfo{
		SessionID: "session-" + now.Format("20060102T150405Z"),
		StartedAt: now,
	}

	slog.Info("session started", "session_id", sm.info.SessionID, "restart_on_end", sm.restart)
	go sm.work(runCtx, sm.info.SessionID, sm.done)
	return nil
}

func (sm *SessionManager) work(ctx context.Context, id string, done chan struct{}) {
	var err error
	defer func() {
		sm.mu.Lock()
		sm.active = false
		sm.err = err
		if sm.cancel != nil {
			sm.cancel()
			sm.cancel = nil
		}
		sm.mu.Unlock()
		close(done)
		slog.Info("session ended", "session_id", id, "err", err)
	}()

	for {
		var outcome conversation.Outcome
		started := time.Now()
		outcome, err = sm.runner.Run(ctx)

		sm.mu.Lock()
		sm.info.Conversations++
		sm.info.LastOutcome = outcome.String()
		sm.mu.Unlock()
		sm.record(id, outcome, time.Since(started), err)

		switch {
		case err != nil:
			slog.Error("conversation failed", "session_id", id, "outcome", outcome, "err", err)
			return
		case outcome == conversation.OutcomeStopped, ctx.Err() != nil:
			return
		case !sm.restart:
			return
		}
		slog.Info("conversation ended; waiting for the trigger phrase again", "session_id", id, "outcome", outcome)
	}
}

func (sm *SessionManager) record(id string, outcome conversation.Outcome, d time.Duration, runErr error) {
	if sm.journal == nil {
		return
	}
	r := journal.Record{SessionID: id, Outcome: outcome.String(), Duration: d}
	if runErr != nil {
		r.Error = runErr.Error()
	}
	if err := sm.journal.Append(r); err != nil {
		slog.Warn("journal append failed", "session_id", id, "err", err)
	}
}

// Stop cancels the worker and waits for it to exit or for ctx to expire. A
// dialogue request in flight completes before the worker notices.
//
// Returns [ErrNoSession] if no worker is running.
func (sm *SessionManager) Stop(ctx context.Context) error {
	sm.mu.Lock()
	if !sm.active {
		sm.mu.Unlock()
		return ErrNoSession
	}
	cancel, done, id := sm.cancel, sm.done, sm.info.SessionID
	sm.mu.Unlock()

	slog.Info("stopping session", "session_id", id)
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("app: stop session %s: %w", id, ctx.Err())
	}
}

// Done is closed when the current worker exits. Before the first Start it
// is already closed.
func (sm *SessionManager) Done() <-chan struct{} {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.done
}

// Err returns the error the last worker exited with. Only a device failure
// produces one.
func (sm *SessionManager) Err() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.err
}

// IsActive reports whether the worker is running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active
}

// Info returns metadata about the current or last session.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.info
}

// State returns the conversation state of the running worker.
func (sm *SessionManager) State() conversation.State {
	return sm.runner.State()
}
