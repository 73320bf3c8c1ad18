package app_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/tara/internal/app"
	"github.com/MrWong99/tara/internal/conversation"
	"github.com/MrWong99/tara/internal/journal"
)

// fakeRunner returns scripted outcomes. Once the script is exhausted, Run
// blocks until ctx is cancelled and reports OutcomeStopped.
type fakeRunner struct {
	mu       sync.Mutex
	outcomes []conversation.Outcome
	errs     []error
	calls    int
}

func (f *fakeRunner) Run(ctx context.Context) (conversation.Outcome, error) {
	f.mu.Lock()
	i := f.calls
	f.calls++
	f.mu.Unlock()

	if i < len(f.outcomes) {
		var err error
		if i < len(f.errs) {
			err = f.errs[i]
		}
		return f.outcomes[i], err
	}
	<-ctx.Done()
	return conversation.OutcomeStopped, nil
}

func (f *fakeRunner) State() conversation.State { return conversation.StateDormant }

func (f *fakeRunner) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func waitDone(t *testing.T, sm *app.SessionManager) {
	t.Helper()
	select {
	case <-sm.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit")
	}
}

func TestSessionManager_StartStop(t *testing.T) {
	t.Parallel()

	sm := app.NewSessionManager(app.SessionManagerConfig{Runner: &fakeRunner{}, RestartOnEnd: true})

	ctx := context.Background()
	if err := sm.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if !sm.IsActive() {
		t.Fatal("expected session to be active after Start")
	}

	info := sm.Info()
	if !strings.HasPrefix(info.SessionID, "session-") {
		t.Errorf("SessionID = %q, want prefix %q", info.SessionID, "session-")
	}
	if info.StartedAt.IsZero() {
		t.Error("StartedAt should be set")
	}

	if err := sm.Stop(ctx); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if sm.IsActive() {
		t.Fatal("expected session to be inactive after Stop")
	}
	if err := sm.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
	if got := sm.Info().LastOutcome; got != "stopped" {
		t.Errorf("LastOutcome = %q, want %q", got, "stopped")
	}
}

func TestSessionManager_DoubleStart(t *testing.T) {
	t.Parallel()

	sm := app.NewSessionManager(app.SessionManagerConfig{Runner: &fakeRunner{}})
	ctx := context.Background()
	if err := sm.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { _ = sm.Stop(ctx) })

	err := sm.Start(ctx)
	if !errors.Is(err, app.ErrSessionActive) {
		t.Fatalf("second Start() = %v, want ErrSessionActive", err)
	}
}

func TestSessionManager_StopWithoutStart(t *testing.T) {
	t.Parallel()

	sm := app.NewSessionManager(app.SessionManagerConfig{Runner: &fakeRunner{}})
	if err := sm.Stop(context.Background()); !errors.Is(err, app.ErrNoSession) {
		t.Fatalf("Stop() = %v, want ErrNoSession", err)
	}

	// Done is closed before the first Start.
	select {
	case <-sm.Done():
	default:
		t.Fatal("Done() should be closed before Start")
	}
}

func TestSessionManager_RestartsAfterConversationEnds(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{outcomes: []conversation.Outcome{
		conversation.OutcomeTerminated,
		conversation.OutcomeTurnLimit,
	}}
	sm := app.NewSessionManager(app.SessionManagerConfig{Runner: runner, RestartOnEnd: true})

	ctx := context.Background()
	if err := sm.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	// Two scripted conversations, then the third blocks.
	deadline := time.Now().Add(2 * time.Second)
	for runner.Calls() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("Run calls = %d, want 3", runner.Calls())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !sm.IsActive() {
		t.Fatal("worker should still be running")
	}
	if got := sm.Info().Conversations; got != 2 {
		t.Errorf("Conversations = %d, want 2", got)
	}

	if err := sm.Stop(ctx); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if got := sm.Info().Conversations; got != 3 {
		t.Errorf("Conversations after stop = %d, want 3", got)
	}
}

func TestSessionManager_NoRestartExitsAfterFirst(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{outcomes: []conversation.Outcome{
		conversation.OutcomeTerminated,
		conversation.OutcomeTerminated,
	}}
	sm := app.NewSessionManager(app.SessionManagerConfig{Runner: runner})
	if err := sm.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitDone(t, sm)

	if runner.Calls() != 1 {
		t.Errorf("Run calls = %d, want 1", runner.Calls())
	}
	if sm.IsActive() {
		t.Error("worker should have exited")
	}
	if got := sm.Info().LastOutcome; got != "terminated" {
		t.Errorf("LastOutcome = %q, want %q", got, "terminated")
	}
}

func TestSessionManager_DeviceFailureStopsWorker(t *testing.T) {
	t.Parallel()

	errMic := errors.New("microphone unplugged")
	runner := &fakeRunner{
		outcomes: []conversation.Outcome{conversation.OutcomeDeviceFailure},
		errs:     []error{errMic},
	}
	sm := app.NewSessionManager(app.SessionManagerConfig{Runner: runner, RestartOnEnd: true})
	if err := sm.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitDone(t, sm)

	if !errors.Is(sm.Err(), errMic) {
		t.Errorf("Err() = %v, want %v", sm.Err(), errMic)
	}
	if runner.Calls() != 1 {
		t.Errorf("Run calls = %d, want 1 (no restart after a device failure)", runner.Calls())
	}
}

func TestSessionManager_ParentCancelStopsWorker(t *testing.T) {
	t.Parallel()

	sm := app.NewSessionManager(app.SessionManagerConfig{Runner: &fakeRunner{}, RestartOnEnd: true})
	ctx, cancel := context.WithCancel(context.Background())
	if err := sm.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	cancel()
	waitDone(t, sm)

	if sm.IsActive() {
		t.Error("worker should have exited")
	}
}

func TestSessionManager_StopRespectsDeadline(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	sm := app.NewSessionManager(app.SessionManagerConfig{Runner: stubbornRunner{block}})
	if err := sm.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := sm.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop() = %v, want DeadlineExceeded", err)
	}
}

// stubbornRunner ignores cancellation until block is closed.
type stubbornRunner struct{ block chan struct{} }

func (s stubbornRunner) Run(context.Context) (conversation.Outcome, error) {
	<-s.block
	return conversation.OutcomeStopped, nil
}

func (stubbornRunner) State() conversation.State { return conversation.StateActive }

func TestSessionManager_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	sm := app.NewSessionManager(app.SessionManagerConfig{Runner: &fakeRunner{}})
	ctx := context.Background()
	if err := sm.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() {
			_ = sm.IsActive()
			_ = sm.Info()
			_ = sm.State()
			_ = sm.Err()
		})
	}
	wg.Wait()

	if err := sm.Stop(ctx); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
}

func TestSessionManager_JournalsEachConversation(t *testing.T) {
	t.Parallel()

	errMic := errors.New("microphone unplugged")
	runner := &fakeRunner{
		outcomes: []conversation.Outcome{conversation.OutcomeTerminated, conversation.OutcomeDeviceFailure},
		errs:     []error{nil, errMic},
	}
	store := journal.NewFileStore(filepath.Join(t.TempDir(), "journal.jsonl"))
	sm := app.NewSessionManager(app.SessionManagerConfig{Runner: runner, RestartOnEnd: true, Journal: store})
	if err := sm.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitDone(t, sm)

	records, err := store.Records()
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("journal records = %d, want 2", len(records))
	}
	id := sm.Info().SessionID
	if records[0].SessionID != id || records[0].Outcome != "terminated" || records[0].Error != "" {
		t.Errorf("first record = %+v", records[0])
	}
	if records[1].Outcome != "device_failure" || records[1].Error != errMic.Error() {
		t.Errorf("second record = %+v", records[1])
	}
}
