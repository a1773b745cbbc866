package scan

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/voenkogel/Nautilus/internal/log"
	"github.com/voenkogel/Nautilus/internal/model"

	"github.com/google/uuid"
)

var ErrAlreadyRunning = errors.New("scan already running")

// Recorder persists terminal scan outcomes. Implementations are called from
// the supervisor goroutine and must be safe for concurrent use. A nil
// Recorder disables recording.
type Recorder interface {
	Record(ctx context.Context, outcome Outcome) error
}

// Outcome describes one finished scan.
type Outcome struct {
	ID      string
	Cmd     string
	Params  map[string]any
	Status  Status
	Error   string
	Started time.Time
	Stopped time.Time
}

// Service coordinates the single in-flight scan. The zero value is not
// usable, construct it with New.
type Service struct {
	cfg      model.Scan
	recorder Recorder

	mx     sync.Mutex
	done   chan struct{} // non-nil while or after a run, closed when it ends
	cancel *cancelSignal
	params map[string]any

	store progressStore
}

func New(cfg model.Scan, recorder Recorder) *Service {
	return &Service{
		cfg:      cfg,
		recorder: recorder,
		cancel:   newCancelSignal(),
	}
}

// Start launches a new scan in the background and returns immediately.
// It returns ErrAlreadyRunning when the previous scan has not finished yet;
// the running scan's parameters and logs are left untouched in that case.
// Cancellation of ctx does not stop the scan, use Cancel.
func (s *Service) Start(ctx context.Context, params map[string]any) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.done != nil {
		select {
		case <-s.done:
		default:
			return ErrAlreadyRunning
		}
	}

	s.cancel = newCancelSignal()
	s.params = maps.Clone(params)
	s.store.reset()

	id := uuid.NewString()
	done := make(chan struct{})
	s.done = done

	runCtx := log.ContextAttrs(context.WithoutCancel(ctx), slog.String("scan_id", id))
	sig, runParams := s.cancel, s.params
	go func() {
		defer close(done)
		s.run(runCtx, id, sig, runParams)
	}()
	return nil
}

// Cancel asks the running scan to stop. It is idempotent and a no-op when
// nothing runs; termination is cooperative and asynchronous, poll Progress
// for the cancelled status.
func (s *Service) Cancel() {
	s.mx.Lock()
	sig := s.cancel
	s.mx.Unlock()
	sig.Set()
}

// Progress returns a copy of the latest snapshot together with a copy of
// the full log sequence. It never blocks on the running scan.
func (s *Service) Progress() Progress {
	return s.store.snapshot()
}

// Params returns a copy of the parameters of the most recently started scan,
// or an empty map when no scan has ever started.
func (s *Service) Params() map[string]any {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.params == nil {
		return map[string]any{}
	}
	return maps.Clone(s.params)
}

func (s *Service) record(ctx context.Context, o Outcome) {
	if s.recorder == nil {
		return
	}
	// best effort, the progress snapshot is the source of truth
	if err := s.recorder.Record(ctx, o); err != nil {
		slog.ErrorContext(ctx, "recording scan outcome failed", "error", err)
	}
}
