package scan_test

import (
	"context"
	"os/exec"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/voenkogel/Nautilus/internal/model"
	"github.com/voenkogel/Nautilus/internal/scan"

	"github.com/stretchr/testify/require"
)

// shScan builds a scan config running script through sh. The target lands in
// the script's $0, so scripts can echo the range they were asked to scan.
func shScan(t *testing.T, script string) model.Scan {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	return model.Scan{
		Binary: sh,
		Args:   []string{"-c", script},
		Target: "192.168.1.0/24",
	}
}

// waitStatus polls Progress until the wanted status shows up. It fails fast
// when a different terminal status arrives first.
func waitStatus(t *testing.T, svc *scan.Service, want scan.Status) scan.Progress {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var last scan.Progress
	for time.Now().Before(deadline) {
		last = svc.Progress()
		if last.Status == want {
			return last
		}
		if last.Status.Terminal() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("scan never reached %q, last progress: %+v", want, last)
	return scan.Progress{}
}

// reapDelay gives the fire-and-forget termination path time to collect the
// killed process before goleak inspects the goroutines.
func reapDelay() { time.Sleep(250 * time.Millisecond) }

func TestScanCompleted(t *testing.T) {
	t.Parallel()
	svc := scan.New(shScan(t, `echo "Host is up"; echo "Nmap done"`), nil)
	params := map[string]any{"range": "10.0.0.0/24"}

	require.NoError(t, svc.Start(t.Context(), params))
	p := waitStatus(t, svc, scan.StatusCompleted)

	require.Len(t, p.Logs, 4)
	require.Contains(t, p.Logs[0], "Starting network scan: ")
	require.Contains(t, p.Logs[0], "10.0.0.0/24")
	require.Equal(t, "Host is up", p.Logs[1])
	require.Equal(t, "Nmap done", p.Logs[2])
	require.Equal(t, "Scan completed.", p.Logs[3])
	require.Empty(t, p.Error)

	require.Equal(t, params, svc.Params())
}

func TestScanCancelled(t *testing.T) {
	t.Parallel()
	svc := scan.New(shScan(t, `exec sleep 10`), nil)

	require.NoError(t, svc.Start(t.Context(), nil))
	waitStatus(t, svc, scan.StatusStarting)

	svc.Cancel()
	svc.Cancel() // idempotent
	p := waitStatus(t, svc, scan.StatusCancelled)
	require.Len(t, p.Logs, 2)
	require.Contains(t, p.Logs[0], "Starting network scan: ")
	require.Equal(t, "Scan cancelled.", p.Logs[1])

	// no further writes after the terminal status
	time.Sleep(100 * time.Millisecond)
	again := svc.Progress()
	require.Equal(t, scan.StatusCancelled, again.Status)
	require.Equal(t, p.Logs, again.Logs)

	reapDelay()
}

func TestScanLaunchFailure(t *testing.T) {
	t.Parallel()
	svc := scan.New(model.Scan{
		Binary: "/definitely/not/here/nautilus-scanner",
		Args:   []string{"-sn"},
		Target: "192.168.1.0/24",
	}, nil)
	params := map[string]any{"range": "10.0.0.0/24"}

	require.NoError(t, svc.Start(t.Context(), params))
	p := waitStatus(t, svc, scan.StatusError)
	require.NotEmpty(t, p.Error)
	require.Len(t, p.Logs, 2) // startup line + failure line

	// params survive a failed launch
	require.Equal(t, params, svc.Params())
}

func TestScanRestart(t *testing.T) {
	t.Parallel()
	svc := scan.New(shScan(t, `echo "scanning $0"`), nil)

	require.NoError(t, svc.Start(t.Context(), map[string]any{"range": "10.1.0.0/24"}))
	first := waitStatus(t, svc, scan.StatusCompleted)
	require.Contains(t, first.Logs[1], "10.1.0.0/24")

	// the first run's goroutine may still be winding down for an instant
	// after the terminal status shows up
	second := map[string]any{"range": "10.2.0.0/24"}
	require.Eventually(t, func() bool {
		return svc.Start(context.Background(), second) == nil
	}, time.Second, 5*time.Millisecond)
	p := waitStatus(t, svc, scan.StatusCompleted)

	require.Equal(t, second, svc.Params())
	require.Len(t, p.Logs, 3)
	for _, line := range p.Logs {
		require.NotContains(t, line, "10.1.0.0/24")
	}
	require.Equal(t, "scanning 10.2.0.0/24", p.Logs[1])
}

func TestStartWhileRunning(t *testing.T) {
	t.Parallel()
	svc := scan.New(shScan(t, `exec sleep 10`), nil)
	params := map[string]any{"range": "10.0.0.0/24"}

	require.NoError(t, svc.Start(t.Context(), params))
	waitStatus(t, svc, scan.StatusStarting)

	err := svc.Start(t.Context(), map[string]any{"range": "10.9.9.0/24"})
	require.ErrorIs(t, err, scan.ErrAlreadyRunning)

	// the running scan keeps its parameters and logs
	require.Equal(t, params, svc.Params())
	p := svc.Progress()
	require.Len(t, p.Logs, 1)
	require.Contains(t, p.Logs[0], "10.0.0.0/24")

	svc.Cancel()
	waitStatus(t, svc, scan.StatusCancelled)
	reapDelay()
}

func TestCancelIdle(t *testing.T) {
	t.Parallel()
	svc := scan.New(shScan(t, `echo done`), nil)

	// cancel with nothing running is a no-op
	svc.Cancel()
	svc.Cancel()
	p := svc.Progress()
	require.Empty(t, p.Status)
	require.Empty(t, p.Logs)

	// the stale signal does not leak into the next scan
	require.NoError(t, svc.Start(t.Context(), nil))
	waitStatus(t, svc, scan.StatusCompleted)
}

func TestProgressIsACopy(t *testing.T) {
	t.Parallel()
	svc := scan.New(shScan(t, `echo one`), nil)
	require.NoError(t, svc.Start(t.Context(), map[string]any{"range": "10.0.0.0/24"}))
	waitStatus(t, svc, scan.StatusCompleted)

	p := svc.Progress()
	p.Logs[0] = "mutated"
	p.Status = scan.StatusError
	require.NotEqual(t, p.Logs[0], svc.Progress().Logs[0])
	require.Equal(t, scan.StatusCompleted, svc.Progress().Status)

	params := svc.Params()
	params["range"] = "mutated"
	require.Equal(t, "10.0.0.0/24", svc.Params()["range"])
}

func TestLogOrderUnderConcurrentReads(t *testing.T) {
	t.Parallel()
	const n = 20
	script := `i=0; while [ $i -lt 20 ]; do echo "line $i"; i=$((i+1)); done`
	svc := scan.New(shScan(t, script), nil)

	require.NoError(t, svc.Start(t.Context(), nil))

	// hammer the accessors while the scan runs, the race detector watches
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = svc.Progress()
					_ = svc.Params()
				}
			}
		}()
	}

	p := waitStatus(t, svc, scan.StatusCompleted)
	close(stop)
	wg.Wait()

	require.Len(t, p.Logs, n+2)
	for i := range n {
		require.Equal(t, "line "+strconv.Itoa(i), p.Logs[i+1])
	}
}

type fakeRecorder struct {
	mx       sync.Mutex
	outcomes []scan.Outcome
}

func (r *fakeRecorder) Record(_ context.Context, o scan.Outcome) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.outcomes = append(r.outcomes, o)
	return nil
}

func (r *fakeRecorder) all() []scan.Outcome {
	r.mx.Lock()
	defer r.mx.Unlock()
	return append([]scan.Outcome(nil), r.outcomes...)
}

func TestRecorder(t *testing.T) {
	t.Parallel()
	rec := &fakeRecorder{}
	svc := scan.New(shScan(t, `echo ok`), rec)
	params := map[string]any{"range": "10.0.0.0/24"}

	require.NoError(t, svc.Start(t.Context(), params))
	waitStatus(t, svc, scan.StatusCompleted)

	// the outcome is recorded just after the terminal status is published
	require.Eventually(t, func() bool {
		return len(rec.all()) == 1
	}, time.Second, 5*time.Millisecond)
	outcomes := rec.all()
	o := outcomes[0]
	require.Equal(t, scan.StatusCompleted, o.Status)
	require.NotEmpty(t, o.ID)
	require.Contains(t, o.Cmd, "10.0.0.0/24")
	require.Equal(t, params, o.Params)
	require.Empty(t, o.Error)
	require.False(t, o.Started.IsZero())
	require.False(t, o.Stopped.Before(o.Started))

	// a failed launch records an error outcome with a fresh id
	svc2 := scan.New(model.Scan{Binary: "/no/such/scanner", Target: "10.0.0.0/24"}, rec)
	require.NoError(t, svc2.Start(t.Context(), nil))
	waitStatus(t, svc2, scan.StatusError)

	require.Eventually(t, func() bool {
		return len(rec.all()) == 2
	}, time.Second, 5*time.Millisecond)
	outcomes = rec.all()
	require.Equal(t, scan.StatusError, outcomes[1].Status)
	require.NotEmpty(t, outcomes[1].Error)
	require.NotEqual(t, o.ID, outcomes[1].ID)
}

func TestNonZeroExitIsCompleted(t *testing.T) {
	t.Parallel()
	svc := scan.New(shScan(t, `echo partial; exit 3`), nil)

	require.NoError(t, svc.Start(t.Context(), nil))
	p := waitStatus(t, svc, scan.StatusCompleted)
	require.Equal(t, "partial", p.Logs[1])
	require.Equal(t, "Scan completed.", p.Logs[2])
}
