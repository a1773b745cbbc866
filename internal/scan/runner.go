package scan

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/netip"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/voenkogel/Nautilus/internal/model"
)

// run supervises one scan from launch to a terminal status. Every exit path
// publishes exactly one terminal snapshot.
func (s *Service) run(ctx context.Context, id string, sig *cancelSignal, params map[string]any) {
	started := time.Now().UTC()
	path, args := buildCommand(s.cfg, params)
	cmdLine := strings.Join(append([]string{path}, args...), " ")

	finish := func(status Status, errMsg string) {
		s.record(ctx, Outcome{
			ID:      id,
			Cmd:     cmdLine,
			Params:  params,
			Status:  status,
			Error:   errMsg,
			Started: started,
			Stopped: time.Now().UTC(),
		})
	}

	s.store.appendLog("Starting network scan: " + cmdLine)
	s.store.publish(Progress{Status: StatusStarting, Cmd: cmdLine})
	slog.InfoContext(ctx, "starting network scan", "cmd", cmdLine)

	fail := func(err error) {
		s.store.appendLog("Scan error: " + err.Error())
		s.store.publish(Progress{Status: StatusError, Error: err.Error()})
		slog.ErrorContext(ctx, "scan failed", "error", err)
		finish(StatusError, err.Error())
	}

	cmd := exec.Command(path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		fail(err)
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		fail(err)
		return
	}

	if err := cmd.Start(); err != nil {
		s.store.appendLog("Failed to start " + path + ": " + err.Error())
		s.store.publish(Progress{Status: StatusError, Error: err.Error()})
		slog.ErrorContext(ctx, "launching scan failed", "error", err)
		finish(StatusError, err.Error())
		return
	}

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		streamStderr(ctx, stderr)
	}()

	// The reader goroutine turns the blocking pipe into a channel, so the
	// loop below can observe cancellation even while no output arrives.
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		readErr <- scanner.Err()
		close(lines)
	}()

	cancelled := func() {
		// fire and forget: ask the OS to stop the process, then reap it
		// in the background without blocking the cancelled report
		_ = cmd.Process.Signal(syscall.SIGTERM)
		go func() {
			for range lines {
			}
			<-stderrDone
			_ = cmd.Wait()
		}()
		s.store.appendLog("Scan cancelled.")
		s.store.publish(Progress{Status: StatusCancelled})
		slog.InfoContext(ctx, "scan cancelled")
		finish(StatusCancelled, "")
	}

loop:
	for {
		// checked before every read, a set signal wins over pending output
		if sig.IsSet() {
			cancelled()
			return
		}
		select {
		case <-sig.Done():
			cancelled()
			return
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			s.store.appendLog(line)
			s.store.publish(Progress{Status: StatusScanning, Output: line})
			slog.InfoContext(ctx, "scan output", "line", line)
		}
	}

	if err := <-readErr; err != nil {
		go func() {
			<-stderrDone
			_ = cmd.Wait() // reap, the scan already failed
		}()
		fail(err)
		return
	}

	<-stderrDone // both pipes must be drained before Wait
	err = cmd.Wait()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		fail(err)
		return
	}
	if exitErr != nil {
		// a non-zero exit still counts as completed, nmap uses it for
		// conditions the raw output already describes
		slog.WarnContext(ctx, "scanner exited non-zero", "code", exitErr.ExitCode())
	}

	s.store.appendLog("Scan completed.")
	s.store.publish(Progress{Status: StatusCompleted})
	slog.InfoContext(ctx, "scan completed")
	finish(StatusCompleted, "")
}

func streamStderr(ctx context.Context, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		slog.WarnContext(ctx, "scanner stderr", "line", scanner.Text())
	}
	err := scanner.Err()
	if err != nil && !errors.Is(err, io.EOF) {
		slog.ErrorContext(ctx, "processing stderr", "error", err)
	}
}

// buildCommand merges caller parameters into the configured invocation.
// Malformed overrides are ignored, the configured values win.
func buildCommand(cfg model.Scan, params map[string]any) (string, []string) {
	args := append([]string(nil), cfg.Args...)

	if n, ok := intensity(params["intensity"]); ok {
		args = deleteTiming(args)
		args = append(args, "-T"+strconv.Itoa(n))
	}

	target := cfg.Target
	if v, ok := params["range"].(string); ok && validTarget(v) {
		target = v
	}
	return cfg.Binary, append(args, target)
}

func deleteTiming(args []string) []string {
	out := args[:0]
	for _, a := range args {
		if strings.HasPrefix(a, "-T") {
			continue
		}
		out = append(out, a)
	}
	return out
}

// validTarget accepts a CIDR prefix or a single address.
func validTarget(s string) bool {
	if _, err := netip.ParsePrefix(s); err == nil {
		return true
	}
	if _, err := netip.ParseAddr(s); err == nil {
		return true
	}
	return false
}

// intensity accepts 0..5, as int, JSON number or string.
func intensity(v any) (int, bool) {
	var n int
	switch x := v.(type) {
	case int:
		n = x
	case float64:
		n = int(x)
	case string:
		i, err := strconv.Atoi(x)
		if err != nil {
			return 0, false
		}
		n = i
	default:
		return 0, false
	}
	if n < 0 || n > 5 {
		return 0, false
	}
	return n, true
}
