package scan

import "sync"

// Status of the scan state machine.
type Status string

const (
	StatusStarting  Status = "starting"
	StatusScanning  Status = "scanning"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Terminal reports whether no further updates can follow this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCancelled, StatusCompleted, StatusError:
		return true
	}
	return false
}

// Progress is a point-in-time view of the scan. Which optional fields are
// set depends on Status: Cmd accompanies starting, Output accompanies
// scanning, Error accompanies error. Logs always carries the full log
// sequence captured at snapshot time.
type Progress struct {
	Status Status   `json:"status,omitempty"`
	Cmd    string   `json:"cmd,omitempty"`
	Output string   `json:"output,omitempty"`
	Error  string   `json:"error,omitempty"`
	Logs   []string `json:"logs"`
}

// progressStore holds the latest snapshot and the accumulated logs of the
// current scan. A single mutex guards both, so snapshot returns a mutually
// consistent pair. Writers never hold the lock across I/O.
type progressStore struct {
	mx      sync.Mutex
	current Progress
	logs    []string
}

func (p *progressStore) reset() {
	p.mx.Lock()
	defer p.mx.Unlock()
	p.current = Progress{}
	p.logs = nil
}

func (p *progressStore) appendLog(line string) {
	p.mx.Lock()
	defer p.mx.Unlock()
	p.logs = append(p.logs, line)
}

// publish replaces the current snapshot. Logs are attached on read, not
// here, so the snapshot always reflects the log sequence at read time.
func (p *progressStore) publish(pr Progress) {
	p.mx.Lock()
	defer p.mx.Unlock()
	p.current = pr
}

// snapshot returns a deep copy safe to hand to callers.
func (p *progressStore) snapshot() Progress {
	p.mx.Lock()
	defer p.mx.Unlock()
	out := p.current
	out.Logs = make([]string, len(p.logs))
	copy(out.Logs, p.logs)
	return out
}
