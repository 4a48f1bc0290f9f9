package capture

import (
	"sync"
	"time"

	"qhy5-indi/pkg/types"
)

// Status is the shared view of the running tool, read by the status API.
type Status struct {
	lock sync.RWMutex

	camera   string
	mode     string
	started  time.Time
	runs     int
	failures int
	last     *types.Result
	lastErr  string
}

type Snapshot struct {
	Camera    string        `json:"camera"`
	Mode      string        `json:"mode"`
	Started   time.Time     `json:"started"`
	Runs      int           `json:"runs"`
	Failures  int           `json:"failures"`
	Last      *types.Result `json:"last,omitempty"`
	LastError string        `json:"lastError,omitempty"`
}

func NewStatus(camera, mode string) *Status {
	return &Status{
		camera:  camera,
		mode:    mode,
		started: time.Now(),
	}
}

func (s *Status) Set(r *types.Result) {
	s.lock.Lock()
	defer s.lock.Unlock()
	cp := *r
	s.last = &cp
	s.runs++
	s.lastErr = ""
}

func (s *Status) Fail(err error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.failures++
	s.lastErr = err.Error()
}

func (s *Status) Snapshot() Snapshot {
	s.lock.RLock()
	defer s.lock.RUnlock()
	snap := Snapshot{
		Camera:    s.camera,
		Mode:      s.mode,
		Started:   s.started,
		Runs:      s.runs,
		Failures:  s.failures,
		LastError: s.lastErr,
	}
	if s.last != nil {
		cp := *s.last
		snap.Last = &cp
	}
	return snap
}
