// Package mission implements the Mission Engine (spec.md §4.7): an
// asynchronous executing→verifying→fixing→reviewing→completed/error
// state machine running a lead-plus-workers team against an objective,
// with retry-bounded verification and a 30-minute post-mortem retention
// window. Grounded on internal/orchestrator/queue + executor combined:
// tracked async work carrying a phase and a status, the way the
// teacher's queue entries move through pending/running/done.
package mission

import (
	"sync"
	"time"

	"github.com/kandev/agentorch/internal/bus"
)

// Phase is a mission's current state-machine position.
type Phase string

const (
	PhaseExecuting Phase = "executing"
	PhaseVerifying Phase = "verifying"
	PhaseFixing    Phase = "fixing"
	PhaseReviewing Phase = "reviewing"
	PhaseCompleted Phase = "completed"
	PhaseError     Phase = "error"
)

// DefaultMaxRetries is used when a caller does not specify one.
const DefaultMaxRetries = 2

// Retention is how long a terminal mission's snapshot stays retrievable.
const Retention = 30 * time.Minute

// VerifyDeadline bounds the verification subprocess.
const VerifyDeadline = 10 * time.Minute

// AwaitDefaultPoll and AwaitDefaultTimeout are await_mission's defaults.
const (
	AwaitDefaultPoll    = 3 * time.Second
	AwaitDefaultTimeout = 60 * time.Minute
)

// WorkerResult is one worker's (or the lead's) terminal outcome record.
type WorkerResult struct {
	Status string `json:"status"` // "success" or "error"
	Output string `json:"output"`
}

// VerifyAttempt is one entry in the verification attempt log.
type VerifyAttempt struct {
	Attempt int    `json:"attempt"`
	Passed  bool   `json:"passed"`
	Output  string `json:"output"`
}

// Snapshot is the post-mortem capture taken on terminal entry.
type Snapshot struct {
	Group     []bus.Message  `json:"group"`
	DMs       []bus.Message  `json:"dms"`
	Lead      []bus.Message  `json:"lead"`
	Artifacts []bus.Artifact `json:"artifacts"`
}

// TeamSpec is one agent's configuration for a mission's team, carrying
// the lead flag the engine validates (exactly one per mission).
type TeamSpec struct {
	Role            string
	Specialization  string
	Model           string
	Lead            bool
	ReasoningEffort string
}

// Mission is the full record the engine tracks for one launch.
type Mission struct {
	mu sync.Mutex

	ID         string
	Objective  string
	TeamID     string
	Phase      Phase
	LeadID     string
	WorkerIDs  []string
	Results    map[string]WorkerResult
	VerifyCmd  string
	MaxRetries int
	VerifyLog  []VerifyAttempt
	FinalReport string
	Error      string
	Snapshot   *Snapshot
	TerminalAt time.Time
}

func (m *Mission) setResult(agentID string, r WorkerResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Results[agentID] = r
}

func (m *Mission) setPhase(p Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Phase = p
}

func (m *Mission) appendVerify(a VerifyAttempt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.VerifyLog = append(m.VerifyLog, a)
}

// View is a lock-consistent snapshot of mutable mission fields, used to
// answer mission_status without racing the engine's background goroutine.
type View struct {
	Phase       Phase
	LeadID      string
	WorkerIDs   []string
	Results     map[string]WorkerResult
	VerifyLog   []VerifyAttempt
	FinalReport string
	Error       string
}

func (m *Mission) view() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	results := make(map[string]WorkerResult, len(m.Results))
	for k, v := range m.Results {
		results[k] = v
	}
	return View{
		Phase:       m.Phase,
		LeadID:      m.LeadID,
		WorkerIDs:   append([]string(nil), m.WorkerIDs...),
		Results:     results,
		VerifyLog:   append([]VerifyAttempt(nil), m.VerifyLog...),
		FinalReport: m.FinalReport,
		Error:       m.Error,
	}
}

func (m *Mission) isTerminal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Phase == PhaseCompleted || m.Phase == PhaseError
}
