// Package state implements the State Store: the team/agent/task data
// model and its lifecycle invariants (agent id uniqueness, task
// prerequisite closure, task status non-regression, remove-agent
// busy checks).
package state

import "time"

// SandboxMode controls how much of the filesystem a downstream agent
// process may touch.
type SandboxMode string

const (
	SandboxReadOnly        SandboxMode = "read-only"
	SandboxWorkspaceWrite  SandboxMode = "workspace-write"
	SandboxDangerFullAccess SandboxMode = "danger-full-access"
)

// ApprovalPolicy controls how often the downstream agent must pause for
// human approval of an action.
type ApprovalPolicy string

const (
	ApprovalUntrusted ApprovalPolicy = "untrusted"
	ApprovalOnRequest ApprovalPolicy = "on-request"
	ApprovalOnFailure ApprovalPolicy = "on-failure"
	ApprovalNever     ApprovalPolicy = "never"
)

// ReasoningEffort is the downstream model's reasoning budget.
type ReasoningEffort string

const (
	ReasoningXHigh  ReasoningEffort = "xhigh"
	ReasoningHigh   ReasoningEffort = "high"
	ReasoningMedium ReasoningEffort = "medium"
	ReasoningLow    ReasoningEffort = "low"
	ReasoningMinimal ReasoningEffort = "minimal"
)

// AgentStatus is the runtime status of an agent.
type AgentStatus string

const (
	AgentIdle    AgentStatus = "idle"
	AgentWorking AgentStatus = "working"
	AgentError   AgentStatus = "error"
)

// TaskStatus is the lifecycle status of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in-progress"
	TaskCompleted  TaskStatus = "completed"
)

const (
	DefaultModel = "gpt-5.3-codex"
)

// AgentConfig is the operator-supplied configuration for a new agent.
// Zero-valued fields are replaced by the defaults in applyDefaults.
type AgentConfig struct {
	Role            string
	Specialization  string
	Model           string
	Sandbox         SandboxMode
	Approval        ApprovalPolicy
	ReasoningEffort ReasoningEffort
	Lead            bool
	WorkingDir      string
	Addendum        string
}

// applyDefaults fills unset fields per spec defaults.
func (c AgentConfig) applyDefaults(inheritedWorkingDir string) AgentConfig {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Sandbox == "" {
		c.Sandbox = SandboxWorkspaceWrite
	}
	if c.Approval == "" {
		c.Approval = ApprovalNever
	}
	if c.ReasoningEffort == "" {
		if c.Lead {
			c.ReasoningEffort = ReasoningXHigh
		} else {
			c.ReasoningEffort = ReasoningHigh
		}
	}
	if c.WorkingDir == "" {
		c.WorkingDir = inheritedWorkingDir
	}
	return c
}

// Agent is a single team member bound to one downstream conversation.
type Agent struct {
	ID              string
	Role            string
	Specialization  string
	Model           string
	Sandbox         SandboxMode
	Approval        ApprovalPolicy
	ReasoningEffort ReasoningEffort
	Lead            bool
	WorkingDir      string
	Addendum        string

	// Runtime fields.
	Continuation string // opaque adapter handle, empty until first call
	Status       AgentStatus
	LastOutput   string
	OwnedTasks   []string // task ids
}

// Task is a unit of work assigned to exactly one agent within a team.
type Task struct {
	ID            string
	TeamID        string
	Description   string
	Status        TaskStatus
	Assignee      string
	Prerequisites []string
	Result        string
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// Team owns a set of agents and tasks exclusively.
type Team struct {
	ID        string
	Name      string
	CreatedAt time.Time
	Agents    map[string]*Agent
	Tasks     map[string]*Task
}
