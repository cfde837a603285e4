package operator

import (
	"github.com/kandev/agentorch/internal/mission"
	"github.com/kandev/agentorch/internal/state"
)

// agentConfigArg is the wire shape for an agent configuration, mapped
// onto state.AgentConfig after thin validation.
type agentConfigArg struct {
	Role            string `json:"role"`
	Specialization  string `json:"specialization"`
	Model           string `json:"model"`
	Sandbox         string `json:"sandbox"`
	Approval        string `json:"approval"`
	ReasoningEffort string `json:"reasoningEffort"`
	Lead            bool   `json:"lead"`
	WorkingDir      string `json:"workingDir"`
	Addendum        string `json:"addendum"`
}

func (a agentConfigArg) toConfig() state.AgentConfig {
	return state.AgentConfig{
		Role:            a.Role,
		Specialization:  a.Specialization,
		Model:           a.Model,
		Sandbox:         state.SandboxMode(a.Sandbox),
		Approval:        state.ApprovalPolicy(a.Approval),
		ReasoningEffort: state.ReasoningEffort(a.ReasoningEffort),
		Lead:            a.Lead,
		WorkingDir:      a.WorkingDir,
		Addendum:        a.Addendum,
	}
}

type createTeamArgs struct {
	Name         string           `json:"name"`
	AgentConfigs []agentConfigArg `json:"agentConfigs"`
	WorkingDir   string           `json:"workingDir"`
}

type teamArg struct {
	Team string `json:"team"`
}

type addAgentArgs struct {
	Team   string         `json:"team"`
	Config agentConfigArg `json:"config"`
}

type agentArgs struct {
	Team  string `json:"team"`
	Agent string `json:"agent"`
}

type sendMessageArgs struct {
	Team  string `json:"team"`
	Agent string `json:"agent"`
	Text  string `json:"text"`
}

type broadcastArgs struct {
	Team   string   `json:"team"`
	Text   string   `json:"text"`
	Subset []string `json:"subset"`
}

type relayArgs struct {
	Team   string `json:"team"`
	From   string `json:"from"`
	To     string `json:"to"`
	ToAll  bool   `json:"toAll"`
	Prefix string `json:"prefix"`
}

type assignTaskArgs struct {
	Team          string   `json:"team"`
	Assignee      string   `json:"assignee"`
	Description   string   `json:"description"`
	Prerequisites []string `json:"prerequisites"`
}

type taskArgs struct {
	Team string `json:"team"`
	Task string `json:"task"`
}

type completeTaskArgs struct {
	Team   string `json:"team"`
	Task   string `json:"task"`
	Result string `json:"result"`
}

type dispatchTeamArgs struct {
	Name       string `json:"name"`
	WorkingDir string `json:"workingDir"`
	Agents     []struct {
		Config agentConfigArg `json:"config"`
		Task   string         `json:"task"`
	} `json:"agents"`
}

type launchMissionArgs struct {
	Objective        string           `json:"objective"`
	WorkingDir       string           `json:"workingDir"`
	Agents           []agentConfigArg `json:"agents"`
	VerifyCommand    string           `json:"verifyCommand"`
	MaxVerifyRetries int              `json:"maxVerifyRetries"`
}

func (a launchMissionArgs) toSpecs() []mission.TeamSpec {
	specs := make([]mission.TeamSpec, 0, len(a.Agents))
	for _, cfg := range a.Agents {
		specs = append(specs, mission.TeamSpec{
			Role: cfg.Role, Specialization: cfg.Specialization, Model: cfg.Model,
			Lead: cfg.Lead, ReasoningEffort: cfg.ReasoningEffort,
		})
	}
	return specs
}

type missionArgs struct {
	ID string `json:"id"`
}

type awaitMissionArgs struct {
	ID        string `json:"id"`
	PollMs    int64  `json:"pollMs"`
	TimeoutMs int64  `json:"timeoutMs"`
}

type steerTeamArgs struct {
	Team      string   `json:"team"`
	Directive string   `json:"directive"`
	Subset    []string `json:"subset"`
}
