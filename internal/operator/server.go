package operator

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/kandev/agentorch/internal/apperrors"
	"github.com/kandev/agentorch/internal/bus"
	"github.com/kandev/agentorch/internal/dispatch"
	"github.com/kandev/agentorch/internal/logging"
	"github.com/kandev/agentorch/internal/mission"
	"github.com/kandev/agentorch/internal/operations"
	"github.com/kandev/agentorch/internal/state"
	"github.com/kandev/agentorch/internal/steering"
)

// Server dispatches operator requests (spec.md §6.1) to the packages
// that implement each operation's semantics.
type Server struct {
	store    *state.Store
	bus      *bus.Bus
	ops      *operations.Ops
	dispatch *dispatch.Dispatcher
	mission  *mission.Engine
	steer    *steering.Steering
	log      *logging.Logger

	handlers map[string]func(ctx context.Context, args json.RawMessage) (interface{}, *apperrors.AppError)
}

func New(store *state.Store, b *bus.Bus, ops *operations.Ops, d *dispatch.Dispatcher, m *mission.Engine, st *steering.Steering, log *logging.Logger) *Server {
	s := &Server{
		store: store, bus: b, ops: ops, dispatch: d, mission: m, steer: st,
		log: log.WithFields(zap.String("component", "operator")),
	}
	s.handlers = map[string]func(context.Context, json.RawMessage) (interface{}, *apperrors.AppError){
		"create_team":      s.createTeam,
		"dissolve_team":    s.dissolveTeam,
		"add_agent":        s.addAgent,
		"remove_agent":     s.removeAgent,
		"list_agents":      s.listAgents,
		"send_message":     s.sendMessage,
		"broadcast":        s.broadcast,
		"relay":            s.relay,
		"assign_task":      s.assignTask,
		"task_status":      s.taskStatus,
		"complete_task":    s.completeTask,
		"get_output":       s.getOutput,
		"get_team_report":  s.getTeamReport,
		"dispatch_team":    s.dispatchTeam,
		"launch_mission":   s.launchMission,
		"mission_status":   s.missionStatus,
		"await_mission":    s.awaitMission,
		"get_mission_comms": s.getMissionComms,
		"get_team_comms":   s.getTeamComms,
		"steer_team":       s.steerTeam,
	}
	return s
}

// Handle dispatches one decoded request to its operation handler,
// translating any *apperrors.AppError into the isError wire shape.
func (s *Server) Handle(ctx context.Context, req Request) Response {
	handler, ok := s.handlers[req.Operation]
	if !ok {
		return Response{ID: req.ID, IsError: true, Message: fmt.Sprintf("unknown operation %q", req.Operation)}
	}
	result, aerr := handler(ctx, req.Args)
	if aerr != nil {
		return Response{ID: req.ID, IsError: true, Message: aerr.Error()}
	}
	return Response{ID: req.ID, Result: result}
}

func decode[T any](args json.RawMessage) (T, *apperrors.AppError) {
	var v T
	if len(args) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(args, &v); err != nil {
		return v, apperrors.InvalidArgument("malformed arguments: " + err.Error())
	}
	return v, nil
}

func (s *Server) createTeam(ctx context.Context, raw json.RawMessage) (interface{}, *apperrors.AppError) {
	args, aerr := decode[createTeamArgs](raw)
	if aerr != nil {
		return nil, aerr
	}
	if args.Name == "" {
		return nil, apperrors.InvalidArgument("name is required")
	}
	configs := make([]state.AgentConfig, 0, len(args.AgentConfigs))
	for _, c := range args.AgentConfigs {
		configs = append(configs, c.toConfig())
	}
	team := s.store.CreateTeam(args.Name, configs, args.WorkingDir)
	return team, nil
}

func (s *Server) dissolveTeam(ctx context.Context, raw json.RawMessage) (interface{}, *apperrors.AppError) {
	args, aerr := decode[teamArg](raw)
	if aerr != nil {
		return nil, aerr
	}
	team, derr := s.store.DissolveTeam(args.Team)
	if derr != nil {
		return nil, derr
	}
	ids := make([]string, 0, len(team.Agents))
	for id := range team.Agents {
		ids = append(ids, id)
	}
	s.bus.DissolveTeam(args.Team, ids)
	return nil, nil
}

func (s *Server) addAgent(ctx context.Context, raw json.RawMessage) (interface{}, *apperrors.AppError) {
	args, aerr := decode[addAgentArgs](raw)
	if aerr != nil {
		return nil, aerr
	}
	return s.store.AddAgent(args.Team, args.Config.toConfig())
}

func (s *Server) removeAgent(ctx context.Context, raw json.RawMessage) (interface{}, *apperrors.AppError) {
	args, aerr := decode[agentArgs](raw)
	if aerr != nil {
		return nil, aerr
	}
	if rerr := s.store.RemoveAgent(args.Team, args.Agent); rerr != nil {
		return nil, rerr
	}
	return nil, nil
}

func (s *Server) listAgents(ctx context.Context, raw json.RawMessage) (interface{}, *apperrors.AppError) {
	args, aerr := decode[teamArg](raw)
	if aerr != nil {
		return nil, aerr
	}
	return s.store.ListAgents(args.Team)
}

func (s *Server) sendMessage(ctx context.Context, raw json.RawMessage) (interface{}, *apperrors.AppError) {
	args, aerr := decode[sendMessageArgs](raw)
	if aerr != nil {
		return nil, aerr
	}
	out, serr := s.ops.SendMessage(ctx, args.Team, args.Agent, args.Text)
	if serr != nil {
		return nil, serr
	}
	return map[string]string{"output": out}, nil
}

func (s *Server) broadcast(ctx context.Context, raw json.RawMessage) (interface{}, *apperrors.AppError) {
	args, aerr := decode[broadcastArgs](raw)
	if aerr != nil {
		return nil, aerr
	}
	return s.ops.Broadcast(ctx, args.Team, args.Text, args.Subset)
}

func (s *Server) relay(ctx context.Context, raw json.RawMessage) (interface{}, *apperrors.AppError) {
	args, aerr := decode[relayArgs](raw)
	if aerr != nil {
		return nil, aerr
	}
	return s.ops.Relay(ctx, args.Team, args.From, args.To, args.ToAll, args.Prefix)
}

func (s *Server) assignTask(ctx context.Context, raw json.RawMessage) (interface{}, *apperrors.AppError) {
	args, aerr := decode[assignTaskArgs](raw)
	if aerr != nil {
		return nil, aerr
	}
	return s.ops.AssignTask(ctx, args.Team, args.Assignee, args.Description, args.Prerequisites)
}

func (s *Server) taskStatus(ctx context.Context, raw json.RawMessage) (interface{}, *apperrors.AppError) {
	args, aerr := decode[taskArgs](raw)
	if aerr != nil {
		return nil, aerr
	}
	return s.store.GetTask(args.Team, args.Task)
}

func (s *Server) completeTask(ctx context.Context, raw json.RawMessage) (interface{}, *apperrors.AppError) {
	args, aerr := decode[completeTaskArgs](raw)
	if aerr != nil {
		return nil, aerr
	}
	unblocked, cerr := s.ops.CompleteTask(ctx, args.Team, args.Task, args.Result)
	if cerr != nil {
		return nil, cerr
	}
	return map[string]interface{}{"unblockedTaskIds": unblocked}, nil
}

func (s *Server) getOutput(ctx context.Context, raw json.RawMessage) (interface{}, *apperrors.AppError) {
	args, aerr := decode[agentArgs](raw)
	if aerr != nil {
		return nil, aerr
	}
	_, agent, gerr := s.store.GetAgent(args.Team, args.Agent)
	if gerr != nil {
		return nil, gerr
	}
	return map[string]string{"output": agent.LastOutput}, nil
}

func (s *Server) getTeamReport(ctx context.Context, raw json.RawMessage) (interface{}, *apperrors.AppError) {
	args, aerr := decode[teamArg](raw)
	if aerr != nil {
		return nil, aerr
	}
	team, terr := s.store.GetTeam(args.Team)
	if terr != nil {
		return nil, terr
	}
	return team, nil
}

func (s *Server) dispatchTeam(ctx context.Context, raw json.RawMessage) (interface{}, *apperrors.AppError) {
	args, aerr := decode[dispatchTeamArgs](raw)
	if aerr != nil {
		return nil, aerr
	}
	specs := make([]dispatch.Spec, 0, len(args.Agents))
	for _, a := range args.Agents {
		specs = append(specs, dispatch.Spec{Config: a.Config.toConfig(), Task: a.Task})
	}
	return s.dispatch.Dispatch(ctx, args.Name, args.WorkingDir, specs), nil
}

func (s *Server) launchMission(ctx context.Context, raw json.RawMessage) (interface{}, *apperrors.AppError) {
	args, aerr := decode[launchMissionArgs](raw)
	if aerr != nil {
		return nil, aerr
	}
	id, merr := s.mission.Launch(ctx, args.Objective, args.WorkingDir, args.toSpecs(), args.VerifyCommand, args.MaxVerifyRetries)
	if merr != nil {
		return nil, merr
	}
	return map[string]string{"id": id}, nil
}

func (s *Server) missionStatus(ctx context.Context, raw json.RawMessage) (interface{}, *apperrors.AppError) {
	args, aerr := decode[missionArgs](raw)
	if aerr != nil {
		return nil, aerr
	}
	return s.mission.Status(args.ID)
}

func (s *Server) awaitMission(ctx context.Context, raw json.RawMessage) (interface{}, *apperrors.AppError) {
	args, aerr := decode[awaitMissionArgs](raw)
	if aerr != nil {
		return nil, aerr
	}
	poll := durationFromMs(args.PollMs)
	timeout := durationFromMs(args.TimeoutMs)
	return s.mission.Await(ctx, args.ID, poll, timeout)
}

func (s *Server) getMissionComms(ctx context.Context, raw json.RawMessage) (interface{}, *apperrors.AppError) {
	args, aerr := decode[missionArgs](raw)
	if aerr != nil {
		return nil, aerr
	}
	return s.mission.Comms(args.ID)
}

func (s *Server) getTeamComms(ctx context.Context, raw json.RawMessage) (interface{}, *apperrors.AppError) {
	args, aerr := decode[teamArg](raw)
	if aerr != nil {
		return nil, aerr
	}
	agents, aerr2 := s.store.ListAgents(args.Team)
	if aerr2 != nil {
		return nil, aerr2
	}
	ids := make([]string, 0, len(agents))
	for _, a := range agents {
		ids = append(ids, a.ID)
	}
	return mission.Snapshot{
		Group:     s.bus.GroupSnapshot(args.Team),
		DMs:       s.bus.DMSnapshotFor(ids),
		Lead:      s.bus.LeadSnapshotAuthoredBy(ids),
		Artifacts: s.bus.GetShared(args.Team),
	}, nil
}

func (s *Server) steerTeam(ctx context.Context, raw json.RawMessage) (interface{}, *apperrors.AppError) {
	args, aerr := decode[steerTeamArgs](raw)
	if aerr != nil {
		return nil, aerr
	}
	return s.steer.Steer(ctx, args.Team, args.Directive, args.Subset)
}
