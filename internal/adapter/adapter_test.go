package adapter

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/agentorch/internal/apperrors"
	"github.com/kandev/agentorch/internal/logging"
	"github.com/kandev/agentorch/internal/state"
)

// fakeLauncher wires the adapter's "stdin" to a fake child goroutine
// reading lines and replying deterministically, so tests never spawn a
// real process.
type fakeLauncher struct {
	reply func(method string, params json.RawMessage) (json.RawMessage, *rpcError)
}

func (f fakeLauncher) Launch(ctx context.Context) (io.WriteCloser, io.ReadCloser, func() error, error) {
	toChild, fromTest := io.Pipe()
	toTest, fromChild := io.Pipe()

	go func() {
		scanner := bufio.NewScanner(toChild)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)
		for scanner.Scan() {
			var req rpcRequest
			if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
				continue
			}
			result, rerr := f.reply(req.Method, req.Params)
			resp := rpcResponse{ID: req.ID, Error: rerr}
			if rerr == nil {
				resp.Result = result
			}
			data, _ := json.Marshal(resp)
			data = append(data, '\n')
			fromChild.Write(data)
		}
		fromChild.Close()
	}()

	return fromTest, toTest, func() error { return nil }, nil
}

type fakeTokens struct{}

func (fakeTokens) IssueOrGet(agentID string) string { return "tok-" + agentID }

func newTestAdapter(t *testing.T, reply func(method string, params json.RawMessage) (json.RawMessage, *rpcError)) (*Adapter, *state.Store, *state.Team) {
	store := state.New()
	team := store.CreateTeam("t1", []state.AgentConfig{{Role: "dev"}}, "/work")

	a := New(store, fakeTokens{}, func(agentID, token string) string {
		return fmt.Sprintf("http://127.0.0.1:0/mcp?agent=%s&token=%s", agentID, token)
	}, fakeLauncher{reply: reply}, logging.NewNop())

	require.NoError(t, a.Connect(context.Background()))
	return a, store, team
}

func contentResult(t *testing.T, continuation, text string) json.RawMessage {
	raw, err := json.Marshal(map[string]interface{}{
		"continuation": continuation,
		"content":      text,
	})
	require.NoError(t, err)
	return raw
}

func TestSendStartsThenReplies(t *testing.T) {
	var seenMethods []string
	var mu sync.Mutex
	a, store, team := newTestAdapter(t, func(method string, params json.RawMessage) (json.RawMessage, *rpcError) {
		mu.Lock()
		seenMethods = append(seenMethods, method)
		mu.Unlock()
		return contentResult(t, "cont-1", "ack: "+method), nil
	})

	var agentID string
	for id := range team.Agents {
		agentID = id
	}

	out, aerr := a.Send(context.Background(), team.ID, agentID, "do the thing")
	require.Nil(t, aerr)
	assert.Equal(t, "ack: start", out)

	out2, aerr := a.Send(context.Background(), team.ID, agentID, "keep going")
	require.Nil(t, aerr)
	assert.Equal(t, "ack: reply", out2)

	assert.Equal(t, []string{"start", "reply"}, seenMethods)

	_, agent, _ := store.GetAgent(team.ID, agentID)
	assert.Equal(t, state.AgentIdle, agent.Status)
	assert.Equal(t, "cont-1", agent.Continuation)
}

func TestSendRemoteErrorClearsLostContinuation(t *testing.T) {
	calls := 0
	a, store, team := newTestAdapter(t, func(method string, params json.RawMessage) (json.RawMessage, *rpcError) {
		calls++
		if calls == 1 {
			return contentResult(t, "cont-1", "started"), nil
		}
		return nil, &rpcError{Message: "no such thread"}
	})
	var agentID string
	for id := range team.Agents {
		agentID = id
	}

	_, aerr := a.Send(context.Background(), team.ID, agentID, "go")
	require.Nil(t, aerr)

	_, aerr = a.Send(context.Background(), team.ID, agentID, "go again")
	require.NotNil(t, aerr)
	assert.Equal(t, apperrors.CodeRemoteError, aerr.Code)

	_, agent, _ := store.GetAgent(team.ID, agentID)
	assert.Equal(t, "", agent.Continuation)
}

func TestCancelAbortsInFlightCall(t *testing.T) {
	block := make(chan struct{})
	a, _, team := newTestAdapter(t, func(method string, params json.RawMessage) (json.RawMessage, *rpcError) {
		<-block
		return contentResult(t, "c", "late"), nil
	})
	var agentID string
	for id := range team.Agents {
		agentID = id
	}

	done := make(chan *apperrors.AppError, 1)
	go func() {
		_, aerr := a.Send(context.Background(), team.ID, agentID, "go")
		done <- aerr
	}()

	// Give Send time to register its cancel func.
	time.Sleep(30 * time.Millisecond)
	require.True(t, a.Cancel(agentID))

	aerr := <-done
	require.NotNil(t, aerr)
	assert.Equal(t, apperrors.CodeCanceled, aerr.Code)
	close(block)
}

func TestPerAgentCallsAreSerialized(t *testing.T) {
	var active int32
	var maxActive int32
	var mu sync.Mutex
	a, _, team := newTestAdapter(t, func(method string, params json.RawMessage) (json.RawMessage, *rpcError) {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return contentResult(t, "c", "ok"), nil
	})
	var agentID string
	for id := range team.Agents {
		agentID = id
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = a.Send(context.Background(), team.ID, agentID, "go")
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxActive)
}
