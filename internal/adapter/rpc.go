package adapter

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kandev/agentorch/internal/logging"
)

// rpcError mirrors the downstream's error envelope (spec.md §6.3).
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return e.Message }

type rpcRequest struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

// rpcClient is a JSON-line request/response client over a child
// process's stdin/stdout, grounded on pkg/acp/jsonrpc.Client: an atomic
// request-id counter, a pending-response map keyed by id, and a scanner
// read loop that classifies each line as a response (has id + result-or-
// error) versus anything else (logged and dropped — this protocol has
// no server-initiated requests or notifications, unlike ACP's).
type rpcClient struct {
	stdin  io.Writer
	stdout io.Reader

	requestID atomic.Int64
	pending   map[int64]chan *rpcResponse
	mu        sync.Mutex

	log    *logging.Logger
	done   chan struct{}
	closed atomic.Bool
}

func decodeResult(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty downstream result")
	}
	return json.Unmarshal(raw, v)
}

func newRPCClient(stdin io.Writer, stdout io.Reader, log *logging.Logger) *rpcClient {
	return &rpcClient{
		stdin:   stdin,
		stdout:  stdout,
		pending: make(map[int64]chan *rpcResponse),
		log:     log.WithFields(zap.String("component", "adapter-rpc")),
		done:    make(chan struct{}),
	}
}

func (c *rpcClient) start() {
	go c.readLoop()
}

func (c *rpcClient) stop() {
	if c.closed.CompareAndSwap(false, true) {
		close(c.done)
	}
}

func (c *rpcClient) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("adapter transport closed")
	}

	id := c.requestID.Add(1)
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	respCh := make(chan *rpcResponse, 1)
	c.mu.Lock()
	c.pending[id] = respCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	req := rpcRequest{ID: id, Method: method, Params: paramsJSON}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')
	if _, err := c.stdin.Write(data); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, fmt.Errorf("adapter transport closed")
	}
}

func (c *rpcClient) readLoop() {
	scanner := bufio.NewScanner(c.stdout)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)

	for scanner.Scan() {
		select {
		case <-c.done:
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			c.log.Warn("failed to parse downstream line", zap.Error(err))
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		c.mu.Unlock()
		if ok {
			respCopy := resp
			ch <- &respCopy
		} else {
			c.log.Warn("response for unknown request id", zap.Int64("id", resp.ID))
		}
	}

	if err := scanner.Err(); err != nil {
		c.log.Error("adapter read loop error", zap.Error(err))
	}
	c.stop()
}
