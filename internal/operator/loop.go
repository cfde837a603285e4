package operator

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"time"

	"go.uber.org/zap"
)

func durationFromMs(ms int64) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// Serve reads one JSON request per line from r and writes one JSON
// response per line to w, until r is exhausted or ctx is canceled. A
// line that fails to decode produces an error response with an empty
// id rather than aborting the loop, so one malformed line never takes
// the whole stdio channel down.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			_ = enc.Encode(Response{IsError: true, Message: "malformed request: " + err.Error()})
			continue
		}

		resp := s.Handle(ctx, req)
		if err := enc.Encode(resp); err != nil {
			s.log.Warn("operator: failed to write response", zap.Error(err))
		}
	}
	return scanner.Err()
}
