// Package operator implements the Operator Surface (spec.md §6.1): a
// stdio JSON-line request/response loop that dispatches by an
// operation-name field to the State Store, Agent Adapter, operator
// operations, Dispatcher, Mission Engine, and Steering packages, and
// translates every *apperrors.AppError into {isError:true, message}.
// Grounded on pkg/acp/jsonrpc.Client's readLoop framing, mirrored
// server-side: read one JSON object per line, write one back.
package operator

import "encoding/json"

// Request is one stdio line in: an operation name plus its raw
// argument object, validated per-operation by the handler it maps to.
type Request struct {
	ID        string          `json:"id"`
	Operation string          `json:"operation"`
	Args      json.RawMessage `json:"args"`
}

// Response is one stdio line out.
type Response struct {
	ID      string      `json:"id"`
	IsError bool        `json:"isError,omitempty"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}
