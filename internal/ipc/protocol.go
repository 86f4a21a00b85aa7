// Package ipc exposes the engine command set on a Unix socket speaking
// newline-delimited JSON, one request per connection.
package ipc

import (
	"github.com/tuxx/wayvid/internal/types"
)

// Request is the wire form of one client request. Type discriminates; the
// remaining fields are inline per type.
type Request struct {
	Type   string   `json:"type"`
	Path   string   `json:"path,omitempty"`
	Output string   `json:"output,omitempty"`
	Mode   string   `json:"mode,omitempty"`
	Volume *float64 `json:"volume,omitempty"`
	Rate   *float64 `json:"rate,omitempty"`
	Time   *float64 `json:"time,omitempty"`
}

// Response is the generic reply: "ok", "error" or "pong".
type Response struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StatusResponse answers a status request.
type StatusResponse struct {
	Type    string               `json:"type"`
	Running bool                 `json:"running"`
	Version string               `json:"version"`
	Outputs []types.OutputStatus `json:"outputs"`
}

// OutputsResponse answers an outputs request.
type OutputsResponse struct {
	Type    string             `json:"type"`
	Outputs []types.OutputInfo `json:"outputs"`
}

// Error tags defined by the wire protocol.
const (
	ErrBadRequest = "bad_request"
	ErrBusy       = "busy"
	ErrInternal   = "internal"
)

func okResponse(message string) Response {
	return Response{Type: "ok", Message: message}
}

func errResponse(tag string) Response {
	return Response{Type: "error", Error: tag}
}
