package gateway

import (
	"github.com/RakeshDevCode/Algotradepro/internal/marketdata/aggregator"
)

// ── WS protocol message types ──

// SubscribeMsg is the client → server SUBSCRIBE request.
type SubscribeMsg struct {
	Type        string   `json:"type"`        // "SUBSCRIBE"
	ReqID       string   `json:"reqId"`       // client-generated request ID
	Instruments []string `json:"instruments"` // "NSE_EQ:2885" or bare "2885"
	Refresh     bool     `json:"refresh"`     // bypass the quote cache for the snapshot
}

// UnsubscribeMsg is the client → server UNSUBSCRIBE request.
type UnsubscribeMsg struct {
	Type        string   `json:"type"` // "UNSUBSCRIBE"
	ReqID       string   `json:"reqId"`
	Instruments []string `json:"instruments"`
}

// SnapshotResponse answers a SUBSCRIBE with the current quotes.
type SnapshotResponse struct {
	Type  string `json:"type"` // "SNAPSHOT"
	ReqID string `json:"reqId"`
	aggregator.Snapshot
}

// ErrorResponse is the server → client ERROR message.
type ErrorResponse struct {
	Type  string `json:"type"` // "ERROR"
	ReqID string `json:"reqId,omitempty"`
	Error string `json:"error"`
}

// listResponse wraps broker lists with the records that failed to normalize.
type listResponse struct {
	Items  any      `json:"items"`
	Errors []string `json:"errors,omitempty"`
}
