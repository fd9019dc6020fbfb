package models

import "encoding/json"

// DeliveryOutcome captures the result of one push attempt to one device token.
// Either Response (the raw gateway body) or Error is populated.
type DeliveryOutcome struct {
	Token    string          `json:"token"`
	OK       bool            `json:"ok"`
	Response json.RawMessage `json:"response,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// DispatchResult aggregates the outcomes for a single notification, or carries
// the error that stopped it before fan-out.
type DispatchResult struct {
	NotiID  string            `json:"notiId"`
	Results []DeliveryOutcome `json:"results,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// DispatchResponse is the aggregate body returned to the caller.
type DispatchResponse struct {
	Results []DispatchResult `json:"results"`
	Error   string           `json:"error,omitempty"`
}
