package models

import (
	"encoding/json"
	"fmt"
)

// ActionKey is the reserved data-payload key carrying the client routing tag.
const ActionKey = "action"

// DeliveryRequest is one unit of work submitted to the dispatcher: a single
// notification addressed to every registered device of one user.
type DeliveryRequest struct {
	UserID string            `json:"userId"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	NotiID string            `json:"notiId"`
	Action string            `json:"action"`
	Data   map[string]string `json:"data,omitempty"`
}

// MessagePayload merges the routing action with the caller-supplied data map.
// The action key is reserved; a request shadowing it is rejected instead of
// silently overwritten.
func (r *DeliveryRequest) MessagePayload() (map[string]string, error) {
	if _, ok := r.Data[ActionKey]; ok {
		return nil, fmt.Errorf("data key %q is reserved", ActionKey)
	}
	payload := make(map[string]string, len(r.Data)+1)
	for k, v := range r.Data {
		payload[k] = v
	}
	if r.Action != "" {
		payload[ActionKey] = r.Action
	}
	return payload, nil
}

// Batch is the dispatcher input. Callers may submit either a single request
// object or an array of them; both shapes decode into a Batch.
type Batch []DeliveryRequest

func (b *Batch) UnmarshalJSON(raw []byte) error {
	var list []DeliveryRequest
	if err := json.Unmarshal(raw, &list); err == nil {
		*b = list
		return nil
	}
	var single DeliveryRequest
	if err := json.Unmarshal(raw, &single); err != nil {
		return err
	}
	*b = Batch{single}
	return nil
}
