// Package event defines the small vocabulary shared by the Dispatcher,
// the Operation Registry, and the Pool Engine: the three lifecycle
// event kinds and the payload shape posted to subscribers (spec §3
// Event Payload, §4.3).
package event

import "encoding/json"

// Kind identifies a pool lifecycle event.
type Kind string

const (
	KindBorrow Kind = "borrow"
	KindReturn Kind = "return"
	KindSubmit Kind = "submit"
)

// Payload is posted to every subscriber registered for Kind. Submit
// events omit Params (spec §3).
type Payload struct {
	Item   json.RawMessage `json:"item"`
	Params json.RawMessage `json:"params,omitempty"`
}
