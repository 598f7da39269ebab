package models

import (
	"encoding/json"
	"fmt"
)

// Command is a typed request travelling over the bridge in either direction.
type Command struct {
	ID         string         `json:"id" yaml:"id"`
	Type       string         `json:"type" yaml:"type"`
	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// Result is the outcome of processing a Command, correlated by CommandID.
type Result struct {
	CommandID string         `json:"commandId"`
	Success   bool           `json:"success"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// Ack is the connection acknowledgement the companion sends after the handshake.
type Ack struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// AckType is the frame type tag of a connection acknowledgement.
const AckType = "connection"

// NewAck builds a connection acknowledgement.
func NewAck(message string) Ack {
	return Ack{Type: AckType, Message: message}
}

// Param returns a parameter value and whether it was present.
func (c *Command) Param(name string) (any, bool) {
	if c == nil || c.Parameters == nil {
		return nil, false
	}
	v, ok := c.Parameters[name]
	return v, ok
}

// Encode serializes the command to its wire form.
func (c Command) Encode() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal command %s: %w", c.ID, err)
	}
	return data, nil
}

// Encode serializes the result to its wire form.
func (r Result) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal result %s: %w", r.CommandID, err)
	}
	return data, nil
}

// Encode serializes the acknowledgement to its wire form.
func (a Ack) Encode() ([]byte, error) {
	return json.Marshal(a)
}

// Succeeded builds a successful Result for commandID.
func Succeeded(commandID, message string, data map[string]any) Result {
	return Result{CommandID: commandID, Success: true, Message: message, Data: data}
}

// Failed builds a failed Result for commandID.
func Failed(commandID, message string) Result {
	return Result{CommandID: commandID, Success: false, Message: message}
}
