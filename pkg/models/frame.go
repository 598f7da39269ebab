package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// FrameKind classifies an inbound text frame.
type FrameKind int

const (
	FrameUnknown FrameKind = iota
	FrameAck
	FrameResult
	FrameCommand
)

func (k FrameKind) String() string {
	switch k {
	case FrameAck:
		return "ack"
	case FrameResult:
		return "result"
	case FrameCommand:
		return "command"
	default:
		return "unknown"
	}
}

// ErrUnrecognizedFrame is returned for JSON objects that are neither an
// acknowledgement, a result nor a command.
var ErrUnrecognizedFrame = errors.New("unrecognized frame")

// Frame is a decoded inbound frame. Exactly one of Ack, Result, Command is set.
type Frame struct {
	Kind    FrameKind
	Ack     *Ack
	Result  *Result
	Command *Command
}

// DecodeFrame classifies and decodes one text frame.
//
// A frame with type "connection" is an acknowledgement and a frame carrying
// commandId is a result. Any other frame with a type is a command the peer
// wants the host to execute, even without an id, so that validation can
// reject it.
func DecodeFrame(data []byte) (Frame, error) {
	var head struct {
		ID        string  `json:"id"`
		Type      string  `json:"type"`
		CommandID *string `json:"commandId"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}

	switch {
	case head.Type == AckType:
		var ack Ack
		if err := json.Unmarshal(data, &ack); err != nil {
			return Frame{}, fmt.Errorf("decode ack: %w", err)
		}
		return Frame{Kind: FrameAck, Ack: &ack}, nil

	case head.CommandID != nil:
		if *head.CommandID == "" {
			return Frame{}, fmt.Errorf("decode result: %w: empty commandId", ErrUnrecognizedFrame)
		}
		var result Result
		if err := json.Unmarshal(data, &result); err != nil {
			return Frame{}, fmt.Errorf("decode result: %w", err)
		}
		return Frame{Kind: FrameResult, Result: &result}, nil

	case head.Type != "":
		cmd, err := DecodeCommand(data)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: FrameCommand, Command: &cmd}, nil
	}

	return Frame{}, ErrUnrecognizedFrame
}

// DecodeCommand decodes a single command frame.
func DecodeCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	return cmd, nil
}
