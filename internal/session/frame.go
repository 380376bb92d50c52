package session

import (
	"encoding/json"
	"errors"

	"github.com/chatrelay/chatrelay/internal/ierr"
)

// Inbound is the closed set of frames a client may send. Adding a frame kind
// means adding a case to the session's dispatch switch.
type Inbound interface {
	isInbound()
}

type JoinMessage struct {
	Token  string `json:"token"`
	UserId int64  `json:"user_id"`
}

func (JoinMessage) isInbound() {}

type LeaveMessage struct{}

func (LeaveMessage) isInbound() {}

type frameEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DecodeFrame parses one inbound frame, tagged by its "type" discriminator.
func DecodeFrame(raw []byte) (Inbound, error) {
	var envelope frameEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, ierr.New(ierr.ErrorCodeInvalidArgument, err)
	}

	switch envelope.Type {
	case "JoinMessage":
		var join JoinMessage
		if envelope.Data == nil {
			return nil, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("missing join data"))
		}

		if err := json.Unmarshal(envelope.Data, &join); err != nil {
			return nil, ierr.New(ierr.ErrorCodeInvalidArgument, err)
		}

		return join, nil
	case "LeaveMessage":
		return LeaveMessage{}, nil
	default:
		return nil, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("unknown message type: "+envelope.Type))
	}
}
