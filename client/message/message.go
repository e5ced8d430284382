// Package message defines the Message envelope the client session
// loop pumps: metadata identifying the run/round/type, a typed
// payload, and a helper to fabricate a reply that mirrors identity
// and inverts producer/consumer.
package message

import (
	"time"

	"github.com/google/uuid"
)

// Type enumerates the message types a node may see. Control types
// (Reconnect) are intercepted by the control-message handler before
// reaching the ClientApp; the rest are dispatched to it by value.
type Type string

const (
	TypeTrain         Type = "train"
	TypeEvaluate      Type = "evaluate"
	TypeQuery         Type = "query"
	TypeGetProperties Type = "get_properties"
	TypeGetParameters Type = "get_parameters"
	TypeReconnect     Type = "reconnect"
)

// Metadata carries message identity and routing information.
type Metadata struct {
	MessageID   string // 128-bit UUID, string form
	RunID       int64
	GroupID     string // 128-bit UUID, string form
	MessageType Type
	CreatedAt   time.Time
	Ancestry    []string // for a reply, Ancestry[0] is the instruction's MessageID
}

// Error is the failure channel for a reply: a reply carrying a
// non-zero Code is the application-level failure path.
type Error struct {
	Code   int32
	Reason string
}

// Message is a unit of work pumped by the client session loop: either
// an instruction from the broker (consumer-bound) or a reply
// (producer-bound).
type Message struct {
	Metadata Metadata
	Producer int64 // node id, or 0 for the SuperLink
	Consumer int64 // node id this message targets; 0 + Anonymous for "any"
	Anonymous bool
	Payload   []byte // opaque to the session loop; never inspected
	Error     *Error // non-nil marks this message as a failure reply
}

// NewReply fabricates a reply to m: a fresh MessageID, same
// RunID/GroupID, Ancestry[0] set to m's MessageID, a fresh CreatedAt,
// MessageType unchanged, and producer/consumer
// inverted (the replier becomes the producer, the original producer
// becomes the consumer). payload is the reply's application payload;
// pass nil and set appErr via WithError for a failure reply.
func (m Message) NewReply(payload []byte) Message {
	return Message{
		Metadata: Metadata{
			MessageID:   uuid.NewString(),
			RunID:       m.Metadata.RunID,
			GroupID:     m.Metadata.GroupID,
			MessageType: m.Metadata.MessageType,
			CreatedAt:   time.Now().UTC(),
			Ancestry:    []string{m.Metadata.MessageID},
		},
		Producer: m.Consumer,
		Consumer: m.Producer,
		Payload:  payload,
	}
}

// WithError returns a copy of m carrying the given Error, marking it
// as a failure reply.
func (m Message) WithError(e Error) Message {
	m.Error = &e
	return m
}

// IsControl reports whether m is a control message the session loop
// must handle itself rather than dispatching to the ClientApp.
func (m Message) IsControl() bool {
	return m.Metadata.MessageType == TypeReconnect
}
