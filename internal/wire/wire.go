// Package wire holds the on-the-wire envelope types shared by the
// client transport adapters (client/transport) and the broker's gRPC
// server (broker/rpc), plus the gob-based codec that lets both sides
// exchange them without protoc-generated stubs.
package wire

import (
	"bytes"
	"encoding/gob"
	"time"

	"google.golang.org/grpc/encoding"

	"github.com/flwr-go/flower-node/client/message"
)

// CodecName is registered with google.golang.org/grpc/encoding so the
// gRPC transport variants can carry Message envelopes without a
// protoc-generated codec, via grpc.ForceCodec.
const CodecName = "flower-gob"

func init() {
	encoding.RegisterCodec(GobCodec{})
}

// GobCodec implements google.golang.org/grpc/encoding.Codec using
// encoding/gob, so neither the client nor the broker need depend on
// generated protobuf stubs.
type GobCodec struct{}

func (GobCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (GobCodec) Unmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (GobCodec) Name() string { return CodecName }

// Message is the on-wire form of message.Message: a flat struct gob
// can encode without registering message.Message's exported fields
// separately.
type Message struct {
	MessageID   string
	RunID       int64
	GroupID     string
	MessageType string
	CreatedAt   time.Time
	Ancestry    []string
	Producer    int64
	Consumer    int64
	Anonymous   bool
	Payload     []byte
	HasError    bool
	ErrorCode   int32
	ErrorReason string
}

// ToWire converts a message.Message to its wire form.
func ToWire(m message.Message) Message {
	w := Message{
		MessageID:   m.Metadata.MessageID,
		RunID:       m.Metadata.RunID,
		GroupID:     m.Metadata.GroupID,
		MessageType: string(m.Metadata.MessageType),
		CreatedAt:   m.Metadata.CreatedAt,
		Ancestry:    m.Metadata.Ancestry,
		Producer:    m.Producer,
		Consumer:    m.Consumer,
		Anonymous:   m.Anonymous,
		Payload:     m.Payload,
	}
	if m.Error != nil {
		w.HasError = true
		w.ErrorCode = m.Error.Code
		w.ErrorReason = m.Error.Reason
	}
	return w
}

// FromWire converts a wire Message back to message.Message.
func FromWire(w Message) message.Message {
	m := message.Message{
		Metadata: message.Metadata{
			MessageID:   w.MessageID,
			RunID:       w.RunID,
			GroupID:     w.GroupID,
			MessageType: message.Type(w.MessageType),
			CreatedAt:   w.CreatedAt,
			Ancestry:    w.Ancestry,
		},
		Producer:  w.Producer,
		Consumer:  w.Consumer,
		Anonymous: w.Anonymous,
		Payload:   w.Payload,
	}
	if w.HasError {
		m.Error = &message.Error{Code: w.ErrorCode, Reason: w.ErrorReason}
	}
	return m
}

// NodeRequest/NodeReply carry create_node/delete_node/ping round-trips
// for the rere variant's unary RPCs, and the broker's handlers for
// them.
type NodeRequest struct {
	NodeID              int64
	PingIntervalSeconds int64
}

type NodeReply struct {
	NodeID              int64
	PingIntervalSeconds int64
}

// PullRequest/PullReply carry a PullTaskIns round-trip.
type PullRequest struct {
	NodeID    int64
	Anonymous bool
	Limit     int32
}

type PullReply struct {
	Messages []Message
}

// PushRequest/PushReply carry a PushTaskRes round-trip.
type PushRequest struct {
	Message Message
}

type PushReply struct{}
