package message_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flwr-go/flower-node/client/message"
)

func TestNewReply_InvertsProducerConsumer(t *testing.T) {
	in := message.Message{
		Metadata: message.Metadata{
			MessageID:   "m1",
			RunID:       7,
			GroupID:     "g1",
			MessageType: message.TypeTrain,
		},
		Producer: 0,
		Consumer: 42,
	}

	reply := in.NewReply([]byte("ok"))
	assert.Equal(t, int64(42), reply.Producer)
	assert.Equal(t, int64(0), reply.Consumer)
	assert.Equal(t, in.Metadata.RunID, reply.Metadata.RunID)
	assert.Equal(t, in.Metadata.GroupID, reply.Metadata.GroupID)
	assert.Equal(t, in.Metadata.MessageType, reply.Metadata.MessageType)
	assert.NotEqual(t, in.Metadata.MessageID, reply.Metadata.MessageID)
	assert.Equal(t, []byte("ok"), reply.Payload)
	assert.Nil(t, reply.Error)
}

func TestWithError_MarksFailureReply(t *testing.T) {
	reply := message.Message{}.WithError(message.Error{Code: 1, Reason: "boom"})
	assert.NotNil(t, reply.Error)
	assert.Equal(t, "boom", reply.Error.Reason)
}

func TestIsControl(t *testing.T) {
	assert.True(t, message.Message{Metadata: message.Metadata{MessageType: message.TypeReconnect}}.IsControl())
	assert.False(t, message.Message{Metadata: message.Metadata{MessageType: message.TypeTrain}}.IsControl())
}
