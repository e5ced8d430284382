package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flwr-go/flower-node/broker"
	"github.com/flwr-go/flower-node/internal/wire"
)

func decodeInto(v any) func(any) error {
	return func(dst any) error {
		switch d := dst.(type) {
		case *wire.NodeRequest:
			*d = *v.(*wire.NodeRequest)
		case *wire.PullRequest:
			*d = *v.(*wire.PullRequest)
		case *wire.PushRequest:
			*d = *v.(*wire.PushRequest)
		}
		return nil
	}
}

func TestServer_CreateNodeThenPull(t *testing.T) {
	store := broker.New()
	run := store.CreateRun()

	s := NewServer(store)
	defer s.Close()

	reply, err := s.handleCreateNode(nil, context.Background(), decodeInto(&wire.NodeRequest{}), nil)
	require.NoError(t, err)
	nodeID := reply.(*wire.NodeReply).NodeID
	assert.NotZero(t, nodeID)

	_, ok := store.StoreTaskIns(&broker.TaskIns{
		RunID: run,
		Task: broker.Task{
			Consumer:    broker.Consumer{NodeID: nodeID},
			Producer:    broker.Consumer{Anonymous: true},
			MessageType: "train",
			Payload:     []byte("go"),
		},
	})
	require.True(t, ok, "store_task_ins must be admitted by the validator")

	pullReply, err := s.handlePull(nil, context.Background(), decodeInto(&wire.PullRequest{NodeID: nodeID, Limit: 1}), nil)
	require.NoError(t, err)
	msgs := pullReply.(*wire.PullReply).Messages
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("go"), msgs[0].Payload)
	assert.Equal(t, "train", msgs[0].MessageType)
}

func TestServer_PushTaskResBatches(t *testing.T) {
	store := broker.New()
	run := store.CreateRun()
	s := NewServer(store)
	defer s.Close()

	insID, ok := store.StoreTaskIns(&broker.TaskIns{
		RunID: run,
		Task: broker.Task{
			Consumer: broker.Consumer{NodeID: 9},
			Producer: broker.Consumer{Anonymous: true},
		},
	})
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	reply, err := s.handlePush(nil, ctx, decodeInto(&wire.PushRequest{Message: wire.Message{
		RunID:     run,
		Producer:  9,
		Consumer:  0,
		Anonymous: true,
		Ancestry:  []string{insID},
		Payload:   []byte("res"),
	}}), nil)
	require.NoError(t, err)
	assert.NotNil(t, reply)
	assert.Equal(t, 1, store.NumTaskRes())
}

func TestServer_CreateNodeEchoesConfiguredPingInterval(t *testing.T) {
	store := broker.New(broker.WithDefaultPingInterval(5 * time.Second))
	s := NewServer(store)
	defer s.Close()

	reply, err := s.handleCreateNode(nil, context.Background(), decodeInto(&wire.NodeRequest{}), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), reply.(*wire.NodeReply).PingIntervalSeconds)
}

func TestServer_PingUnknownNode(t *testing.T) {
	store := broker.New()
	s := NewServer(store)
	defer s.Close()

	_, err := s.handlePing(nil, context.Background(), decodeInto(&wire.NodeRequest{NodeID: 123}), nil)
	assert.Error(t, err)
}
