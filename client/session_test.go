package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flwr-go/flower-node/client/control"
	"github.com/flwr-go/flower-node/client/message"
	"github.com/flwr-go/flower-node/client/nodestate"
	"github.com/flwr-go/flower-node/client/retry"
	"github.com/flwr-go/flower-node/client/transport"
	"github.com/flwr-go/flower-node/internal/errs"
	"github.com/flwr-go/flower-node/internal/telemetry"
)

// fakeConnector is a test double standing in for a real network
// transport, so the session loop's control flow can be exercised
// without dialing anything.
type fakeConnector struct {
	mu            sync.Mutex
	inbox         []message.Message
	sent          []message.Message
	createCalls   int
	deleteCalls   int
	nodeID        int64
	pingInterval  int64
	noCreateNode  bool
}

func (f *fakeConnector) Open(context.Context) (*transport.Scope, func() error, error) {
	scope := &transport.Scope{
		Receive: func(context.Context) (*message.Message, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			if len(f.inbox) == 0 {
				return nil, nil
			}
			m := f.inbox[0]
			f.inbox = f.inbox[1:]
			return &m, nil
		},
		Send: func(_ context.Context, m message.Message) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.sent = append(f.sent, m)
			return nil
		},
	}
	if !f.noCreateNode {
		scope.CreateNode = func(context.Context) (int64, int64, error) {
			f.createCalls++
			return f.nodeID, f.pingInterval, nil
		}
		scope.DeleteNode = func(context.Context) error {
			f.deleteCalls++
			return nil
		}
	}
	return scope, func() error { return nil }, nil
}

func (f *fakeConnector) lastSent() message.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

func newTestClient(t *testing.T, connector transport.Connector, kind transport.Kind) *Client {
	t.Helper()
	return &Client{
		connector: connector,
		kind:      kind,
		retry:     retry.New(),
		nodes:     nodestate.New(nil),
		log:       telemetry.Discard(),
	}
}

func TestSession_HandshakeAndSingleRound(t *testing.T) {
	in := message.Message{
		Metadata: message.Metadata{RunID: 7, MessageType: message.TypeTrain, MessageID: "m1"},
		Consumer: 42,
	}
	f := &fakeConnector{inbox: []message.Message{in}, nodeID: 42, pingInterval: 0}
	c := newTestClient(t, f, transport.KindRere)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	app := func(_ context.Context, msg message.Message, appCtx any) (message.Message, any, error) {
		return msg.NewReply([]byte("echo")), appCtx, nil
	}

	err := c.Run(ctx, app)
	assert.NoError(t, err)
	assert.Equal(t, 1, f.createCalls)
	sent := f.lastSent()
	assert.Equal(t, []byte("echo"), sent.Payload)
	assert.Nil(t, sent.Error)
}

func TestSession_ReconnectDirective(t *testing.T) {
	reconnect := message.Message{
		Metadata: message.Metadata{RunID: 1, MessageType: message.TypeReconnect},
		Payload:  control.EncodeReconnect(0), // sleep=0 terminates after this iteration
	}
	f := &fakeConnector{inbox: []message.Message{reconnect}}
	c := newTestClient(t, f, transport.KindRere)

	err := c.Run(context.Background(), func(context.Context, message.Message, any) (message.Message, any, error) {
		t.Fatal("ClientApp must not be invoked for a control message")
		return message.Message{}, nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, f.deleteCalls)
}

func TestSession_AppFailureRereFabricatesErrorReply(t *testing.T) {
	in := message.Message{Metadata: message.Metadata{RunID: 3, MessageType: message.TypeQuery}}
	f := &fakeConnector{inbox: []message.Message{in}}
	c := newTestClient(t, f, transport.KindRere)

	appErr := &errs.AppError{Kind: "ZeroDivisionError", Err: errors.New("division by zero")}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_ = c.Run(ctx, func(context.Context, message.Message, any) (message.Message, any, error) {
		return message.Message{}, nil, appErr
	})

	sent := f.lastSent()
	require.NotNil(t, sent.Error)
	assert.Equal(t, "ZeroDivisionError:division by zero", sent.Error.Reason)
	assert.Zero(t, sent.Error.Code)
}

func TestSession_AppFailureBidiStreamTerminates(t *testing.T) {
	in := message.Message{Metadata: message.Metadata{RunID: 3, MessageType: message.TypeQuery}}
	f := &fakeConnector{inbox: []message.Message{in}, noCreateNode: true}
	c := newTestClient(t, f, transport.KindBidiStream)

	sentinel := errors.New("boom")
	err := c.Run(context.Background(), func(context.Context, message.Message, any) (message.Message, any, error) {
		return message.Message{}, nil, sentinel
	})
	assert.ErrorIs(t, err, sentinel)
}

func TestSession_AnonymousWhenNoCreateNode(t *testing.T) {
	in := message.Message{Metadata: message.Metadata{RunID: 1, MessageType: message.TypeTrain}}
	f := &fakeConnector{inbox: []message.Message{in}, noCreateNode: true}
	c := newTestClient(t, f, transport.KindBidiStream)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.Run(ctx, func(_ context.Context, msg message.Message, appCtx any) (message.Message, any, error) {
		return msg.NewReply(nil), appCtx, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 0, f.createCalls)
}
