// Package rpc exposes a broker.Store over gRPC, using the same
// gob codec (internal/wire) the client transport adapters dial with
// via grpc.ForceCodec, so neither side needs protoc-generated stubs.
// It implements the rere transport's five RPCs (create_node,
// delete_node, pull_task_ins, push_task_res, ping); the bidi-stream
// variant is intentionally not served here, since this broker is
// request/response at its core.
package rpc

import (
	"context"
	"errors"
	"io"
	"time"

	"google.golang.org/grpc"

	"github.com/flwr-go/flower-node/broker"
	"github.com/flwr-go/flower-node/internal/errs"
	"github.com/flwr-go/flower-node/internal/telemetry"
	"github.com/flwr-go/flower-node/internal/wire"
	"github.com/joeycumines/go-longpoll"
)

const (
	methodCreateNode = "/flower.transport.v1.FlowerService/CreateNode"
	methodDeleteNode = "/flower.transport.v1.FlowerService/DeleteNode"
	methodPull       = "/flower.transport.v1.FlowerService/PullTaskIns"
	methodPush       = "/flower.transport.v1.FlowerService/PushTaskRes"
	methodPing       = "/flower.transport.v1.FlowerService/Ping"
)

// pushItem is one caller's admission request, queued for the push
// batcher and resolved via result.
type pushItem struct {
	taskRes *broker.TaskRes
	result  chan error
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the structured logger used for push-batch visibility.
func WithLogger(l *telemetry.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithPushBatch overrides the longpoll.Channel partial-response
// constraints used to fan in concurrent PushTaskRes calls. Defaults
// favor low added latency: a 20ms partial timeout and a 64-item cap.
func WithPushBatch(cfg longpoll.ChannelConfig) Option {
	return func(s *Server) { s.pushCfg = cfg }
}

// Server adapts a broker.Store to the rere transport's wire protocol.
// Concurrent PushTaskRes calls are funneled through a single batching
// goroutine (runPushBatcher) built on github.com/joeycumines/go-longpoll,
// so a burst of near-simultaneous replies from many nodes is drained
// as one batch and admitted by that single goroutine, one
// broker.Store.StoreTaskRes call per item.
type Server struct {
	store   *broker.Store
	log     *telemetry.Logger
	pushCfg longpoll.ChannelConfig
	pushCh  chan pushItem
	done    chan struct{}
}

// NewServer builds a Server over store and starts its push batcher.
// Callers must call Close when finished.
func NewServer(store *broker.Store, opts ...Option) *Server {
	s := &Server{
		store: store,
		pushCfg: longpoll.ChannelConfig{
			MaxSize:        64,
			MinSize:        -1, // start the partial timeout immediately; never block with zero load
			PartialTimeout: 20 * time.Millisecond,
		},
		pushCh: make(chan pushItem),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = telemetry.Discard()
	}
	go s.runPushBatcher()
	return s
}

// Close stops the push batcher. Any calls still blocked in PushTaskRes
// will observe context cancellation from their caller.
func (s *Server) Close() {
	close(s.pushCh)
	<-s.done
}

// runPushBatcher repeatedly drains pushCh through longpoll.Channel,
// admitting each collected batch to the store once the partial
// timeout or max size is reached, then reports each item's outcome
// back on its own result channel.
func (s *Server) runPushBatcher() {
	defer close(s.done)
	ctx := context.Background()
	for {
		var batch []pushItem
		cfg := s.pushCfg
		err := longpoll.Channel(ctx, &cfg, s.pushCh, func(item pushItem) error {
			batch = append(batch, item)
			return nil
		})

		for _, item := range batch {
			_, ok := s.store.StoreTaskRes(item.taskRes)
			if !ok {
				item.result <- errs.NewLifecycleError("push_task_res: rejected by validator or unknown run")
			} else {
				item.result <- nil
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			s.log.Warning().Err(err).Log("push batch loop error")
		}
	}
}

// Register attaches the service to srv using a hand-rolled
// grpc.ServiceDesc: no protoc-generated stubs, mirroring
// client/transport's grpc.ForceCodec(wire.GobCodec{}) approach on the
// server side.
func (s *Server) Register(srv *grpc.Server) {
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: "flower.transport.v1.FlowerService",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "CreateNode", Handler: s.handleCreateNode},
			{MethodName: "DeleteNode", Handler: s.handleDeleteNode},
			{MethodName: "PullTaskIns", Handler: s.handlePull},
			{MethodName: "PushTaskRes", Handler: s.handlePush},
			{MethodName: "Ping", Handler: s.handlePing},
		},
	}, s)
}

func (s *Server) handleCreateNode(_ any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	var req wire.NodeRequest
	if err := dec(&req); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, _ any) (any, error) {
		nodeID, pingInterval, err := s.store.CreateNode("")
		if err != nil {
			return nil, err
		}
		return &wire.NodeReply{NodeID: nodeID, PingIntervalSeconds: int64(pingInterval / time.Second)}, nil
	}
	if interceptor == nil {
		return handler(ctx, &req)
	}
	return interceptor(ctx, &req, &grpc.UnaryServerInfo{Server: s, FullMethod: methodCreateNode}, handler)
}

func (s *Server) handleDeleteNode(_ any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	var req wire.NodeRequest
	if err := dec(&req); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, _ any) (any, error) {
		if err := s.store.DeleteNode(req.NodeID); err != nil {
			return nil, err
		}
		return &wire.NodeReply{}, nil
	}
	if interceptor == nil {
		return handler(ctx, &req)
	}
	return interceptor(ctx, &req, &grpc.UnaryServerInfo{Server: s, FullMethod: methodDeleteNode}, handler)
}

func (s *Server) handlePing(_ any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	var req wire.NodeRequest
	if err := dec(&req); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, _ any) (any, error) {
		if !s.store.AcknowledgePing(req.NodeID, time.Duration(req.PingIntervalSeconds)*time.Second) {
			return nil, errs.NewLifecycleError("ping: unknown node %d", req.NodeID)
		}
		return &wire.NodeReply{}, nil
	}
	if interceptor == nil {
		return handler(ctx, &req)
	}
	return interceptor(ctx, &req, &grpc.UnaryServerInfo{Server: s, FullMethod: methodPing}, handler)
}

func (s *Server) handlePull(_ any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	var req wire.PullRequest
	if err := dec(&req); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, _ any) (any, error) {
		limit := int(req.Limit)
		if limit < 1 {
			limit = 1
		}
		var node *int64
		if !req.Anonymous {
			node = &req.NodeID
		}
		ins := s.store.GetTaskIns(node, limit)
		reply := &wire.PullReply{Messages: make([]wire.Message, 0, len(ins))}
		for _, t := range ins {
			reply.Messages = append(reply.Messages, taskInsToWire(t))
		}
		return reply, nil
	}
	if interceptor == nil {
		return handler(ctx, &req)
	}
	return interceptor(ctx, &req, &grpc.UnaryServerInfo{Server: s, FullMethod: methodPull}, handler)
}

func (s *Server) handlePush(_ any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	var req wire.PushRequest
	if err := dec(&req); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, _ any) (any, error) {
		item := pushItem{taskRes: wireToTaskRes(req.Message), result: make(chan error, 1)}
		select {
		case s.pushCh <- item:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		select {
		case err := <-item.result:
			if err != nil {
				return nil, err
			}
			return &wire.PushReply{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if interceptor == nil {
		return handler(ctx, &req)
	}
	return interceptor(ctx, &req, &grpc.UnaryServerInfo{Server: s, FullMethod: methodPush}, handler)
}

// taskInsToWire converts a delivered TaskIns record to the wire
// envelope handed back to the node: the store's minted TaskID becomes
// the wire message's MessageID, so the node's eventual reply chains
// its Ancestry back to it (client/message.Message.NewReply).
func taskInsToWire(t *broker.TaskIns) wire.Message {
	return wire.Message{
		MessageID:   t.TaskID,
		RunID:       t.RunID,
		MessageType: t.Task.MessageType,
		Producer:    t.Task.Producer.NodeID,
		Consumer:    t.Task.Consumer.NodeID,
		Anonymous:   t.Task.Consumer.Anonymous,
		Payload:     t.Task.Payload,
	}
}

// wireToTaskRes converts a node's reply envelope to an (unstored)
// TaskRes ready for broker.Store.StoreTaskRes, which mints its TaskID.
func wireToTaskRes(w wire.Message) *broker.TaskRes {
	return &broker.TaskRes{
		RunID: w.RunID,
		Task: broker.Task{
			Producer:    broker.Consumer{NodeID: w.Producer, Anonymous: w.Producer == 0},
			Consumer:    broker.Consumer{NodeID: w.Consumer, Anonymous: w.Consumer == 0},
			Ancestry:    w.Ancestry,
			MessageType: w.MessageType,
			Payload:     w.Payload,
		},
	}
}
