package transport

import (
	"context"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/flwr-go/flower-node/client/message"
	"github.com/flwr-go/flower-node/internal/errs"
)

// rere (request/response) method names: each Scope operation is an
// independent round-trip against the broker's pull/push/node
// endpoints.
const (
	rereMethodCreateNode = "/flower.transport.v1.FlowerService/CreateNode"
	rereMethodDeleteNode = "/flower.transport.v1.FlowerService/DeleteNode"
	rereMethodPull       = "/flower.transport.v1.FlowerService/PullTaskIns"
	rereMethodPush       = "/flower.transport.v1.FlowerService/PushTaskRes"
	rereMethodPing       = "/flower.transport.v1.FlowerService/Ping"

	nodeIDMetadataKey = "flower-node-id"
)

// rere implements Connector as five independent unary gRPC round-trips
// against the broker's pull/push/node endpoints, carrying node
// identity as outgoing metadata. This is the CLI's default transport.
type rere struct {
	opts Options
}

// NewRere builds the rere Connector variant.
func NewRere(opts Options) Connector {
	return &rere{opts: opts}
}

func (r *rere) Open(ctx context.Context) (*Scope, func() error, error) {
	tlsCfg, err := r.opts.TLSConfig()
	if err != nil {
		return nil, nil, err
	}

	var creds credentials.TransportCredentials
	if tlsCfg == nil {
		creds = insecure.NewCredentials()
	} else {
		creds = credentials.NewTLS(tlsCfg)
	}

	msgSize := r.opts.maxMessageBytes()
	conn, err := grpc.NewClient(
		r.opts.Address,
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(gobCodec{}),
			grpc.MaxCallRecvMsgSize(msgSize),
			grpc.MaxCallSendMsgSize(msgSize),
		),
	)
	if err != nil {
		return nil, nil, errs.NewTransportRecoverable("dial", err)
	}

	var nodeID int64
	var anonymous = true

	invoke := func(ctx context.Context, method string, req, reply any) error {
		if !anonymous {
			ctx = metadata.AppendToOutgoingContext(ctx, nodeIDMetadataKey, strconv.FormatInt(nodeID, 10))
		}
		if err := conn.Invoke(ctx, method, req, reply); err != nil {
			return errs.NewTransportRecoverable(method, err)
		}
		return nil
	}

	scope := &Scope{
		Receive: func(ctx context.Context) (*message.Message, error) {
			req := wirePullRequest{NodeID: nodeID, Anonymous: anonymous, Limit: 1}
			var reply wirePullReply
			if err := invoke(ctx, rereMethodPull, &req, &reply); err != nil {
				return nil, err
			}
			if len(reply.Messages) == 0 {
				return nil, nil
			}
			m := fromWire(reply.Messages[0])
			return &m, nil
		},
		Send: func(ctx context.Context, msg message.Message) error {
			req := wirePushRequest{Message: toWire(msg)}
			var reply wirePushReply
			return invoke(ctx, rereMethodPush, &req, &reply)
		},
		CreateNode: func(ctx context.Context) (int64, int64, error) {
			var reply wireNodeReply
			if err := invoke(ctx, rereMethodCreateNode, &wireNodeRequest{}, &reply); err != nil {
				return 0, 0, err
			}
			nodeID = reply.NodeID
			anonymous = false
			return reply.NodeID, reply.PingIntervalSeconds, nil
		},
		DeleteNode: func(ctx context.Context) error {
			return invoke(ctx, rereMethodDeleteNode, &wireNodeRequest{NodeID: nodeID}, &wireNodeReply{})
		},
		Ping: func(ctx context.Context, node int64, pingIntervalSeconds int64) error {
			return invoke(ctx, rereMethodPing, &wireNodeRequest{NodeID: node, PingIntervalSeconds: pingIntervalSeconds}, &wireNodeReply{})
		},
	}

	closeFn := func() error {
		return conn.Close()
	}

	return scope, closeFn, nil
}
