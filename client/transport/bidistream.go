package transport

import (
	"context"
	"io"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/flwr-go/flower-node/client/message"
	"github.com/flwr-go/flower-node/internal/errs"
)

// bidiStreamMethod is the single long-lived duplex RPC the bidi-stream
// variant opens; node identity is carried by the stream itself, so
// CreateNode/DeleteNode are nil.
const bidiStreamMethod = "/flower.transport.v1.FlowerService/Transport"

// bidiStream implements Connector over one long-lived gRPC duplex
// stream: a background goroutine pumps RecvMsg into a buffered channel
// so Scope.Receive never blocks the stream's read loop, coded with a
// hand-rolled gob envelope (see wire.go) instead of proto.Message.
type bidiStream struct {
	opts Options
}

// NewBidiStream builds the bidi-stream Connector variant.
func NewBidiStream(opts Options) Connector {
	return &bidiStream{opts: opts}
}

func (b *bidiStream) Open(ctx context.Context) (*Scope, func() error, error) {
	tlsCfg, err := b.opts.TLSConfig()
	if err != nil {
		return nil, nil, err
	}

	var creds credentials.TransportCredentials
	if tlsCfg == nil {
		creds = insecure.NewCredentials()
	} else {
		creds = credentials.NewTLS(tlsCfg)
	}

	msgSize := b.opts.maxMessageBytes()
	conn, err := grpc.NewClient(
		b.opts.Address,
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

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := conn.NewStream(streamCtx, &grpc.StreamDesc{
		StreamName:    "Transport",
		ServerStreams: true,
		ClientStreams: true,
	}, bidiStreamMethod)
	if err != nil {
		cancel()
		_ = conn.Close()
		return nil, nil, errs.NewTransportRecoverable("open-stream", err)
	}

	p := &pump{stream: stream, ch: make(chan message.Message, 16)}
	go p.run()

	scope := &Scope{
		Receive: func(context.Context) (*message.Message, error) {
			select {
			case m, ok := <-p.ch:
				if !ok {
					if err := p.loadErr(); err != nil {
						return nil, err
					}
					return nil, nil
				}
				return &m, nil
			default:
				return nil, nil
			}
		},
		Send: func(ctx context.Context, msg message.Message) error {
			w := toWire(msg)
			if err := stream.SendMsg(&w); err != nil {
				return errs.NewTransportRecoverable("send", err)
			}
			return nil
		},
	}

	closeFn := func() error {
		cancel()
		_ = stream.CloseSend()
		return conn.Close()
	}

	return scope, closeFn, nil
}

// pump continuously drains stream.RecvMsg into a buffered channel, the
// way fangrpcstream.Stream's receive goroutine does, so Scope.Receive
// can be a non-blocking poll.
type pump struct {
	stream grpc.ClientStream
	ch     chan message.Message
	mu     sync.Mutex
	err    error
}

func (p *pump) run() {
	defer close(p.ch)
	for {
		var w wireMessage
		if err := p.stream.RecvMsg(&w); err != nil {
			if err != io.EOF {
				p.storeErr(errs.NewTransportRecoverable("recv", err))
			}
			return
		}
		p.ch <- fromWire(w)
	}
}

func (p *pump) storeErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *pump) loadErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}
