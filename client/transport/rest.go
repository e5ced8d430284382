package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/binary"
	"strconv"
	"strings"

	resty "github.com/go-resty/resty/v2"

	"github.com/flwr-go/flower-node/client/message"
	"github.com/flwr-go/flower-node/internal/errs"
)

// rest implements Connector over plain HTTP POST endpoints with a
// length-prefixed gob body, using github.com/go-resty/resty/v2. The
// server address must carry an explicit http:// or https:// scheme.
type rest struct {
	opts   Options
	client *resty.Client
}

// NewRest builds the rest Connector variant. Returns a *errs.ConfigError
// if Address lacks an http(s):// scheme.
func NewRest(opts Options) (Connector, error) {
	if !strings.HasPrefix(opts.Address, "http://") && !strings.HasPrefix(opts.Address, "https://") {
		return nil, errs.NewConfigError("rest transport: address %q must carry an explicit http:// or https:// scheme", opts.Address)
	}

	tlsCfg, err := opts.TLSConfig()
	if err != nil {
		return nil, err
	}

	c := resty.New().SetBaseURL(opts.Address)
	if tlsCfg != nil {
		c.SetTLSClientConfig(tlsCfg)
	} else if strings.HasPrefix(opts.Address, "https://") {
		// --insecure with an https:// address: skip peer verification
		// rather than silently downgrading the scheme.
		c.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}

	return &rest{opts: opts, client: c}, nil
}

const (
	restPathCreateNode = "/api/v0/transport/create-node"
	restPathDeleteNode = "/api/v0/transport/delete-node"
	restPathPull       = "/api/v0/transport/pull-task-ins"
	restPathPush       = "/api/v0/transport/push-task-res"
	restPathPing       = "/api/v0/transport/ping"
)

func (r *rest) Open(ctx context.Context) (*Scope, func() error, error) {
	var nodeID int64
	var anonymous = true

	post := func(ctx context.Context, path string, req any, reply any) error {
		body, err := encodeLengthPrefixed(req)
		if err != nil {
			return errs.NewTransportFatal(path, err)
		}
		request := r.client.R().SetContext(ctx).SetBody(body)
		if !anonymous {
			request.SetHeader(nodeIDMetadataKey, strconv.FormatInt(nodeID, 10))
		}
		resp, err := request.Post(path)
		if err != nil {
			return errs.NewTransportRecoverable(path, err)
		}
		if resp.StatusCode() >= 500 {
			return errs.NewTransportRecoverable(path, errHTTPStatus(resp.StatusCode()))
		}
		if resp.StatusCode() >= 400 {
			return errs.NewTransportFatal(path, errHTTPStatus(resp.StatusCode()))
		}
		if reply != nil {
			return decodeLengthPrefixed(resp.Body(), reply)
		}
		return nil
	}

	scope := &Scope{
		Receive: func(ctx context.Context) (*message.Message, error) {
			req := wirePullRequest{NodeID: nodeID, Anonymous: anonymous, Limit: 1}
			var reply wirePullReply
			if err := post(ctx, restPathPull, &req, &reply); err != nil {
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
			return post(ctx, restPathPush, &req, &wirePushReply{})
		},
		CreateNode: func(ctx context.Context) (int64, int64, error) {
			var reply wireNodeReply
			if err := post(ctx, restPathCreateNode, &wireNodeRequest{}, &reply); err != nil {
				return 0, 0, err
			}
			nodeID = reply.NodeID
			anonymous = false
			return reply.NodeID, reply.PingIntervalSeconds, nil
		},
		DeleteNode: func(ctx context.Context) error {
			return post(ctx, restPathDeleteNode, &wireNodeRequest{NodeID: nodeID}, &wireNodeReply{})
		},
		Ping: func(ctx context.Context, node int64, pingIntervalSeconds int64) error {
			return post(ctx, restPathPing, &wireNodeRequest{NodeID: node, PingIntervalSeconds: pingIntervalSeconds}, &wireNodeReply{})
		},
	}

	closeFn := func() error { return nil } // resty's http.Client has no explicit close

	return scope, closeFn, nil
}

// encodeLengthPrefixed gob-encodes v prefixed with its big-endian
// uint32 length.
func encodeLengthPrefixed(v any) ([]byte, error) {
	payload, err := gobCodec{}.Marshal(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(payload))); err != nil {
		return nil, err
	}
	buf.Write(payload)
	return buf.Bytes(), nil
}

func decodeLengthPrefixed(b []byte, v any) error {
	if len(b) < 4 {
		return errs.NewTransportFatal("decode", errHTTPStatus(0))
	}
	n := binary.BigEndian.Uint32(b[:4])
	if uint32(len(b[4:])) < n {
		return errs.NewTransportFatal("decode", errHTTPStatus(0))
	}
	return gobCodec{}.Unmarshal(b[4:4+n], v)
}

type errHTTPStatus int

func (e errHTTPStatus) Error() string {
	return "rest transport: unexpected status " + strconv.Itoa(int(e))
}
