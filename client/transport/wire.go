package transport

import (
	"github.com/flwr-go/flower-node/client/message"
	"github.com/flwr-go/flower-node/internal/wire"
)

// These aliases keep the rest of this package's call sites (written
// before the wire envelope moved to internal/wire so broker/rpc could
// share it) unchanged.
type (
	wireMessage     = wire.Message
	wireNodeRequest = wire.NodeRequest
	wireNodeReply   = wire.NodeReply
	wirePullRequest = wire.PullRequest
	wirePullReply   = wire.PullReply
	wirePushRequest = wire.PushRequest
	wirePushReply   = wire.PushReply
	gobCodec        = wire.GobCodec
)

func toWire(m message.Message) wireMessage   { return wire.ToWire(m) }
func fromWire(w wireMessage) message.Message { return wire.FromWire(w) }
