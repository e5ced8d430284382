package clientapp

import (
	"context"

	"github.com/flwr-go/flower-node/client"
	"github.com/flwr-go/flower-node/client/message"
)

func init() {
	Register("examples.echo:App", func() client.ClientApp {
		return func(_ context.Context, msg message.Message, appCtx any) (message.Message, any, error) {
			return msg.NewReply(msg.Payload), appCtx, nil
		}
	})
}
