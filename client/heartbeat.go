package client

import (
	"context"
	"time"

	"github.com/flwr-go/flower-node/client/transport"
)

// heartbeat spawns a ticker that calls scope.Ping at pingInterval/2,
// refreshing the broker's liveness deadline for nodeID. Transports
// with no Ping hook (bidi-stream,
// whose identity is the stream itself) get no heartbeat loop. Returns
// a stop function that must be called before the transport scope
// closes.
func startHeartbeat(ctx context.Context, scope *transport.Scope, log *Logger, nodeID int64, pingInterval time.Duration) (stop func()) {
	if scope.Ping == nil || pingInterval <= 0 {
		return func() {}
	}

	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(pingInterval / 2)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := scope.Ping(hbCtx, nodeID, int64(pingInterval/time.Second)); err != nil {
					log.Warning().Int64("node_id", nodeID).Err(err).Log("heartbeat ping failed")
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
