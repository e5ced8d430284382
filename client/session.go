// Package client implements the node-side session loop: the outer
// reconnect loop and inner receive-execute-reply pump that
// compose the address parser, retry invoker, transport adapter,
// control-message handler, and node-state store, driving an external
// ClientApp.
package client

import (
	"context"
	"time"

	"github.com/flwr-go/flower-node/client/address"
	"github.com/flwr-go/flower-node/client/control"
	"github.com/flwr-go/flower-node/client/message"
	"github.com/flwr-go/flower-node/client/nodestate"
	"github.com/flwr-go/flower-node/client/retry"
	"github.com/flwr-go/flower-node/client/transport"
	"github.com/flwr-go/flower-node/internal/errs"
	"github.com/flwr-go/flower-node/internal/telemetry"
)

// Logger is the structured logger type used throughout this package;
// see internal/telemetry.
type Logger = telemetry.Logger

// idlePoll is the fixed sleep the inner loop takes when receive()
// returns no message.
const idlePoll = 3 * time.Second

// ClientApp is the external, user-supplied computation the session
// loop invokes per inbound message. It returns the reply to send and
// the (possibly replaced) run context to persist via update_context.
// A non-nil error signals an application failure.
type ClientApp func(ctx context.Context, msg message.Message, appCtx any) (reply message.Message, newCtx any, err error)

// Options configures a Client (the programmatic equivalent of the
// CLI's flags / start_client).
type Options struct {
	Address          string
	Transport        transport.Kind
	Insecure         bool
	InsecureSet      bool
	RootCertificates []byte
	MaxMessageBytes  int
	MaxRetries       uint64        // 0 = unbounded
	MaxWaitTime      time.Duration // 0 = unbounded
	Logger           *Logger
	ContextFactory   func() any
}

// Client is the node's session-loop driver: outer reconnect loop plus
// inner receive-execute-reply pump.
type Client struct {
	connector transport.Connector
	kind      transport.Kind
	retry     *retry.Invoker
	nodes     *nodestate.Store
	log       *Logger
}

// New builds a Client from opts. Returns a *errs.ConfigError for a
// malformed address, conflicting TLS flags, or an unknown transport
// kind.
func New(opts Options) (*Client, error) {
	if opts.Logger == nil {
		opts.Logger = telemetry.Discard()
	}

	insecure, err := transport.ResolveInsecure(opts.InsecureSet, opts.Insecure, opts.RootCertificates)
	if err != nil {
		return nil, err
	}

	kind := opts.Transport
	if kind == "" {
		kind = transport.KindBidiStream
	}

	// The rest variant takes an http(s):// URL, which NewRest checks.
	if kind != transport.KindRest {
		parsed, err := address.Parse(opts.Address)
		if err != nil {
			return nil, err
		}
		opts.Address = parsed.String()
	}

	connector, err := transport.New(kind, transport.Options{
		Address:          opts.Address,
		Insecure:         insecure,
		RootCertificates: opts.RootCertificates,
		MaxMessageBytes:  opts.MaxMessageBytes,
	})
	if err != nil {
		return nil, err
	}

	inv := retry.New(
		retry.WithMaxTries(opts.MaxRetries),
		retry.WithMaxElapsedTime(opts.MaxWaitTime),
		retry.WithOnBackoff(func(e retry.Event) {
			opts.Logger.Notice().Int64("tries", e.Tries).Err(e.Err).Log("transport reconnect backing off")
		}),
		retry.WithOnGiveUp(func(e retry.Event) {
			opts.Logger.Err().Err(e.Err).Int64("tries", e.Tries).Log("transport reconnect gave up")
		}),
	)

	return &Client{
		connector: connector,
		kind:      kind,
		retry:     inv,
		nodes:     nodestate.New(opts.ContextFactory),
		log:       opts.Logger,
	}, nil
}

// Run drives the outer reconnect loop until the broker issues a
// terminating control message, the ClientApp raises under the
// bidi-stream policy, or ctx is cancelled.
func (c *Client) Run(ctx context.Context, app ClientApp) error {
	for {
		sleep, err := c.connectAndPump(ctx, app)
		if err != nil {
			return err
		}
		if sleep <= 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(sleep):
		}
	}
}

// connectAndPump implements one iteration of the outer loop: open the
// transport scope, announce the node if applicable, run the inner
// pump until it signals break, then retract and release, regardless
// of how the pump exited.
func (c *Client) connectAndPump(ctx context.Context, app ClientApp) (sleepDuration time.Duration, err error) {
	var scope *transport.Scope
	var closeScope func() error

	openErr := c.retry.Do(ctx, func(ctx context.Context) error {
		s, cl, e := c.connector.Open(ctx)
		if e != nil {
			return e
		}
		scope, closeScope = s, cl
		return nil
	})
	if openErr != nil {
		return 0, openErr
	}

	var nodeID int64
	var pingInterval time.Duration
	if scope.CreateNode != nil {
		id, pingSeconds, createErr := scope.CreateNode(ctx)
		if createErr != nil {
			_ = closeScope()
			return 0, createErr
		}
		nodeID = id
		pingInterval = time.Duration(pingSeconds) * time.Second
	}

	stopHeartbeat := startHeartbeat(ctx, scope, c.log, nodeID, pingInterval)

	sleepDuration, pumpErr := c.pump(ctx, scope, app)

	stopHeartbeat()
	if scope.DeleteNode != nil {
		// Best-effort: delete_node is attempted on every exit path, even
		// an aborted sleep.
		_ = scope.DeleteNode(ctx)
	}
	_ = closeScope()

	return sleepDuration, pumpErr
}

// pump implements the inner receive-execute-reply loop. It returns
// the sleep duration to hand back to the
// outer loop: >0 after a reconnect directive, 0 after a shutdown
// directive or context cancellation.
func (c *Client) pump(ctx context.Context, scope *transport.Scope, app ClientApp) (time.Duration, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, nil
		}

		msg, err := scope.Receive(ctx)
		if err != nil {
			if !errs.Recoverable(err) {
				return 0, err
			}
			select {
			case <-ctx.Done():
				return 0, nil
			case <-time.After(idlePoll):
			}
			continue
		}
		if msg == nil {
			select {
			case <-ctx.Done():
				return 0, nil
			case <-time.After(idlePoll):
			}
			continue
		}

		c.log.Info().
			Int64("run_id", msg.Metadata.RunID).
			Str("message_type", string(msg.Metadata.MessageType)).
			Str("message_id", msg.Metadata.MessageID).
			Log("received message")

		if reply, sleep, isControl := control.Handle(*msg); isControl {
			if sendErr := scope.Send(ctx, reply); sendErr != nil {
				return 0, sendErr
			}
			return sleep, nil
		}

		reply, dispatchErr := c.dispatch(ctx, *msg, app)
		if dispatchErr != nil {
			// bidi-stream re-raises an AppError and the process
			// terminates; the outer Run loop returns it.
			return 0, dispatchErr
		}

		if err := scope.Send(ctx, reply); err != nil {
			return 0, err
		}
	}
}

// dispatch runs the ClientApp for msg, applying the per-transport
// failure policy below. A non-nil error return means the
// bidi-stream transport's "re-raise, terminate" policy applies; the
// rere/rest policy instead always returns (reply, nil).
func (c *Client) dispatch(ctx context.Context, msg message.Message, app ClientApp) (message.Message, error) {
	run := msg.Metadata.RunID
	c.nodes.RegisterContext(run)
	appCtx := c.nodes.RetrieveContext(run)

	// Preset a reply to an error-of-last-resort, so that any
	// subsequent failure still yields a sendable reply.
	reply := msg.NewReply(nil).WithError(message.Error{Code: 0, Reason: "Unknown"})

	appReply, newCtx, appErr := app(ctx, msg, appCtx)
	if appErr == nil {
		c.nodes.UpdateContext(run, newCtx)
		return appReply, nil
	}

	if c.kind == transport.KindBidiStream {
		return message.Message{}, appErr
	}

	// rere/rest: node-state is left untouched; fabricate an error
	// reply whose reason joins the failure's kind and message.
	kind, text := errs.AppErrorParts(appErr)
	return reply.WithError(message.Error{Code: 0, Reason: kind + ":" + text}), nil
}
