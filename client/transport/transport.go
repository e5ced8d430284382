// Package transport implements the three pluggable connection
// variants: bidi-stream, rere (request/response), and rest. All
// three satisfy the same Scope contract: receive, send, create-node,
// delete-node, scoped to a single connection lifetime.
package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"

	"github.com/flwr-go/flower-node/client/message"
	"github.com/flwr-go/flower-node/client/retry"
	"github.com/flwr-go/flower-node/internal/errs"
)

// DefaultMaxMessageBytes is the default transport message size limit,
// 512 MiB, which must match the broker's configured maximum.
const DefaultMaxMessageBytes = 512 * 1024 * 1024

// Options configures a Connector across all three variants.
type Options struct {
	Address          string
	Insecure         bool
	RootCertificates []byte // PEM bundle; nil means no custom root pool
	MaxMessageBytes   int
	Retry             *retry.Invoker
}

// TLSConfig resolves Insecure/RootCertificates: when Insecure is left
// at its zero value the caller must
// have already defaulted it to true iff no root-certificate material
// was supplied (see ResolveInsecure). Returns nil (plaintext) when
// Insecure is true, a *tls.Config with the default root pool when
// Insecure is false and RootCertificates is empty, or a *tls.Config
// pinned to RootCertificates otherwise.
func (o Options) TLSConfig() (*tls.Config, error) {
	if o.Insecure {
		if len(o.RootCertificates) != 0 {
			return nil, errs.NewConfigError("transport: insecure=true is incompatible with root certificates")
		}
		return nil, nil
	}
	if len(o.RootCertificates) == 0 {
		return &tls.Config{}, nil
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(o.RootCertificates) {
		return nil, errs.NewConfigError("transport: root-certificates: no PEM certificates found")
	}
	return &tls.Config{RootCAs: pool}, nil
}

// ResolveInsecure defaults an unset Insecure flag: true iff no
// root-certificate material was supplied.
func ResolveInsecure(insecureSet bool, insecure bool, rootCerts []byte) (bool, error) {
	if !insecureSet {
		return len(rootCerts) == 0, nil
	}
	if insecure && len(rootCerts) != 0 {
		return false, errs.NewConfigError("transport: --insecure is mutually exclusive with --root-certificates")
	}
	return insecure, nil
}

func (o Options) maxMessageBytes() int {
	if o.MaxMessageBytes > 0 {
		return o.MaxMessageBytes
	}
	return DefaultMaxMessageBytes
}

// Scope is the bounded set of operations valid for the lifetime of one
// connection. CreateNode and DeleteNode are nil when
// the variant folds node identity into the connection itself
// (bidi-stream); callers must check for nil before invoking them.
type Scope struct {
	// Receive returns the next available message, or (nil, nil) if
	// none is ready yet. Must not block indefinitely.
	Receive func(ctx context.Context) (*message.Message, error)

	// Send delivers a reply. Failures are *errs.TransportRecoverable
	// or *errs.TransportFatal.
	Send func(ctx context.Context, msg message.Message) error

	// CreateNode announces this node to the broker, returning the
	// assigned node id and ping interval. Nil for bidi-stream.
	CreateNode func(ctx context.Context) (nodeID int64, pingInterval int64, err error)

	// DeleteNode retracts this node's registration. Nil for
	// bidi-stream.
	DeleteNode func(ctx context.Context) error

	// Ping acknowledges liveness, used by the heartbeat loop. Nil
	// where the transport has no separate heartbeat RPC (bidi-stream:
	// liveness is the stream itself).
	Ping func(ctx context.Context, nodeID int64, pingIntervalSeconds int64) error
}

// Connector opens a transport scope. Open must release all I/O
// resources deterministically, including on error paths, when the
// returned close function is invoked exactly once.
type Connector interface {
	Open(ctx context.Context) (scope *Scope, closeScope func() error, err error)
}

// Kind identifies which Connector variant to build.
type Kind string

const (
	KindBidiStream Kind = "bidi-stream"
	KindRere       Kind = "rere"
	KindRest       Kind = "rest"
)

// New builds the Connector for kind. Unknown kinds are a ConfigError.
func New(kind Kind, opts Options) (Connector, error) {
	switch kind {
	case KindBidiStream:
		return NewBidiStream(opts), nil
	case KindRere:
		return NewRere(opts), nil
	case KindRest:
		return NewRest(opts)
	default:
		return nil, errs.NewConfigError("transport: unknown kind %q", kind)
	}
}
