// Package clientapp resolves the CLI's positional client-app
// reference ("module:attribute" form) against a static, compiled-in
// registry. A Go binary has no late-binding import equivalent to a
// dynamically importable Python module, so call sites register a
// Factory under a name at package init, and the CLI looks it up by
// the same "module:attribute" string used to configure start_client.
package clientapp

import (
	"strings"

	"github.com/flwr-go/flower-node/client"
	"github.com/flwr-go/flower-node/internal/errs"
)

// Factory builds a fresh client.ClientApp instance.
type Factory func() client.ClientApp

var registry = map[string]Factory{}

// Register adds a Factory under ref, the exact "module:attribute"
// string users pass on the CLI. Intended to be called from an init
// function in the package defining the app.
func Register(ref string, f Factory) {
	registry[ref] = f
}

// Resolve parses ref as "module:attribute" and returns the registered
// app, or a *errs.ConfigError if ref is malformed or unregistered.
func Resolve(ref string) (client.ClientApp, error) {
	if !strings.Contains(ref, ":") {
		return nil, errs.NewConfigError("client-app: %q is not in module:attribute form", ref)
	}
	f, ok := registry[ref]
	if !ok {
		return nil, errs.NewConfigError("client-app: no app registered for %q", ref)
	}
	return f(), nil
}
