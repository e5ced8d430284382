// Command run-client-app is the node-side CLI: it parses flags,
// resolves a client-app reference against the compiled-in registry,
// and drives the session loop until a terminating control message, an
// unrecoverable bidi-stream AppError, or a process signal.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/flwr-go/flower-node/client"
	"github.com/flwr-go/flower-node/client/transport"
	"github.com/flwr-go/flower-node/internal/clientapp"
	"github.com/flwr-go/flower-node/internal/errs"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var (
		insecure         bool
		insecureSet      bool
		rest             bool
		rootCertificates string
		server           string
		maxRetries       uint64
		maxWaitTime      float64
		dir              string
	)

	cmd := &cobra.Command{
		Use:           "run-client-app client-app",
		Short:         "Connect a node to a federated-learning broker and run a client-app",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := cmd.Flags()
	flags.BoolVar(&insecure, "insecure", false, "disable TLS; mutually exclusive with --root-certificates")
	flags.BoolVar(&rest, "rest", false, "select the rest transport instead of rere")
	flags.StringVar(&rootCertificates, "root-certificates", "", "PEM bundle for TLS peer verification")
	flags.StringVar(&server, "server", "0.0.0.0:9092", "broker address")
	flags.Uint64Var(&maxRetries, "max-retries", 0, "retry invoker's max_tries (0 = unbounded)")
	flags.Float64Var(&maxWaitTime, "max-wait-time", 0, "retry invoker's max_elapsed_time in seconds (0 = unbounded)")
	flags.StringVar(&dir, "dir", "", "resolution root for the app reference (defaults to cwd)")

	exitCode := 0
	cmd.RunE = func(_ *cobra.Command, rawArgs []string) error {
		flags.Visit(func(f *pflag.Flag) {
			if f.Name == "insecure" {
				insecureSet = true
			}
		})

		appRef := rawArgs[0]
		if dir != "" {
			// The registry resolves app refs by name, not filesystem path,
			// but --dir still governs relative paths used elsewhere in this
			// invocation (e.g. --root-certificates).
			if err := os.Chdir(dir); err != nil {
				exitCode = 1
				return errs.NewConfigError("--dir: %v", err)
			}
		}

		var rootPEM []byte
		if rootCertificates != "" {
			b, err := os.ReadFile(rootCertificates)
			if err != nil {
				exitCode = 1
				return errs.NewConfigError("--root-certificates: %v", err)
			}
			rootPEM = b
		}

		kind := transport.KindRere
		if rest {
			kind = transport.KindRest
		}

		app, err := resolveApp(appRef)
		if err != nil {
			exitCode = 1
			return err
		}

		c, err := client.New(client.Options{
			Address:          server,
			Transport:        kind,
			Insecure:         insecure,
			InsecureSet:      insecureSet,
			RootCertificates: rootPEM,
			MaxRetries:       maxRetries,
			MaxWaitTime:      time.Duration(maxWaitTime * float64(time.Second)),
		})
		if err != nil {
			exitCode = 1
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		runErr := c.Run(ctx, app)
		if runErr == nil {
			return nil
		}

		var cfgErr *errs.ConfigError
		var appErr *errs.AppError
		switch {
		case errors.As(runErr, &cfgErr):
			exitCode = 1
		case errors.As(runErr, &appErr):
			exitCode = 2
		default:
			exitCode = 2
		}
		return runErr
	}

	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "run-client-app:", err)
		if exitCode == 0 {
			exitCode = 1
		}
	}
	return exitCode
}

func resolveApp(ref string) (client.ClientApp, error) {
	return clientapp.Resolve(ref)
}
