// Package main is the entrypoint for the authentication core service.
// authd serves OAuth/OIDC, magic-link, and WebAuthn passkey login flows
// over a minimal JSON API backed by an event-sourced user store.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aelexs/authcore/internal/config"
	"github.com/aelexs/authcore/internal/server"
)

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	return server.Run(ctx, server.Params{
		Name:           "authd",
		PortFromConfig: func(cfg *config.Config) int { return cfg.AuthD.HTTPPort },
		Setup:          setup,
	}, server.Listeners{})
}
