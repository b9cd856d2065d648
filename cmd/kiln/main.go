package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/kilnproject/kiln/internal/cli"
	"github.com/kilnproject/kiln/internal/host"
)

// version is stamped at build time via -ldflags.
var version = "dev"

// main is the entrypoint for the kiln host.
func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})))

	os.Exit(run(os.Args[1:]))
}

// run encapsulates the host lifecycle so main stays a thin exit-code
// adapter.
func run(args []string) int {
	opts, shouldExit, err := cli.Parse(args, version, os.Stdout)
	if err != nil {
		if exitErr, ok := err.(*cli.ExitError); ok {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			return exitErr.Code
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if shouldExit {
		return 0
	}

	h := host.New(os.Stdout, os.Stderr, opts)
	return h.Run(context.Background())
}
