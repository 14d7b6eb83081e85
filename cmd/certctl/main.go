// Command certctl runs cert lookups from a terminal and prints JSON.
package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"path"

	"slab-scout/internal/app"
	"slab-scout/internal/config"
	"slab-scout/pkg/logging"

	"github.com/google/subcommands"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/trace"
)

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr

	// newLookupFunc builds the lookup stack from the environment.
	newLookupFunc = func(ctx context.Context) (lookupAPI, func(), error) {
		_ = godotenv.Load()
		cfg := config.Load()
		c, err := app.Build(ctx, cfg, trace.NewNoopTracerProvider().Tracer("certctl"), nil)
		if err != nil {
			return nil, nil, err
		}
		return c.Lookup, c.Close, nil
	}
)

func main() {
	os.Exit(run(context.Background(), flag.CommandLine, os.Args[1:]))
}

func run(ctx context.Context, fs *flag.FlagSet, args []string) int {
	verbose := fs.Bool("v", false, "log at debug level to stderr")
	commander := subcommands.NewCommander(fs, path.Base(os.Args[0]))
	register(commander)

	if err := fs.Parse(args); err != nil {
		return int(subcommands.ExitUsageError)
	}

	level := "warn"
	if *verbose {
		level = "debug"
	}
	slog.SetDefault(logging.New(level, "text", stderr))

	return int(commander.Execute(ctx))
}

func register(c *subcommands.Commander) {
	c.Register(c.HelpCommand(), "")
	c.Register(c.FlagsCommand(), "")
	c.Register(c.CommandsCommand(), "")

	c.Register(&lookupCmd{}, "lookup")
	c.Register(&popCmd{}, "lookup")
	c.Register(&validateCmd{}, "lookup")
	c.Register(&scoreCmd{}, "offline")
}
