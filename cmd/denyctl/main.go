// Command denyctl manages the PostgreSQL-backed denylist that surveyor
// loads with --denylist-source=postgres.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	pgstore "github.com/censys/radio-survey/pkg/storage/postgres"
)

func usage(fs *pflag.FlagSet) func() {
	return func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTION...] COMMAND [ARG...]\n\nOptions:\n", os.Args[0])
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nCommands:\n")
		writeCommands(os.Stderr)
	}
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	fs := pflag.NewFlagSet("denyctl", pflag.ContinueOnError)
	fs.Usage = usage(fs)
	databaseURL := fs.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection URL")
	timeout := fs.Duration("timeout", 10*time.Second, "timeout per command")
	if err := fs.Parse(argv); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	args := fs.Args()
	if len(args) == 0 {
		fs.Usage()
		return 2
	}
	if *databaseURL == "" {
		fmt.Fprintln(os.Stderr, "--database-url or DATABASE_URL is required")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgstore.NewDB(ctx, *databaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "db connect: %s\n", err)
		return 1
	}
	repo := pgstore.NewRepository(pool)
	defer repo.Close()

	if err := pgstore.EnsureSchema(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "db schema: %s\n", err)
		return 1
	}

	if args[0] == "shell" {
		if err := runShell(ctx, repo, os.Stdin, os.Stdout, os.Stderr, *timeout); err != nil {
			fmt.Fprintf(os.Stderr, "error reading command: %s\n", err)
			return 1
		}
		return 0
	}

	cmdCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	if err := execute(cmdCtx, repo, os.Stdout, args); err != nil {
		if errors.Is(err, errUsage) {
			fs.Usage()
		}
		fmt.Fprintf(os.Stderr, "%s\n", err)
		return 1
	}
	return 0
}
