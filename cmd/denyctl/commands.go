package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/google/shlex"

	"github.com/censys/radio-survey/pkg/denylist"
	"github.com/censys/radio-survey/pkg/storage"
)

var errUsage = errors.New("usage")

type command struct {
	usage   string
	help    string
	minArgs int
	maxArgs int
	handler func(ctx context.Context, repo storage.DenylistRepository, out io.Writer, args []string) error
}

var commands = map[string]command{
	"add": {
		usage:   "ADDRESS [NOTE]",
		help:    "Denylist a hardware address; re-adding replaces the note",
		minArgs: 1,
		maxArgs: 2,
		handler: func(ctx context.Context, repo storage.DenylistRepository, out io.Writer, args []string) error {
			entry := storage.DenylistEntry{Address: args[0]}
			if len(args) > 1 {
				entry.Note = args[1]
			}
			if err := repo.UpsertEntry(ctx, entry); err != nil {
				return err
			}
			fmt.Fprintf(out, "added %s\n", denylist.Normalize(args[0]))
			return nil
		},
	},
	"remove": {
		usage:   "ADDRESS",
		help:    "Remove a hardware address from the denylist",
		minArgs: 1,
		maxArgs: 1,
		handler: func(ctx context.Context, repo storage.DenylistRepository, out io.Writer, args []string) error {
			ok, err := repo.DeleteEntry(ctx, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s is not denylisted", args[0])
			}
			fmt.Fprintf(out, "removed %s\n", denylist.Normalize(args[0]))
			return nil
		},
	},
	"list": {
		help: "Print every denylisted address",
		handler: func(ctx context.Context, repo storage.DenylistRepository, out io.Writer, args []string) error {
			entries, err := repo.ListEntries(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ADDRESS\tADDED\tNOTE")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Address, e.AddedAt.UTC().Format(time.RFC3339), e.Note)
			}
			return tw.Flush()
		},
	},
}

func execute(ctx context.Context, repo storage.DenylistRepository, out io.Writer, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("unrecognized command %q", args[0])
	}
	rest := args[1:]
	if len(rest) < cmd.minArgs || len(rest) > cmd.maxArgs {
		return fmt.Errorf("%w: %s %s", errUsage, args[0], cmd.usage)
	}
	return cmd.handler(ctx, repo, out, rest)
}

// runShell reads commands from in until EOF or "exit". Failed commands are
// reported and the shell keeps going.
func runShell(ctx context.Context, repo storage.DenylistRepository, in io.Reader, out, errOut io.Writer, timeout time.Duration) error {
	scanner := bufio.NewScanner(in)
	for fmt.Fprint(out, "> "); scanner.Scan(); fmt.Fprint(out, "> ") {
		args, err := shlex.Split(scanner.Text())
		if err != nil {
			fmt.Fprintf(errOut, "invalid command: %s\n", err)
			continue
		}
		if len(args) == 0 {
			continue
		}
		if args[0] == "exit" || args[0] == "quit" {
			return nil
		}
		if args[0] == "help" {
			writeCommands(out)
			continue
		}
		cmdCtx, cancel := context.WithTimeout(ctx, timeout)
		err = execute(cmdCtx, repo, out, args)
		cancel()
		if err != nil {
			fmt.Fprintf(errOut, "%s\n", err)
		}
	}
	return scanner.Err()
}

func writeCommands(out io.Writer) {
	names := make([]string, 0, len(commands)+1)
	for name := range commands {
		names = append(names, name)
	}
	names = append(names, "shell")
	sort.Strings(names)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, name := range names {
		if name == "shell" {
			fmt.Fprintf(tw, "  shell\t\tRead commands interactively\n")
			continue
		}
		c := commands[name]
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", name, c.usage, c.help)
	}
	tw.Flush()
}
