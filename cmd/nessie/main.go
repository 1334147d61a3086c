// Command nessie manages a versioned key/value store from the shell.
//
//	nessie [flags] <command> [args]
//
// Refs are written branch:<name>, tag:<name>, a commit hash, or a bare
// branch name.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/andrioni/nessie/internal/config"
	"github.com/andrioni/nessie/internal/logging"
	"github.com/andrioni/nessie/internal/versioned"
)

type command struct {
	usage string
	run   func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"branch": {"branch [-from ref] <name>", cmdBranch},
	"tag":    {"tag <name> <ref>", cmdTag},
	"delete": {"delete [-expect hash] <ref>", cmdDelete},
	"assign": {"assign [-expect hash] <ref> <target>", cmdAssign},
	"put":    {"put [-b branch] [-m msg] [-expect hash] [-if-match hash|absent] [-asset file] <key> [value|@file]", cmdPut},
	"rm":     {"rm [-b branch] [-m msg] [-expect hash] <key>...", cmdRm},
	"get":    {"get <ref> <key>", cmdGet},
	"log":    {"log [-n count] <ref>", cmdLog},
	"refs":   {"refs", cmdRefs},
	"keys":   {"keys <ref>", cmdKeys},
	"diff":   {"diff <from> <to>", cmdDiff},
	"mount":  {"mount [-debug] [-read-log file] <mountpoint>", cmdMount},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "nessie: %v\n", err)
		}
		os.Exit(1)
	}
}

func usage(w io.Writer, global *flag.FlagSet) {
	fmt.Fprintln(w, "usage: nessie [flags] <command> [args]")
	fmt.Fprintln(w, "\ncommands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s\n", commands[name].usage)
	}
	fmt.Fprintln(w, "\nflags:")
	global.SetOutput(w)
	global.PrintDefaults()
}

// run parses global flags, opens the store and dispatches one command.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg := config.Default()
	global := flag.NewFlagSet("nessie", flag.ContinueOnError)
	global.SetOutput(stderr)
	cfg.RegisterFlags(global)
	global.Usage = func() { usage(stderr, global) }
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return flag.ErrHelp
	}
	name := global.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		global.Usage()
		return fmt.Errorf("unknown command %q", name)
	}

	log := cfg.Logger()
	ctx = logging.WithDefaultArgs(ctx, "cmd", name)
	a, err := openApp(cfg, log, stdout, stderr)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(); cerr != nil {
			log.Error("close store", "err", cerr)
		}
	}()

	if cfg.MetricsAddr != "" {
		srv, err := serveMetrics(cfg.MetricsAddr, log, a.collectors()...)
		if err != nil {
			return err
		}
		defer srv.Close()
	}

	if err := cmd.run(ctx, a, global.Args()[1:]); err != nil {
		log.DebugCtx(ctx, "command failed", "err", err)
		return err
	}
	return nil
}

// parseRef reads a ref argument.
func parseRef(s string) (versioned.Ref, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty ref", versioned.ErrInvalidArgument)
	}
	if named, ok, err := parseNamed(s); ok {
		return named, err
	}
	if h, err := versioned.ParseHash(s); err == nil {
		return h, nil
	}
	return versioned.Branch(s), nil
}

// parseNamedRef reads a ref argument that must name a branch or tag.
func parseNamedRef(s string) (versioned.NamedRef, error) {
	ref, err := parseRef(s)
	if err != nil {
		return versioned.NamedRef{}, err
	}
	named, ok := ref.(versioned.NamedRef)
	if !ok {
		return versioned.NamedRef{}, fmt.Errorf("%w: %s is a hash, not a branch or tag", versioned.ErrInvalidArgument, s)
	}
	return named, nil
}

func parseNamed(s string) (versioned.NamedRef, bool, error) {
	for _, kind := range []versioned.RefKind{versioned.BranchKind, versioned.TagKind} {
		prefix := kind.String() + ":"
		if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
			name := s[len(prefix):]
			if name == "" {
				return versioned.NamedRef{}, true, fmt.Errorf("%w: %q has no name", versioned.ErrInvalidArgument, s)
			}
			return versioned.NamedRef{Kind: kind, Name: name}, true, nil
		}
	}
	return versioned.NamedRef{}, false, nil
}

// parseOptionalHash reads a -expect style flag; empty means NoHash.
func parseOptionalHash(s string) (versioned.Hash, error) {
	if s == "" {
		return versioned.NoHash, nil
	}
	return versioned.ParseHash(s)
}
