package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/andrioni/nessie/internal/assets"
	nessiefuse "github.com/andrioni/nessie/internal/fuse"
	"github.com/andrioni/nessie/internal/versioned"
)

func newFlags(name string, a *app) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	return fs
}

// wantArgs checks the positional argument count; maxArgs < 0 means no limit.
func wantArgs(fs *flag.FlagSet, minArgs, maxArgs int) error {
	if n := fs.NArg(); n < minArgs || (maxArgs >= 0 && n > maxArgs) {
		return fmt.Errorf("%w: %s: wrong number of arguments", versioned.ErrInvalidArgument, fs.Name())
	}
	return nil
}

func cmdBranch(ctx context.Context, a *app, args []string) error {
	fs := newFlags("branch", a)
	from := fs.String("from", "", "Start at this ref instead of an empty root")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := wantArgs(fs, 1, 1); err != nil {
		return err
	}
	target := versioned.NoHash
	if *from != "" {
		h, err := a.resolveHash(ctx, *from)
		if err != nil {
			return err
		}
		target = h
	}
	ref := versioned.Branch(fs.Arg(0))
	if err := a.Store.Create(ctx, ref, target); err != nil {
		return err
	}
	return printHead(ctx, a, ref)
}

func cmdTag(ctx context.Context, a *app, args []string) error {
	fs := newFlags("tag", a)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := wantArgs(fs, 2, 2); err != nil {
		return err
	}
	target, err := a.resolveHash(ctx, fs.Arg(1))
	if err != nil {
		return err
	}
	ref := versioned.Tag(fs.Arg(0))
	if err := a.Store.Create(ctx, ref, target); err != nil {
		return err
	}
	return printHead(ctx, a, ref)
}

func printHead(ctx context.Context, a *app, ref versioned.NamedRef) error {
	h, err := a.Store.ToHash(ctx, ref)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s %s\n", ref, h)
	return nil
}

func cmdDelete(ctx context.Context, a *app, args []string) error {
	fs := newFlags("delete", a)
	expect := fs.String("expect", "", "Only delete if the ref points to this hash")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := wantArgs(fs, 1, 1); err != nil {
		return err
	}
	ref, err := parseNamedRef(fs.Arg(0))
	if err != nil {
		return err
	}
	expected, err := parseOptionalHash(*expect)
	if err != nil {
		return err
	}
	return a.Store.Delete(ctx, ref, expected)
}

func cmdAssign(ctx context.Context, a *app, args []string) error {
	fs := newFlags("assign", a)
	expect := fs.String("expect", "", "Only assign if the ref points to this hash")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := wantArgs(fs, 2, 2); err != nil {
		return err
	}
	ref, err := parseNamedRef(fs.Arg(0))
	if err != nil {
		return err
	}
	expected, err := parseOptionalHash(*expect)
	if err != nil {
		return err
	}
	target, err := a.resolveHash(ctx, fs.Arg(1))
	if err != nil {
		return err
	}
	if err := a.Store.Assign(ctx, ref, expected, target); err != nil {
		return err
	}
	return printHead(ctx, a, ref)
}

// commitFlags are shared by put and rm.
type commitFlags struct {
	branch  *string
	message *string
	expect  *string
}

func addCommitFlags(fs *flag.FlagSet) commitFlags {
	return commitFlags{
		branch:  fs.String("b", "main", "Branch to commit to"),
		message: fs.String("m", "", "Commit message"),
		expect:  fs.String("expect", "", "Hash the change was prepared against; conflicting keys fail the commit"),
	}
}

func (c commitFlags) commit(ctx context.Context, a *app, defaultMsg string, ops []versioned.Operation[[]byte]) error {
	branch, err := parseNamedRef(*c.branch)
	if err != nil {
		return err
	}
	expected, err := parseOptionalHash(*c.expect)
	if err != nil {
		return err
	}
	msg := *c.message
	if msg == "" {
		msg = defaultMsg
	}
	h, err := a.Store.Commit(ctx, branch, expected, msg, ops)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, h)
	return nil
}

func cmdPut(ctx context.Context, a *app, args []string) error {
	fs := newFlags("put", a)
	cf := addCommitFlags(fs)
	ifMatch := fs.String("if-match", "", `Require the current value hash; "absent" requires a new key`)
	asset := fs.String("asset", "", "Upload this file to IPFS and store a manifest pointing at it")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *asset != "" {
		if err := wantArgs(fs, 1, 1); err != nil {
			return err
		}
	} else if err := wantArgs(fs, 2, 2); err != nil {
		return err
	}

	key, err := versioned.ParseKey(fs.Arg(0))
	if err != nil {
		return err
	}
	var value []byte
	if *asset != "" {
		value, err = uploadManifest(ctx, a, *asset)
	} else {
		value, err = readValue(fs.Arg(1))
	}
	if err != nil {
		return err
	}

	op := versioned.Put(key, value)
	switch *ifMatch {
	case "":
	case "absent":
		op = op.MatchingValue(versioned.NoHash)
	default:
		h, err := versioned.ParseHash(*ifMatch)
		if err != nil {
			return err
		}
		op = op.MatchingValue(h)
	}
	return cf.commit(ctx, a, "put "+key.String(), []versioned.Operation[[]byte]{op})
}

// readValue takes a literal value, or the contents of a file for "@path".
func readValue(arg string) ([]byte, error) {
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		if path == "-" {
			return io.ReadAll(os.Stdin)
		}
		return os.ReadFile(path)
	}
	return []byte(arg), nil
}

func uploadManifest(ctx context.Context, a *app, path string) ([]byte, error) {
	w, err := a.assets()
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	key, err := w.Upload(ctx, content)
	if err != nil {
		return nil, err
	}
	return assets.Manifest{Assets: []string{string(key)}}.Bytes()
}

func cmdRm(ctx context.Context, a *app, args []string) error {
	fs := newFlags("rm", a)
	cf := addCommitFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := wantArgs(fs, 1, -1); err != nil {
		return err
	}
	ops := make([]versioned.Operation[[]byte], 0, fs.NArg())
	for _, arg := range fs.Args() {
		key, err := versioned.ParseKey(arg)
		if err != nil {
			return err
		}
		ops = append(ops, versioned.Delete[[]byte](key))
	}
	return cf.commit(ctx, a, "rm "+strings.Join(fs.Args(), " "), ops)
}

func cmdGet(ctx context.Context, a *app, args []string) error {
	fs := newFlags("get", a)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := wantArgs(fs, 2, 2); err != nil {
		return err
	}
	ref, err := parseRef(fs.Arg(0))
	if err != nil {
		return err
	}
	key, err := versioned.ParseKey(fs.Arg(1))
	if err != nil {
		return err
	}
	v, ok, err := a.Store.GetValue(ctx, ref, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: key %s", versioned.ErrNotFound, key)
	}
	_, err = a.out.Write(v)
	return err
}

func cmdLog(ctx context.Context, a *app, args []string) error {
	fs := newFlags("log", a)
	n := fs.Int("n", 0, "Show at most this many commits (0 for all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := wantArgs(fs, 0, 1); err != nil {
		return err
	}
	refArg := "main"
	if fs.NArg() == 1 {
		refArg = fs.Arg(0)
	}
	ref, err := parseRef(refArg)
	if err != nil {
		return err
	}
	seq, err := a.Store.GetCommits(ctx, ref)
	if err != nil {
		return err
	}
	shown := 0
	for c, err := range seq {
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%s %s\n", c.Hash, c.Value)
		shown++
		if *n > 0 && shown >= *n {
			break
		}
	}
	return nil
}

func cmdRefs(ctx context.Context, a *app, args []string) error {
	fs := newFlags("refs", a)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := wantArgs(fs, 0, 0); err != nil {
		return err
	}
	refs, err := a.Store.GetNamedRefs(ctx)
	if err != nil {
		return err
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Value.String() < refs[j].Value.String() })
	for _, r := range refs {
		fmt.Fprintf(a.out, "%s %s\n", r.Value, r.Hash)
	}
	return nil
}

func cmdKeys(ctx context.Context, a *app, args []string) error {
	fs := newFlags("keys", a)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := wantArgs(fs, 1, 1); err != nil {
		return err
	}
	ref, err := parseRef(fs.Arg(0))
	if err != nil {
		return err
	}
	keys, err := a.Store.GetKeys(ctx, ref)
	if err != nil {
		return err
	}
	for _, k := range keys {
		fmt.Fprintln(a.out, k)
	}
	return nil
}

func cmdDiff(ctx context.Context, a *app, args []string) error {
	fs := newFlags("diff", a)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := wantArgs(fs, 2, 2); err != nil {
		return err
	}
	from, err := parseRef(fs.Arg(0))
	if err != nil {
		return err
	}
	to, err := parseRef(fs.Arg(1))
	if err != nil {
		return err
	}
	diffs, err := a.Store.Diff(ctx, from, to)
	if err != nil {
		return err
	}
	for _, d := range diffs {
		mark := "~"
		switch {
		case !d.From.Found:
			mark = "+"
		case !d.To.Found:
			mark = "-"
		}
		fmt.Fprintf(a.out, "%s %s\n", mark, d.Key)
	}
	return nil
}

func cmdMount(ctx context.Context, a *app, args []string) error {
	fs := newFlags("mount", a)
	debug := fs.Bool("debug", false, "Log FUSE requests")
	readLog := fs.String("read-log", "", "Append a JSON line per value read to this file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := wantArgs(fs, 1, 1); err != nil {
		return err
	}
	mountpoint := fs.Arg(0)
	if err := os.MkdirAll(mountpoint, 0755); err != nil {
		return fmt.Errorf("create mountpoint: %w", err)
	}

	a.log.Info("mounting", "mountpoint", mountpoint)
	mo := nessiefuse.MountOptions{Debug: *debug}
	if *readLog != "" {
		mo.ReadLog = nessiefuse.NewReadLog(*readLog)
	}
	server, err := nessiefuse.MountFS(mountpoint, a.Store, mo)
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}

	// Unmount on signal
	go func() {
		<-ctx.Done()
		a.log.Info("shutting down")
		if err := server.Unmount(); err != nil {
			a.log.Error("unmount", "err", err)
		}
	}()

	a.log.Info("ready", "pid", os.Getpid())
	server.Wait()
	a.log.Info("stopped")
	return nil
}
