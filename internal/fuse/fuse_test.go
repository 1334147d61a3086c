package fuse

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/andrioni/nessie/internal/backend/memory"
	"github.com/andrioni/nessie/internal/versioned"
)

type testStore = versioned.Store[[]byte, string]

func newTestStore(t *testing.T) *testStore {
	t.Helper()
	s := versioned.New[[]byte, string](memory.New(),
		versioned.NewWorker[[]byte, string](versioned.BytesSerializer{}, versioned.StringSerializer{}),
		versioned.Options{})
	t.Cleanup(func() { s.Close() })
	return s
}

func mustCommit(t *testing.T, s *testStore, branch versioned.NamedRef, msg string, kv ...string) versioned.Hash {
	t.Helper()
	var ops []versioned.Operation[[]byte]
	for i := 0; i+1 < len(kv); i += 2 {
		k, err := versioned.ParseKey(kv[i])
		if err != nil {
			t.Fatalf("ParseKey(%q): %v", kv[i], err)
		}
		ops = append(ops, versioned.Put(k, []byte(kv[i+1])))
	}
	h, err := s.Commit(context.Background(), branch, versioned.NoHash, msg, ops)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return h
}

func names(t *testing.T, ds fs.DirStream, errno syscall.Errno) []string {
	t.Helper()
	if errno != fs.OK {
		t.Fatalf("Readdir: %v", errno)
	}
	defer ds.Close()
	var out []string
	for ds.HasNext() {
		e, errno := ds.Next()
		if errno != fs.OK {
			t.Fatalf("Next: %v", errno)
		}
		out = append(out, e.Name)
	}
	return out
}

func equal(a, b []string) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func TestRefsDirListing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for _, name := range []string{"main", "feature/x"} {
		if err := s.Create(ctx, versioned.Branch(name), versioned.NoHash); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	h := mustCommit(t, s, versioned.Branch("main"), "c1", "a", "1")
	if err := s.Create(ctx, versioned.Tag("v1"), h); err != nil {
		t.Fatalf("Create tag: %v", err)
	}

	branches := &RefsDir{store: s, kind: versioned.BranchKind}
	ds, st := branches.Readdir(ctx)
	got := names(t, ds, st)
	if want := []string{"feature%2Fx", "main"}; !equal(got, want) {
		t.Fatalf("branches = %v, want %v", got, want)
	}

	tags := &RefsDir{store: s, kind: versioned.TagKind}
	ds, st = tags.Readdir(ctx)
	got = names(t, ds, st)
	if want := []string{"v1"}; !equal(got, want) {
		t.Fatalf("tags = %v, want %v", got, want)
	}
}

func TestKeysDirListing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	main := versioned.Branch("main")
	if err := s.Create(ctx, main, versioned.NoHash); err != nil {
		t.Fatalf("Create: %v", err)
	}
	mustCommit(t, s, main, "c1", "db.t1", "one", "db.t2", "two")

	d := &KeysDir{store: s, ref: main}
	ds, st := d.Readdir(ctx)
	got := names(t, ds, st)
	if want := []string{"db.t1", "db.t2"}; !equal(got, want) {
		t.Fatalf("keys = %v, want %v", got, want)
	}

	v, err := valueBytes(ctx, s, main, versioned.MustKey("db", "t2"))
	if err != nil || string(v) != "two" {
		t.Fatalf("valueBytes = %q, %v", v, err)
	}
	_, err = valueBytes(ctx, s, main, versioned.MustKey("nope"))
	if errno(err) != syscall.ENOENT {
		t.Fatalf("missing key errno = %v, want ENOENT", errno(err))
	}
}

func TestLogDir(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	main := versioned.Branch("main")
	if err := s.Create(ctx, main, versioned.NoHash); err != nil {
		t.Fatalf("Create: %v", err)
	}
	c1 := mustCommit(t, s, main, "first", "a", "1")
	mustCommit(t, s, main, "second", "a", "2")

	d := &LogDir{store: s, ref: main}
	ds, st := d.Readdir(ctx)
	got := names(t, ds, st)
	if want := []string{"0", "1", "2"}; !equal(got, want) {
		t.Fatalf("log = %v, want %v", got, want)
	}

	commits, err := recentCommits(ctx, s, main, 2)
	if err != nil {
		t.Fatalf("recentCommits: %v", err)
	}
	if len(commits) != 2 {
		t.Fatalf("recentCommits returned %d, want 2", len(commits))
	}
	if want := c1.String() + "\nfirst\n"; string(logEntryBytes(commits[1])) != want {
		t.Fatalf("log entry = %q, want %q", logEntryBytes(commits[1]), want)
	}
}

func TestHeadFollowsBranch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	main := versioned.Branch("main")
	if err := s.Create(ctx, main, versioned.NoHash); err != nil {
		t.Fatalf("Create: %v", err)
	}

	f := &DataFile{path: "branches/main/HEAD", volatile: true, load: func(ctx context.Context) ([]byte, error) {
		return headBytes(ctx, s, main)
	}}
	var before fuse.AttrOut
	if errno := f.Getattr(ctx, nil, &before); errno != fs.OK {
		t.Fatalf("Getattr: %v", errno)
	}

	h := mustCommit(t, s, main, "c1", "a", "1")
	data, err := f.load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(data) != h.String()+"\n" {
		t.Fatalf("HEAD = %q, want %q", data, h.String()+"\n")
	}

	if _, _, errno := f.Open(ctx, syscall.O_WRONLY); errno != syscall.EROFS {
		t.Fatalf("Open for write = %v, want EROFS", errno)
	}
	if _, flags, _ := f.Open(ctx, syscall.O_RDONLY); flags&fuse.FOPEN_DIRECT_IO == 0 {
		t.Fatal("volatile file should use direct IO")
	}
}

func TestReadAt(t *testing.T) {
	data := []byte("hello")
	cases := []struct {
		dest int
		off  int64
		want string
	}{
		{10, 0, "hello"},
		{2, 0, "he"},
		{2, 3, "lo"},
		{4, 4, "o"},
		{4, 5, ""},
		{4, 9, ""},
	}
	for _, tc := range cases {
		got := readAt(data, make([]byte, tc.dest), tc.off)
		if string(got) != tc.want {
			t.Errorf("readAt(dest=%d, off=%d) = %q, want %q", tc.dest, tc.off, got, tc.want)
		}
	}
}

func TestErrno(t *testing.T) {
	cases := map[error]syscall.Errno{
		nil:                                          fs.OK,
		fmt.Errorf("x: %w", versioned.ErrNotFound):        syscall.ENOENT,
		fmt.Errorf("x: %w", versioned.ErrInvalidArgument): syscall.EINVAL,
		errors.New("disk on fire"):                        syscall.EIO,
	}
	for err, want := range cases {
		if got := errno(err); got != want {
			t.Errorf("errno(%v) = %v, want %v", err, got, want)
		}
	}
}

func TestStableIno(t *testing.T) {
	if stableIno("branches/main") != stableIno("branches/main") {
		t.Fatal("stableIno is not deterministic")
	}
	if stableIno("branches/main") == stableIno("tags/main") {
		t.Fatal("branch and tag dirs share an inode")
	}
	if got := refPath(versioned.Tag("a/b")); got != "tags/a%2Fb" {
		t.Fatalf("refPath = %q", got)
	}
}
