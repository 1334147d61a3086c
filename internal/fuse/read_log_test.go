package fuse

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/andrioni/nessie/internal/versioned"
)

func TestReadLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reads.jsonl")
	l := NewReadLog(path)
	var seen []string
	l.OnRead = func(ref versioned.NamedRef, key versioned.Key) {
		seen = append(seen, ref.String()+" "+key.String())
	}

	main := versioned.Branch("main")
	l.Log(main, versioned.MustKey("db", "t1"))
	l.Log(versioned.Tag("v1"), versioned.MustKey("a.b"))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	var e ReadEntry
	if err := json.Unmarshal([]byte(lines[1]), &e); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if e.Ref != "tag:v1" || e.Key != "a%2Eb" || e.Timestamp == "" {
		t.Fatalf("entry = %+v", e)
	}
	if len(seen) != 2 || seen[0] != "branch:main db.t1" {
		t.Fatalf("OnRead saw %v", seen)
	}

	var none *ReadLog
	none.Log(main, versioned.MustKey("x"))
}

func TestValueFileLogsOncePerRead(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	main := versioned.Branch("main")
	if err := s.Create(ctx, main, versioned.NoHash); err != nil {
		t.Fatalf("Create: %v", err)
	}
	mustCommit(t, s, main, "c1", "db.t1", "0123456789")

	reads := 0
	l := NewReadLog(filepath.Join(t.TempDir(), "reads.jsonl"))
	l.OnRead = func(versioned.NamedRef, versioned.Key) { reads++ }
	d := &KeysDir{store: s, reads: l, ref: main}
	f := d.valueFile("db.t1", versioned.MustKey("db", "t1"))

	var attr fuse.AttrOut
	if st := f.Getattr(ctx, nil, &attr); st != fs.OK {
		t.Fatalf("Getattr: %v", st)
	}
	if attr.Size != 10 {
		t.Fatalf("size = %d, want 10", attr.Size)
	}
	if reads != 0 {
		t.Fatalf("getattr logged %d reads", reads)
	}

	var got []byte
	for off := int64(0); off < 12; off += 4 {
		res, st := f.Read(ctx, nil, make([]byte, 4), off)
		if st != fs.OK {
			t.Fatalf("Read at %d: %v", off, st)
		}
		chunk, _ := res.Bytes(make([]byte, 4))
		got = append(got, chunk...)
	}
	if string(got) != "0123456789" {
		t.Fatalf("read %q", got)
	}
	if reads != 1 {
		t.Fatalf("one chunked read logged %d times, want 1", reads)
	}

	if _, st := f.Read(ctx, nil, make([]byte, 4), 0); st != fs.OK {
		t.Fatalf("Read: %v", st)
	}
	if reads != 2 {
		t.Fatalf("second read logged %d total, want 2", reads)
	}
}
