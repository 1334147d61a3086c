package fsstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/andrioni/nessie/internal/backend/backendtest"
	"github.com/andrioni/nessie/internal/versioned"
)

func TestBackend(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) versioned.Backend {
		b, err := Open(t.TempDir())
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		return b
	})
}

func TestRefFilename(t *testing.T) {
	cases := map[string]string{
		"main":        "main",
		"feature/x":   "feature%2Fx",
		".hidden":     "%2Ehidden",
		"..":          "%2E.",
		"release 1.0": "release%201.0",
	}
	for name, want := range cases {
		got := refFilename(name)
		if got != want {
			t.Errorf("refFilename(%q) = %q, want %q", name, got, want)
		}
		back, err := refNameFromFilename(got)
		if err != nil {
			t.Fatalf("refNameFromFilename(%q): %v", got, err)
		}
		if back != name {
			t.Errorf("round trip %q -> %q -> %q", name, got, back)
		}
	}
}

func TestRefFileLayout(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	b, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	h, err := b.PutCommit(ctx, versioned.RootRecord())
	if err != nil {
		t.Fatalf("PutCommit: %v", err)
	}
	if err := b.CASRef(ctx, versioned.Tag("v1"), versioned.ExpectAbsent(), h); err != nil {
		t.Fatalf("CASRef: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, "refs", "tags", "v1"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != h.String()+"\n" {
		t.Fatalf("ref file = %q, want %q", data, h.String()+"\n")
	}
	if _, err := os.Stat(filepath.Join(root, "objects", h.String())); err != nil {
		t.Fatalf("object file missing: %v", err)
	}
}

func TestCorruptObjectDetected(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	b, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	h, err := b.PutCommit(ctx, versioned.RootRecord())
	if err != nil {
		t.Fatalf("PutCommit: %v", err)
	}

	path := filepath.Join(root, "objects", h.String())
	if err := os.WriteFile(path, []byte(`{"v":1,"metadata":"eA==","operations":[]}`), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err = b.GetCommit(ctx, h)
	if !errors.Is(err, versioned.ErrBackend) {
		t.Fatalf("GetCommit on corrupt object: got %v, want ErrBackend", err)
	}
}

func TestListRefsIgnoresTempFiles(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	b, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	h, err := b.PutCommit(ctx, versioned.RootRecord())
	if err != nil {
		t.Fatalf("PutCommit: %v", err)
	}
	if err := b.CASRef(ctx, versioned.Branch("main"), versioned.ExpectAbsent(), h); err != nil {
		t.Fatalf("CASRef: %v", err)
	}
	// Leftover from a crashed safeWrite.
	if err := os.WriteFile(filepath.Join(root, "refs", "branches", ".tmp-123"), []byte("junk"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	refs, err := b.ListRefs(ctx)
	if err != nil {
		t.Fatalf("ListRefs: %v", err)
	}
	if len(refs) != 1 || refs[0].Ref != versioned.Branch("main") {
		t.Fatalf("ListRefs = %v, want only branch:main", refs)
	}
}
