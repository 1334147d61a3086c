package fuse

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/andrioni/nessie/internal/versioned"
)

// ReadEntry is a single value read through the mount.
type ReadEntry struct {
	Timestamp string `json:"ts"`
	Ref       string `json:"ref"`
	Key       string `json:"key"`
}

// ReadLog appends value reads to an append-only JSONL file.
type ReadLog struct {
	path   string
	mu     sync.Mutex
	OnRead func(ref versioned.NamedRef, key versioned.Key) // optional
}

// NewReadLog creates or opens a read log at the given path.
func NewReadLog(path string) *ReadLog {
	return &ReadLog{path: path}
}

// Log records a read of key at ref. A nil log records nothing.
func (l *ReadLog) Log(ref versioned.NamedRef, key versioned.Key) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := ReadEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Ref:       ref.String(),
		Key:       key.String(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	f.Write(append(data, '\n'))
	f.Close()

	if l.OnRead != nil {
		l.OnRead(ref, key)
	}
}
