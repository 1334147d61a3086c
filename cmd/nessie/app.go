package main

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/andrioni/nessie/internal/assets"
	"github.com/andrioni/nessie/internal/backend/pebblestore"
	"github.com/andrioni/nessie/internal/config"
	"github.com/andrioni/nessie/internal/logging"
	"github.com/andrioni/nessie/internal/versioned"
)

type app struct {
	*config.Handle
	log    logging.Logger
	out    io.Writer
	errOut io.Writer
}

func openApp(cfg config.Config, log logging.Logger, stdout, stderr io.Writer) (*app, error) {
	h, err := cfg.OpenStore(log)
	if err != nil {
		return nil, err
	}
	return &app{Handle: h, log: log, out: stdout, errOut: stderr}, nil
}

func (a *app) close() error {
	return a.Handle.Close()
}

// collectors lists the metrics the process exports.
func (a *app) collectors() []prometheus.Collector {
	cs := versioned.Collectors()
	if pb, ok := a.Backend.(*pebblestore.Backend); ok {
		cs = append(cs, pb.Collector())
	}
	return cs
}

// assets returns the IPFS worker, or an error when none is configured.
func (a *app) assets() (*assets.Worker, error) {
	w, ok := a.Worker.(*assets.Worker)
	if !ok {
		return nil, fmt.Errorf("%w: -asset needs -kubo-api", versioned.ErrInvalidArgument)
	}
	return w, nil
}

// resolveHash turns a ref argument into a commit hash.
func (a *app) resolveHash(ctx context.Context, s string) (versioned.Hash, error) {
	ref, err := parseRef(s)
	if err != nil {
		return versioned.NoHash, err
	}
	switch r := ref.(type) {
	case versioned.Hash:
		return r, nil
	case versioned.NamedRef:
		return a.Store.ToHash(ctx, r)
	}
	return versioned.NoHash, fmt.Errorf("%w: %s", versioned.ErrInvalidArgument, s)
}
