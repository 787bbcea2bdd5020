// Package server runs the verifier's long-lived servers next to a run.
package server

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/obdverify/pkg/log"
)

// Server defines the common interface for all sub-servers.
type Server interface {
	Start(ctx context.Context) error
}

// Manager manages the lifecycle of the servers and the run they serve.
type Manager struct {
	servers []Server
}

// NewManager returns a manager for servers. Nil entries are skipped so that
// disabled servers can be passed as is.
func NewManager(servers ...Server) *Manager {
	m := &Manager{}
	for _, s := range servers {
		if s != nil {
			m.servers = append(m.servers, s)
		}
	}
	return m
}

// Run starts every server, then runs fn. When fn returns the servers are
// shut down; the first error of fn or of a server is returned.
func (m *Manager) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	srvCtx, stop := context.WithCancel(gctx)
	defer stop()

	for _, s := range m.servers {
		g.Go(func() error {
			return s.Start(srvCtx)
		})
	}
	if len(m.servers) > 0 {
		log.Info("All servers starting...", "count", len(m.servers))
	}

	g.Go(func() error {
		defer stop()
		return fn(gctx)
	})
	return g.Wait()
}
