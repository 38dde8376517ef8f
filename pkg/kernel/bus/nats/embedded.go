package nats

import (
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/Ahmadnoorkhan1/forgeerp/pkg/kernel"
)

// EmbeddedServer wraps an in-process NATS server with JetStream enabled,
// used by integration tests where standing up an external broker isn't
// worth the operational cost.
type EmbeddedServer struct {
	server       *server.Server
	url          string
	shutdownOnce sync.Once
}

// StartEmbeddedServer starts a JetStream-enabled NATS server on a random
// port and blocks until it is ready for connections.
func StartEmbeddedServer() (*EmbeddedServer, error) {
	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
	}

	s, err := server.NewServer(opts)
	if err != nil {
		return nil, &kernel.BackendError{Op: "bus.nats.StartEmbeddedServer", Err: err}
	}

	go s.Start()
	if !s.ReadyForConnections(5 * time.Second) {
		return nil, &kernel.BackendError{Op: "bus.nats.StartEmbeddedServer", Err: errTimeout{}}
	}

	return &EmbeddedServer{server: s, url: s.ClientURL()}, nil
}

type errTimeout struct{}

func (errTimeout) Error() string { return "embedded NATS server not ready within 5s" }

// URL returns the embedded server's client connection URL.
func (e *EmbeddedServer) URL() string { return e.url }

// Shutdown stops the server, waiting up to 5s for a clean exit. Safe to
// call more than once.
func (e *EmbeddedServer) Shutdown() {
	e.shutdownOnce.Do(func() {
		e.server.Shutdown()
		done := make(chan struct{})
		go func() {
			e.server.WaitForShutdown()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	})
}

// Connect opens a plain NATS connection to the embedded server.
func (e *EmbeddedServer) Connect(opts ...nats.Option) (*nats.Conn, error) {
	return nats.Connect(e.url, opts...)
}
