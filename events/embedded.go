package events

import (
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// Embedded is an in-process NATS server for single-node deployments and
// tests. Port -1 picks a free port.
type Embedded struct {
	srv *server.Server
}

func StartEmbedded(host string, port int) (*Embedded, error) {
	ns, err := server.NewServer(&server.Options{
		Host:   host,
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server not ready after 5 seconds")
	}
	log.Printf("[events] embedded NATS listening on %s", ns.ClientURL())
	return &Embedded{srv: ns}, nil
}

func (e *Embedded) ClientURL() string { return e.srv.ClientURL() }

func (e *Embedded) Shutdown() {
	e.srv.Shutdown()
	e.srv.WaitForShutdown()
}
