package server

import (
	"fmt"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/openvstorage/dtl/internal/dtllog"
	"github.com/openvstorage/dtl/internal/registry"
)

// AcceptLoop binds (address, port), accepts connections, and spawns a
// Session per connection (spec.md §4.5). It replaces the original's
// self-pipe poll() pair with a stop channel plus a supervised
// errgroup.Group of session goroutines, the idiom
// avogabo-EDRmount/golang.org/x/sync already uses for fenced shutdown.
type AcceptLoop struct {
	listener net.Listener
	registry *registry.Registry
	log      *dtllog.Logger

	stop     chan struct{}
	stopOnce sync.Once
	group    *errgroup.Group
}

// Listen binds address:port, preferring IPv6 and falling back to IPv4
// (spec.md §4.5). An empty address binds all interfaces via the
// platform's dual-stack "tcp" network, which already does not need an
// explicit fallback.
func Listen(address string, port uint16, reg *registry.Registry, log *dtllog.Logger) (*AcceptLoop, error) {
	ln, err := listen(address, port)
	if err != nil {
		return nil, err
	}
	return &AcceptLoop{
		listener: ln,
		registry: reg,
		log:      log,
		stop:     make(chan struct{}),
		group:    &errgroup.Group{},
	}, nil
}

func listen(address string, port uint16) (net.Listener, error) {
	if address == "" {
		addr := fmt.Sprintf(":%d", port)
		return net.Listen("tcp", addr)
	}
	addr6 := fmt.Sprintf("[%s]:%d", address, port)
	if ln, err := net.Listen("tcp6", addr6); err == nil {
		return ln, nil
	}
	addr := fmt.Sprintf("%s:%d", address, port)
	ln, err := net.Listen("tcp4", addr)
	if err != nil {
		// Fall back to the generic resolver for addresses that are
		// neither a bare IPv6 nor IPv4 literal (e.g. hostnames).
		return net.Listen("tcp", addr)
	}
	return ln, nil
}

// Addr returns the bound address.
func (a *AcceptLoop) Addr() net.Addr { return a.listener.Addr() }

// Run accepts connections until Stop is called or the listener errors.
// It returns once every spawned session has cleaned up.
func (a *AcceptLoop) Run() error {
	acceptErr := make(chan error, 1)
	go func() {
		for {
			conn, err := a.listener.Accept()
			if err != nil {
				select {
				case <-a.stop:
					acceptErr <- nil
				default:
					acceptErr <- err
				}
				return
			}
			a.spawn(conn)
		}
	}()

	err := <-acceptErr
	if werr := a.group.Wait(); werr != nil && err == nil {
		err = werr
	}
	return err
}

func (a *AcceptLoop) spawn(conn net.Conn) {
	a.group.Go(func() error {
		sess := NewSession(conn, a.registry, a.log)
		sess.Serve(a.stop)
		return nil
	})
}

// Stop closes the listen socket and signals every live session to
// stop. It returns without waiting; Run returns once every session has
// cleaned up.
func (a *AcceptLoop) Stop() error {
	a.stopOnce.Do(func() {
		close(a.stop)
		_ = a.listener.Close()
	})
	return nil
}
