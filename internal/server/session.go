// Package server implements the DTL's accept loop and per-connection
// session (spec.md §4.4/§4.5): the TCP endpoint that registers
// per-volume backends, accepts ordered write batches, answers replay
// queries, and enforces single-owner semantics per volume.
package server

import (
	"errors"
	"fmt"
	"math"
	"net"

	"github.com/openvstorage/dtl/internal/backend"
	"github.com/openvstorage/dtl/internal/codec"
	"github.com/openvstorage/dtl/internal/dtllog"
	"github.com/openvstorage/dtl/internal/registry"
	"github.com/openvstorage/dtl/internal/wire"
)

// Session is one accepted connection's reactor. Its body is strictly
// sequential (spec.md §4.4 "Concurrency inside a session"); concurrency
// across sessions is independent, serialized only by the registry's
// single mutex on lookup/insert.
type Session struct {
	conn     net.Conn
	codec    *codec.Codec
	registry *registry.Registry
	log      *dtllog.Logger

	namespace string
	backend   backend.Backend
	owner     backend.OwnerTag
	haveOwner bool
}

// NewSession wraps an accepted connection.
func NewSession(conn net.Conn, reg *registry.Registry, log *dtllog.Logger) *Session {
	return &Session{
		conn:     conn,
		codec:    codec.New(conn),
		registry: reg,
		log:      log,
	}
}

// Serve runs the session's reactor loop until the connection is
// closed, a protocol violation occurs, or stop is closed.
func (s *Session) Serve(stop <-chan struct{}) {
	stopped := false
	defer func() { s.cleanup(stopped) }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if err := s.handleOne(); err != nil {
				if !errors.Is(err, errSessionClosing) {
					s.log.Printf("session error, closing connection: %v", err)
				}
				return
			}
		}
	}()

	select {
	case <-stop:
		stopped = true
		_ = s.codec.Close()
		<-done
	case <-done:
	}
}

var errSessionClosing = errors.New("server: session closing")

// cleanup closes the connection. On server shutdown it also removes the
// session's backend from the registry; a plain disconnect leaves the
// backend registered so a later owner can reattach to its data.
func (s *Session) cleanup(shutdown bool) {
	if shutdown && s.backend != nil && s.namespace != "" {
		if err := s.registry.Remove(s.namespace); err != nil {
			s.log.Printf("cleanup: remove namespace %q: %v", s.namespace, err)
		}
	}
	_ = s.codec.Close()
}

func (s *Session) handleOne() error {
	if err := s.codec.GetCork(); err != nil {
		return fmt.Errorf("%w: %v", errSessionClosing, err)
	}
	op, err := s.codec.ReadOpcode()
	if err != nil {
		return err
	}

	switch wire.Opcode(op) {
	case wire.Register:
		return s.handleRegister()
	case wire.Unregister:
		return s.handleUnregister()
	case wire.AddEntries:
		return s.handleAddEntries()
	case wire.GetEntries:
		return s.handleGetEntries()
	case wire.GetSCO:
		return s.handleGetSCO()
	case wire.RemoveUpTo:
		return s.handleRemoveUpTo()
	case wire.Flush:
		return s.handleFlush()
	case wire.Clear:
		return s.handleClear()
	case wire.GetSCORange:
		return s.handleGetSCORange()
	default:
		return fmt.Errorf("%w: unknown opcode %d", codec.ErrProtocolViolation, op)
	}
}

func (s *Session) writeStatus(ok bool) error {
	s.codec.Cork()
	if ok {
		s.codec.WriteOpcode(uint32(wire.Ok))
	} else {
		s.codec.WriteOpcode(uint32(wire.NotOk))
	}
	return s.codec.Uncork()
}

func (s *Session) requireBackend() bool {
	return s.backend != nil
}

func (s *Session) handleRegister() error {
	namespace, err := s.codec.ReadString()
	if err != nil {
		return err
	}
	clusterSize, err := s.codec.ReadUint32()
	if err != nil {
		return err
	}
	ownerTag, err := s.codec.ReadUint64()
	if err != nil {
		return err
	}

	b, err := s.registry.Lookup(registry.LookupRequest{
		Namespace:   namespace,
		ClusterSize: clusterSize,
		Owner:       backend.OwnerTag(ownerTag),
	})
	if err != nil {
		s.log.Printf("register %q failed: %v", namespace, err)
		return s.writeStatus(false)
	}
	if err := b.Register(backend.OwnerTag(ownerTag)); err != nil {
		return s.writeStatus(false)
	}

	s.namespace = namespace
	s.backend = b
	s.owner = backend.OwnerTag(ownerTag)
	s.haveOwner = true
	return s.writeStatus(true)
}

func (s *Session) handleUnregister() error {
	if s.backend != nil && s.namespace != "" {
		if err := s.registry.Remove(s.namespace); err != nil {
			s.log.Printf("unregister: remove namespace %q: %v", s.namespace, err)
		}
	}
	s.backend = nil
	s.namespace = ""
	s.haveOwner = false
	return s.writeStatus(true)
}

func (s *Session) handleAddEntries() error {
	if !s.requireBackend() {
		return s.writeStatus(false)
	}
	count, err := s.codec.ReadUint64()
	if err != nil {
		return err
	}
	entries := make([]wire.Entry, 0, count)
	for i := uint64(0); i < count; i++ {
		loc, err := s.codec.ReadLocation()
		if err != nil {
			return err
		}
		lba, err := s.codec.ReadUint64()
		if err != nil {
			return err
		}
		data, err := s.codec.ReadBytes()
		if err != nil {
			return err
		}
		entries = append(entries, wire.Entry{Location: loc, LBA: lba, Data: data})
	}

	if err := s.backend.AddEntries(entries, s.owner); err != nil {
		s.log.Printf("add_entries on %q failed: %v", s.namespace, err)
		return s.writeStatus(false)
	}
	return s.writeStatus(true)
}

func (s *Session) handleFlush() error {
	if !s.requireBackend() {
		return s.writeStatus(false)
	}
	if err := s.backend.Flush(s.owner); err != nil {
		return s.writeStatus(false)
	}
	return s.writeStatus(true)
}

func (s *Session) handleRemoveUpTo() error {
	if !s.requireBackend() {
		return s.writeStatus(false)
	}
	sco, err := s.codec.ReadLocation()
	if err != nil {
		return err
	}
	if err := s.backend.RemoveUpTo(sco, s.owner); err != nil {
		s.log.Printf("remove_up_to on %q failed (ignored by caller): %v", s.namespace, err)
		return s.writeStatus(false)
	}
	return s.writeStatus(true)
}

func (s *Session) handleClear() error {
	if !s.requireBackend() {
		return s.writeStatus(false)
	}
	if err := s.backend.Clear(s.owner); err != nil {
		return s.writeStatus(false)
	}
	return s.writeStatus(true)
}

func (s *Session) handleGetEntries() error {
	if !s.requireBackend() {
		return s.writeSentinel()
	}
	_, err := s.backend.GetEntries(wire.None, math.MaxInt, func(loc wire.Location, lba uint64, data []byte) error {
		return s.writeTriple(loc, lba, data)
	})
	if err != nil {
		return err
	}
	return s.writeSentinel()
}

func (s *Session) handleGetSCO() error {
	sco, err := s.codec.ReadLocation()
	if err != nil {
		return err
	}
	if !s.requireBackend() {
		return s.writeSentinel()
	}
	if err := s.backend.GetSCO(sco, func(loc wire.Location, lba uint64, data []byte) error {
		return s.writeTriple(loc, lba, data)
	}); err != nil {
		return err
	}
	return s.writeSentinel()
}

func (s *Session) handleGetSCORange() error {
	var oldest, youngest wire.Location
	if s.requireBackend() {
		var ok bool
		oldest, youngest, ok = s.backend.Range()
		if !ok {
			oldest, youngest = wire.None, wire.None
		}
	}
	s.codec.Cork()
	s.codec.WriteLocation(oldest)
	s.codec.WriteLocation(youngest)
	return s.codec.Uncork()
}

func (s *Session) writeTriple(loc wire.Location, lba uint64, data []byte) error {
	s.codec.Cork()
	s.codec.WriteLocation(loc)
	s.codec.WriteUint64(lba)
	s.codec.WriteBytes(data)
	return s.codec.Uncork()
}

func (s *Session) writeSentinel() error {
	return s.writeTriple(wire.None, 0, nil)
}
