// Package proxy implements the DTL client proxy (spec.md §4.6): a
// single TCP connection to one server, wrapping the framed codec with
// 1:1 methods for every server opcode. It is the only piece of the
// client stack that touches the socket; bridges (internal/bridge) sit
// on top of it.
package proxy

import (
	"errors"
	"fmt"
	"net"

	"github.com/openvstorage/dtl/internal/codec"
	"github.com/openvstorage/dtl/internal/wire"
)

// Errors surfaced by Proxy operations (spec.md §7 "Protocol-level
// refusal").
var (
	ErrRegisterRefused = errors.New("proxy: register refused by server")
	ErrNotOk           = errors.New("proxy: server returned NotOk")
	ErrMixedSegments   = errors.New("proxy: add_entries batch spans more than one segment")
)

// Config parametrizes Proxy construction (spec.md §4.6).
type Config struct {
	ServerAddress     string
	ServerPort        uint16
	NamespaceID       string
	LBASize           uint32
	ClusterMultiplier uint32
	RequestTimeout    uint32 // seconds
	OwnerTag          uint64

	// DeleteFailoverDir, if set, makes Close send Unregister before
	// disconnecting (spec.md §4.6 "Destructor").
	DeleteFailoverDir bool
}

// Proxy is a single connection to one DTL server, registered against
// one namespace.
type Proxy struct {
	conn  net.Conn
	codec *codec.Codec
	cfg   Config
}

// Dial connects to cfg.ServerAddress:ServerPort, applies the request
// timeout to its own codec (it is not sent to the server), and
// registers namespace_id with cluster_size = lba_size *
// cluster_multiplier.
func Dial(cfg Config) (*Proxy, error) {
	addr := fmt.Sprintf("%s:%d", cfg.ServerAddress, cfg.ServerPort)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("proxy: dial %s: %w", addr, err)
	}

	p := &Proxy{
		conn:  conn,
		codec: codec.New(conn),
		cfg:   cfg,
	}
	p.codec.SetRequestTimeout(cfg.RequestTimeout)

	if err := p.register(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return p, nil
}

func (p *Proxy) register() error {
	clusterSize := p.cfg.LBASize * p.cfg.ClusterMultiplier

	p.codec.Cork()
	p.codec.WriteOpcode(uint32(wire.Register))
	p.codec.WriteString(p.cfg.NamespaceID)
	p.codec.WriteUint32(clusterSize)
	p.codec.WriteUint64(p.cfg.OwnerTag)
	if err := p.codec.Uncork(); err != nil {
		return err
	}
	return p.expectOK(ErrRegisterRefused)
}

// Close implements the destructor contract of spec.md §4.6: if
// DeleteFailoverDir was requested it sends Unregister and waits for
// OK before closing; otherwise it closes the socket directly so the
// server retains the data for the next owner.
func (p *Proxy) Close() error {
	if p.cfg.DeleteFailoverDir {
		p.codec.Cork()
		p.codec.WriteOpcode(uint32(wire.Unregister))
		if err := p.codec.Uncork(); err != nil {
			_ = p.codec.Close()
			return err
		}
		_ = p.expectOK(ErrNotOk)
	}
	return p.codec.Close()
}

func (p *Proxy) expectOK(onRefusal error) error {
	if err := p.codec.GetCork(); err != nil {
		return err
	}
	op, err := p.codec.ReadOpcode()
	if err != nil {
		return err
	}
	if wire.Opcode(op) != wire.Ok {
		return onRefusal
	}
	return nil
}

// AddEntries streams one batch of entries in a single corked frame.
// Every entry must belong to the same segment (spec.md §4.6).
func (p *Proxy) AddEntries(entries []wire.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	seg := entries[0].SegmentOf()
	for _, e := range entries[1:] {
		if e.SegmentOf() != seg {
			return ErrMixedSegments
		}
	}

	p.codec.Cork()
	p.codec.WriteOpcode(uint32(wire.AddEntries))
	p.codec.WriteUint64(uint64(len(entries)))
	for _, e := range entries {
		p.codec.WriteLocation(e.Location)
		p.codec.WriteUint64(e.LBA)
		p.codec.WriteBytes(e.Data)
	}
	if err := p.codec.Uncork(); err != nil {
		return err
	}
	return p.expectOK(ErrNotOk)
}

// Flush requests durability of everything accepted so far.
func (p *Proxy) Flush() error {
	p.codec.Cork()
	p.codec.WriteOpcode(uint32(wire.Flush))
	if err := p.codec.Uncork(); err != nil {
		return err
	}
	return p.expectOK(ErrNotOk)
}

// RemoveUpTo trims segments up to and including sco.
func (p *Proxy) RemoveUpTo(sco wire.Location) error {
	p.codec.Cork()
	p.codec.WriteOpcode(uint32(wire.RemoveUpTo))
	p.codec.WriteLocation(sco)
	if err := p.codec.Uncork(); err != nil {
		return err
	}
	return p.expectOK(ErrNotOk)
}

// Clear removes all segments for this namespace.
func (p *Proxy) Clear() error {
	p.codec.Cork()
	p.codec.WriteOpcode(uint32(wire.Clear))
	if err := p.codec.Uncork(); err != nil {
		return err
	}
	return p.expectOK(ErrNotOk)
}

// GetSCORange returns the oldest and youngest retained SCOs. Both are
// wire.None when the log is empty.
func (p *Proxy) GetSCORange() (oldest, youngest wire.Location, err error) {
	p.codec.Cork()
	p.codec.WriteOpcode(uint32(wire.GetSCORange))
	if err := p.codec.Uncork(); err != nil {
		return wire.None, wire.None, err
	}
	if err := p.codec.GetCork(); err != nil {
		return wire.None, wire.None, err
	}
	oldest, err = p.codec.ReadLocation()
	if err != nil {
		return wire.None, wire.None, err
	}
	youngest, err = p.codec.ReadLocation()
	if err != nil {
		return wire.None, wire.None, err
	}
	return oldest, youngest, nil
}

// TripleFunc is invoked once per streamed (location, lba, data)
// triple during replay.
type TripleFunc func(loc wire.Location, lba uint64, data []byte) error

// GetEntries replays the full log in order, invoking fn per entry
// until the server's sentinel triple ends the stream.
func (p *Proxy) GetEntries(fn TripleFunc) (int, error) {
	p.codec.Cork()
	p.codec.WriteOpcode(uint32(wire.GetEntries))
	if err := p.codec.Uncork(); err != nil {
		return 0, err
	}
	return p.consumeStream(fn)
}

// GetSCOFromFailover replays exactly the segment containing sco. It
// returns the total bytes delivered (spec.md §4.6).
func (p *Proxy) GetSCOFromFailover(sco wire.Location, fn TripleFunc) (int, error) {
	p.codec.Cork()
	p.codec.WriteOpcode(uint32(wire.GetSCO))
	p.codec.WriteLocation(sco)
	if err := p.codec.Uncork(); err != nil {
		return 0, err
	}
	return p.consumeStream(fn)
}

// consumeStream reads (location, lba, data) triples until the
// sentinel, invoking fn per entry, and returns the total bytes
// delivered across the stream.
func (p *Proxy) consumeStream(fn TripleFunc) (int, error) {
	total := 0
	for {
		if err := p.codec.GetCork(); err != nil {
			return total, err
		}
		loc, err := p.codec.ReadLocation()
		if err != nil {
			return total, err
		}
		lba, err := p.codec.ReadUint64()
		if err != nil {
			return total, err
		}
		data, err := p.codec.ReadBytes()
		if err != nil {
			return total, err
		}
		if loc.IsNone() {
			return total, nil
		}
		if err := fn(loc, lba, data); err != nil {
			return total, err
		}
		total += len(data)
	}
}
