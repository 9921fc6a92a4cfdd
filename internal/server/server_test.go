package server_test

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openvstorage/dtl/internal/backend"
	"github.com/openvstorage/dtl/internal/dtllog"
	"github.com/openvstorage/dtl/internal/proxy"
	"github.com/openvstorage/dtl/internal/registry"
	"github.com/openvstorage/dtl/internal/server"
	"github.com/openvstorage/dtl/internal/wire"
)

const (
	eventuallyTimeout = 2 * time.Second
	eventuallyTick    = 10 * time.Millisecond
)

func startLoop(t *testing.T) (*server.AcceptLoop, *registry.Registry) {
	t.Helper()
	reg := registry.New("", backend.DefaultSegmentConfig())
	loop, err := server.Listen("127.0.0.1", 0, reg, dtllog.New("test"))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run()
	}()
	t.Cleanup(func() {
		_ = loop.Stop()
		<-done
	})
	return loop, reg
}

func dial(t *testing.T, loop *server.AcceptLoop, namespace string) *proxy.Proxy {
	t.Helper()
	host, portStr, err := net.SplitHostPort(loop.Addr().String())
	require.NoError(t, err)
	port, err := strconv.ParseUint(portStr, 10, 16)
	require.NoError(t, err)

	p, err := proxy.Dial(proxy.Config{
		ServerAddress:     host,
		ServerPort:        uint16(port),
		NamespaceID:       namespace,
		LBASize:           512,
		ClusterMultiplier: 8,
		RequestTimeout:    5,
		OwnerTag:          1,
	})
	require.NoError(t, err)
	return p
}

func TestServerRegisterAddFlushGetRoundTrip(t *testing.T) {
	loop, _ := startLoop(t)
	p := dial(t, loop, "vol1")
	defer p.Close()

	entries := []wire.Entry{
		{Location: wire.Location{SegmentNumber: 1, SegmentOffset: 0}, LBA: 0, Data: bytesOf(4096, 0x11)},
		{Location: wire.Location{SegmentNumber: 1, SegmentOffset: 1}, LBA: 8, Data: bytesOf(4096, 0x11)},
	}
	require.NoError(t, p.AddEntries(entries))
	require.NoError(t, p.Flush())

	var got []wire.Entry
	n, err := p.GetEntries(func(loc wire.Location, lba uint64, data []byte) error {
		got = append(got, wire.Entry{Location: loc, LBA: lba, Data: data})
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2*4096, n)
	require.Len(t, got, 2)
	require.Equal(t, uint16(0), got[0].Location.SegmentOffset)
	require.Equal(t, uint16(1), got[1].Location.SegmentOffset)
}

func TestServerUnregisterTrimsBackend(t *testing.T) {
	loop, reg := startLoop(t)
	host, portStr, err := net.SplitHostPort(loop.Addr().String())
	require.NoError(t, err)
	port, err := strconv.ParseUint(portStr, 10, 16)
	require.NoError(t, err)
	p, err := proxy.Dial(proxy.Config{
		ServerAddress: host, ServerPort: uint16(port), NamespaceID: "vol2",
		LBASize: 512, ClusterMultiplier: 8, RequestTimeout: 5, OwnerTag: 1,
		DeleteFailoverDir: true,
	})
	require.NoError(t, err)

	require.NoError(t, p.AddEntries([]wire.Entry{
		{Location: wire.Location{SegmentNumber: 1, SegmentOffset: 0}, LBA: 0, Data: bytesOf(4096, 0x22)},
	}))
	require.Equal(t, 1, reg.Len())

	require.NoError(t, p.Close())
	require.Eventually(t, func() bool { return reg.Len() == 0 }, eventuallyTimeout, eventuallyTick)
}

func bytesOf(n int, b byte) []byte {
	d := make([]byte, n)
	for i := range d {
		d[i] = b
	}
	return d
}
