package proxy_test

import (
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openvstorage/dtl/internal/backend"
	"github.com/openvstorage/dtl/internal/dtllog"
	"github.com/openvstorage/dtl/internal/proxy"
	"github.com/openvstorage/dtl/internal/registry"
	"github.com/openvstorage/dtl/internal/server"
	"github.com/openvstorage/dtl/internal/wire"
)

func startLoop(t *testing.T) (host string, port uint16) {
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

	h, p, err := net.SplitHostPort(loop.Addr().String())
	require.NoError(t, err)
	portNum, err := strconv.ParseUint(p, 10, 16)
	require.NoError(t, err)
	return h, uint16(portNum)
}

func TestProxyRegisterRefusedOnClusterSizeMismatch(t *testing.T) {
	host, port := startLoop(t)

	first, err := proxy.Dial(proxy.Config{
		ServerAddress: host, ServerPort: port, NamespaceID: "vol1",
		LBASize: 512, ClusterMultiplier: 8, RequestTimeout: 5, OwnerTag: 1,
	})
	require.NoError(t, err)
	defer first.Close()

	_, err = proxy.Dial(proxy.Config{
		ServerAddress: host, ServerPort: port, NamespaceID: "vol1",
		LBASize: 1024, ClusterMultiplier: 8, RequestTimeout: 5, OwnerTag: 2,
	})
	require.ErrorIs(t, err, proxy.ErrRegisterRefused)
}

func TestProxyAddEntriesRejectsMixedSegments(t *testing.T) {
	host, port := startLoop(t)
	p, err := proxy.Dial(proxy.Config{
		ServerAddress: host, ServerPort: port, NamespaceID: "vol2",
		LBASize: 512, ClusterMultiplier: 8, RequestTimeout: 5, OwnerTag: 1,
	})
	require.NoError(t, err)
	defer p.Close()

	entries := []wire.Entry{
		{Location: wire.Location{SegmentNumber: 1, SegmentOffset: 0}, LBA: 0, Data: []byte("x")},
		{Location: wire.Location{SegmentNumber: 2, SegmentOffset: 0}, LBA: 1, Data: []byte("y")},
	}
	err = p.AddEntries(entries)
	require.ErrorIs(t, err, proxy.ErrMixedSegments)
}

func TestProxyDeleteFailoverDirSendsUnregister(t *testing.T) {
	host, port := startLoop(t)
	p, err := proxy.Dial(proxy.Config{
		ServerAddress: host, ServerPort: port, NamespaceID: "vol3",
		LBASize: 512, ClusterMultiplier: 8, RequestTimeout: 5, OwnerTag: 1,
		DeleteFailoverDir: true,
	})
	require.NoError(t, err)
	require.NoError(t, p.Close())
}
