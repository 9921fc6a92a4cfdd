// Command dtlctl is a small operator CLI for exercising a running
// DTL server's proxy surface: registering a namespace, replaying its
// entries, and trimming or clearing it, without wiring up a full
// volume bridge.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/openvstorage/dtl/internal/proxy"
	"github.com/openvstorage/dtl/internal/wire"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		address    = flag.String("address", "127.0.0.1", "server address")
		port       = flag.Uint("port", 23096, "server port")
		namespace  = flag.String("namespace", "", "namespace_id to operate on")
		lbaSize    = flag.Uint("lba-size", 512, "volume LBA size in bytes")
		clusterMul = flag.Uint("cluster-multiplier", 8, "LBAs per cluster (cluster size = lba-size * cluster-multiplier)")
		owner      = flag.Uint64("owner", 1, "owner tag to register with")
		cmd        = flag.String("cmd", "get-entries", "one of: get-entries, get-sco-range, remove-up-to, clear")
		scoArg     = flag.Uint("sco", 0, "segment number for remove-up-to")
	)
	flag.Parse()

	if *namespace == "" {
		fmt.Fprintln(os.Stderr, "dtlctl: -namespace is required")
		return 1
	}

	p, err := proxy.Dial(proxy.Config{
		ServerAddress:     *address,
		ServerPort:        uint16(*port),
		NamespaceID:       *namespace,
		LBASize:           uint32(*lbaSize),
		ClusterMultiplier: uint32(*clusterMul),
		RequestTimeout:    30,
		OwnerTag:          *owner,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "dtlctl: %v\n", err)
		return 1
	}
	defer p.Close()

	switch *cmd {
	case "get-entries":
		n, err := p.GetEntries(func(loc wire.Location, lba uint64, data []byte) error {
			fmt.Printf("segment=%d offset=%d lba=%d bytes=%d\n", loc.SegmentNumber, loc.SegmentOffset, lba, len(data))
			return nil
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "dtlctl: get-entries: %v\n", err)
			return 1
		}
		fmt.Printf("%d bytes delivered\n", n)
	case "get-sco-range":
		oldest, youngest, err := p.GetSCORange()
		if err != nil {
			fmt.Fprintf(os.Stderr, "dtlctl: get-sco-range: %v\n", err)
			return 1
		}
		fmt.Printf("oldest=%d youngest=%d\n", oldest.SegmentNumber, youngest.SegmentNumber)
	case "remove-up-to":
		if err := p.RemoveUpTo(wire.NewSegment(uint32(*scoArg))); err != nil {
			fmt.Fprintf(os.Stderr, "dtlctl: remove-up-to: %v\n", err)
			return 1
		}
	case "clear":
		if err := p.Clear(); err != nil {
			fmt.Fprintf(os.Stderr, "dtlctl: clear: %v\n", err)
			return 1
		}
	default:
		fmt.Fprintf(os.Stderr, "dtlctl: unknown -cmd %q\n", *cmd)
		return 1
	}
	return 0
}
