// Command dtlserver runs the DTL's TCP endpoint (spec.md §6 "CLI
// surface of the server").
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/openvstorage/dtl/internal/backend"
	"github.com/openvstorage/dtl/internal/dtllog"
	"github.com/openvstorage/dtl/internal/registry"
	"github.com/openvstorage/dtl/internal/server"
	"github.com/openvstorage/dtl/internal/server/debughttp"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		path      = flag.String("path", "", "root directory for a file-backed log; absent selects the memory backend")
		address   = flag.String("address", "", "bind address (default: all interfaces)")
		port      = flag.Uint("port", 23096, "TCP port to listen on")
		transport = flag.String("transport", "TCP", "transport (only TCP is supported)")
		daemonize = flag.Bool("daemonize", false, "redirect log output to dtlserver.log instead of the console")
		debugAddr = flag.String("debug-address", "", "optional address for the read-only /stats and /healthz HTTP surface")
	)
	flag.Parse()

	if *transport != "TCP" {
		fmt.Fprintf(os.Stderr, "dtlserver: unsupported transport %q\n", *transport)
		return 1
	}

	log := dtllog.New("dtlserver")
	if *daemonize {
		f, err := os.OpenFile("dtlserver.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "dtlserver: open log file: %v\n", err)
			return 1
		}
		defer f.Close()
		log.WithOutput(f)
	}

	var rootLock *registry.RootLock
	if *path != "" {
		var err error
		rootLock, err = registry.AcquireRootLock(*path)
		if err != nil {
			log.Printf("startup: %v", err)
			return 1
		}
		defer rootLock.Release()
	}

	reg := registry.New(*path, backend.DefaultSegmentConfig())

	loop, err := server.Listen(*address, uint16(*port), reg, log)
	if err != nil {
		log.Printf("startup: bind %s:%d: %v", *address, *port, err)
		return 1
	}

	var debug *debughttp.Server
	if *debugAddr != "" {
		debug = debughttp.New(*debugAddr, reg, loop.Addr().String())
		go func() {
			if err := debug.ListenAndServe(); err != nil {
				log.Printf("debug http server stopped: %v", err)
			}
		}()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Printf("received %s, shutting down", sig)
		_ = loop.Stop()
	}()

	log.Printf("listening on %s", loop.Addr())
	if err := loop.Run(); err != nil {
		log.Printf("accept loop stopped: %v", err)
		return 1
	}

	if debug != nil {
		_ = debug.Close()
	}
	if *path != "" {
		if err := registry.EmptyRootDir(*path); err != nil {
			log.Printf("shutdown cleanup: %v", err)
		}
	}
	return 0
}
