/*
junkd is a rootless, distributed, mesh-native user-space filesystem
node. Each node exports a local FUSE mount whose contents live in a
content-addressed chunk store with a per-file manifest, and nodes
coordinate over an encrypted WireGuard overlay to replicate chunks and
to propagate mesh state.

The following signals are observed and handled by the node:
  - SIGTERM or SIGINT (CTRL+C) gracefully unmounts and shuts down
  - SIGUSR1 forces a garbage collection (within Go)
  - SIGUSR2 dumps a diagnostic stacktrace to standard error (stderr)

The node exposes an HTTP surface over the overlay, including:
  - "/" and "/browse/<dir>" for directory listings
  - "/files/<path>" for streaming a file's materialized bytes
  - "/chunks/<hash>" for chunk replication (GET and POST)
  - "/mesh/..." for mesh state, config, status, bootstrap and join
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/desertwitch/junknas/internal/chunkstore"
	"github.com/desertwitch/junknas/internal/config"
	"github.com/desertwitch/junknas/internal/fuseadapter"
	"github.com/desertwitch/junknas/internal/logging"
	"github.com/desertwitch/junknas/internal/mesh"
	"github.com/desertwitch/junknas/internal/refcount"
	"github.com/desertwitch/junknas/internal/sizeparse"
	"github.com/desertwitch/junknas/internal/supervisor"
	"github.com/desertwitch/junknas/internal/webservice"
)

const (
	exitOperational = 1
	exitUsage       = 2

	ringBufferSize = 512
	dirPerm        = 0o755
)

// Version is the program version (empty unless set at link time).
var Version string

// errUsage marks a command-line error, exiting with code 2 rather
// than the operational code 1.
var errUsage = errors.New("usage error")

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "junkd <config.json> [bootstrap-peers <list|add|delete|edit> ...]",
		Short: "a mesh-native, content-addressed user-space NAS node",
		Long: `junkd runs a junkNAS node: a FUSE mount backed by a content-addressed
chunk store, an HTTP surface for browsing and chunk replication, and a
mesh coordinator that keeps WireGuard overlay peers in sync.

With only a config file given, the node starts (mount + mesh + web).
The "bootstrap-peers" command group edits the bootstrap list in place:

  junkd <config.json> bootstrap-peers list
  junkd <config.json> bootstrap-peers add <ip:port>
  junkd <config.json> bootstrap-peers delete <index>
  junkd <config.json> bootstrap-peers edit <index> <ip:port>`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(_ *cobra.Command, args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("%w: need a config file", errUsage)
			}

			if len(args) == 1 {
				return runNode(args[0])
			}

			if args[1] != "bootstrap-peers" {
				return fmt.Errorf("%w: unknown command %q", errUsage, args[1])
			}

			return runBootstrapPeers(args[0], args[2:])
		},
	}

	return cmd
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "junkd: %v\n", err)

		if errors.Is(err, errUsage) {
			os.Exit(exitUsage)
		}
		os.Exit(exitOperational)
	}
}

func runNode(configPath string) error {
	rbuf := logging.NewRingBuffer(ringBufferSize, os.Stderr)

	store := config.New(rbuf)
	if err := store.Init(configPath); err != nil {
		return fmt.Errorf("config init error: %w", err)
	}

	snap := store.Snapshot()
	rbuf.SetVerbose(snap.Verbose)

	roots := store.BackingRoots()
	for _, root := range roots {
		if err := os.MkdirAll(root, dirPerm); err != nil {
			return fmt.Errorf("backing root error: %w", err)
		}
	}

	quota := sizeparse.Parse(snap.StorageSize)

	chunks, err := chunkstore.New(roots, quota)
	if err != nil {
		return fmt.Errorf("chunk store error: %w", err)
	}

	refs := refcount.New(roots[0], chunks)
	coord := mesh.New(store, mesh.WGCtrlDevice{}, rbuf)

	svc, err := webservice.New(store, chunks, coord, roots[0], Version, rbuf)
	if err != nil {
		return fmt.Errorf("web service error: %w", err)
	}

	components := supervisor.Components{
		Coordinator: coord,
		Web:         svc,
		MountPoint:  snap.MountPoint,
		WebAddr:     fmt.Sprintf(":%d", snap.WebPort),
		Rbuf:        rbuf,
	}

	if snap.EnableFUSE {
		if err := os.MkdirAll(snap.MountPoint, dirPerm); err != nil {
			return fmt.Errorf("mount point error: %w", err)
		}

		fsys, err := fuseadapter.New(roots[0], chunks, refs, quota, rbuf)
		if err != nil {
			return fmt.Errorf("filesystem error: %w", err)
		}
		components.FS = fsys
	}

	return supervisor.Run(context.Background(), components)
}
