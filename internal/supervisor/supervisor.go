// Package supervisor owns process lifetime: it starts the mesh
// coordinator, then the web service, then the FUSE mount. On shutdown
// the mount is released and the mesh loop stopped before the web
// listener is closed. The signal handling and
// waitgroup shape follow the single run loop the node has always had.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"sync"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"

	"github.com/desertwitch/junknas/internal/fuseadapter"
	"github.com/desertwitch/junknas/internal/logging"
	"github.com/desertwitch/junknas/internal/mesh"
	"github.com/desertwitch/junknas/internal/webservice"
)

const stackTraceBuffer = 1 << 24

var errMissingArgument = errors.New("supervisor: missing required argument")

// Components are the subsystems the supervisor sequences. FS may be
// nil when the FUSE mount is disabled; everything else is required.
type Components struct {
	Coordinator *mesh.Coordinator
	Web         *webservice.Service
	FS          *fuseadapter.FS

	MountPoint string
	WebAddr    string
	Rbuf       *logging.RingBuffer
}

// Run blocks until shutdown: a SIGINT/SIGTERM, a fatal subsystem
// error, or ctx cancellation. Start order is mesh, web, filesystem;
// on the way out the mount and the mesh loop are stopped first and the
// web listener is closed last.
func Run(ctx context.Context, c Components) error {
	if c.Coordinator == nil || c.Web == nil || c.Rbuf == nil {
		return errMissingArgument
	}
	if c.FS != nil && c.MountPoint == "" {
		return errMissingArgument
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.Coordinator.Run(ctx)
	})

	srv := c.Web.Serve(c.WebAddr)
	defer srv.Close()

	errChan := make(chan error, 1)

	if c.FS != nil {
		conn, err := fuse.Mount(c.MountPoint, fuse.FSName("junknas"), fuse.Subtype("junknas"))
		if err != nil {
			cancel()
			wg.Wait()

			return fmt.Errorf("fs mount error: %w", err)
		}
		defer conn.Close()
		defer fuse.Unmount(c.MountPoint) //nolint:errcheck

		wg.Go(func() {
			if err := fs.Serve(conn, c.FS); err != nil {
				errChan <- fmt.Errorf("fs serve error: %w", err)
			}
			cancel()
		})
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for range sig {
			c.Rbuf.Println("Signal received, shutting the node down...")

			if c.FS != nil {
				if err := fuse.Unmount(c.MountPoint); err != nil {
					c.Rbuf.Printf("Unmount error: %v (try again later)\n", err)

					continue
				}
			}

			cancel()

			return
		}
	}()

	sig1 := make(chan os.Signal, 1)
	signal.Notify(sig1, syscall.SIGUSR1)
	go func() {
		for range sig1 {
			c.Rbuf.Println("Signal received, forcing garbage collection...")
			runtime.GC()
			debug.FreeOSMemory()
		}
	}()

	sig2 := make(chan os.Signal, 1)
	signal.Notify(sig2, syscall.SIGUSR2)
	go func() {
		for range sig2 {
			c.Rbuf.Println("Signal received, printing stacktrace (to stderr)...")
			buf := make([]byte, stackTraceBuffer)
			stacklen := runtime.Stack(buf, true)
			os.Stderr.Write(buf[:stacklen])
		}
	}()

	<-ctx.Done()

	if c.FS != nil {
		// fs.Serve only returns once the mount is gone; release it here
		// for shutdowns that did not come through the signal handler.
		_ = fuse.Unmount(c.MountPoint)
	}

	wg.Wait()

	select {
	case err := <-errChan:
		return err
	default:
		return nil
	}
}
