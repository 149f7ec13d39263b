// Package webservice implements the node's HTTP surface: directory
// and file browsing over the chunk filesystem, the chunk GET/POST
// replication API, and the mesh control routes.
package webservice

import (
	"embed"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"text/template"

	"github.com/gorilla/mux"

	"github.com/desertwitch/junknas/internal/chunkstore"
	"github.com/desertwitch/junknas/internal/config"
	"github.com/desertwitch/junknas/internal/logging"
	"github.com/desertwitch/junknas/internal/mesh"
)

var (
	//go:embed templates/*.html
	templateFS embed.FS

	browseTemplate = template.Must(template.ParseFS(templateFS, "templates/browse.html"))
	meshTemplate   = template.Must(template.ParseFS(templateFS, "templates/mesh.html"))

	errInvalidArgument = errors.New("invalid argument")
)

// Service is the node's single HTTP listener.
type Service struct {
	version string
	primary string
	store   *config.Store
	chunks  *chunkstore.Store
	coord   *mesh.Coordinator
	rbuf    *logging.RingBuffer
}

// New returns a Service over the given collaborators.
func New(store *config.Store, chunks *chunkstore.Store, coord *mesh.Coordinator, primary, version string, rbuf *logging.RingBuffer) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: need config store", errInvalidArgument)
	}
	if chunks == nil {
		return nil, fmt.Errorf("%w: need chunk store", errInvalidArgument)
	}
	if coord == nil {
		return nil, fmt.Errorf("%w: need mesh coordinator", errInvalidArgument)
	}
	if primary == "" {
		return nil, fmt.Errorf("%w: need primary data dir", errInvalidArgument)
	}

	return &Service{
		version: version,
		primary: primary,
		store:   store,
		chunks:  chunks,
		coord:   coord,
		rbuf:    rbuf,
	}, nil
}

// Serve starts the listener as part of a [http.Server].
func (s *Service) Serve(addr string) *http.Server {
	srv := &http.Server{Addr: addr, Handler: s.Router()}

	go func() {
		defer func() {
			r := recover()
			if r != nil {
				fmt.Fprintf(os.Stderr, "(webservice) PANIC: %v\n", r)
				debug.PrintStack()
			}
		}()
		s.logf("serving node API on %s\n", addr)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logf("HTTP error: %v\n", err)
		}
	}()

	return srv
}

// Router describes the routes served by the node.
func (s *Service) Router() *mux.Router {
	mux := mux.NewRouter()

	mux.HandleFunc("/", s.browseHandler).Methods(http.MethodGet)
	mux.HandleFunc("/browse/{rel:.*}", s.browseHandler).Methods(http.MethodGet)
	mux.HandleFunc("/files/{rel:.*}", s.fileHandler).Methods(http.MethodGet)

	mux.HandleFunc("/chunks/{hash}", s.chunkGetHandler).Methods(http.MethodGet)
	mux.HandleFunc("/chunks/{hash}", s.chunkPostHandler).Methods(http.MethodPost)

	mux.HandleFunc("/mesh/peers", s.meshStateHandler).Methods(http.MethodGet)
	mux.HandleFunc("/mesh/peers", s.meshMergeHandler).Methods(http.MethodPost)
	mux.HandleFunc("/mesh/config", s.meshConfigGetHandler).Methods(http.MethodGet)
	mux.HandleFunc("/mesh/config", s.meshConfigPostHandler).Methods(http.MethodPost)
	mux.HandleFunc("/mesh/status", s.meshStatusHandler).Methods(http.MethodGet)
	mux.HandleFunc("/mesh/bootstrap", s.meshBootstrapHandler).Methods(http.MethodPost)
	mux.HandleFunc("/mesh/join", s.meshJoinHandler).Methods(http.MethodPost)
	mux.HandleFunc("/mesh/alternate", s.meshAlternateHandler).Methods(http.MethodPost)
	mux.HandleFunc("/mesh/sync", s.meshSyncHandler).Methods(http.MethodPost)
	mux.HandleFunc("/mesh/ui", s.meshUIHandler).Methods(http.MethodGet)
	mux.HandleFunc("/mesh", s.meshUIHandler).Methods(http.MethodGet)

	return mux
}

func (s *Service) logf(format string, args ...any) {
	if s.rbuf != nil {
		s.rbuf.Printf(format, args...)
	}
}
