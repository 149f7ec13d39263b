package webservice

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"

	"github.com/desertwitch/junknas/internal/chunkstore"
	"github.com/desertwitch/junknas/internal/fuseadapter"
	"github.com/desertwitch/junknas/internal/manifest"
)

type browseEntry struct {
	Name  string
	Link  string
	IsDir bool
	Size  string
}

type browsePage struct {
	Version string
	Path    string
	Parent  string
	Entries []browseEntry
}

// browseHandler renders a directory of the chunk filesystem: backing
// subdirectories plus manifest-backed files under their logical names,
// with .jnk and raw manifests hidden.
func (s *Service) browseHandler(w http.ResponseWriter, r *http.Request) {
	rel, ok := safeRelPath(mux.Vars(r)["rel"])
	if !ok {
		http.Error(w, "invalid path", http.StatusBadRequest)

		return
	}

	dir := filepath.Join(s.primary, filepath.FromSlash(rel))

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		http.Error(w, "not found", http.StatusNotFound)

		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		s.logf("browse %q: %v\n", dir, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	page := browsePage{
		Version: s.version,
		Path:    "/" + rel,
	}
	if rel != "" {
		parent := ""
		if idx := strings.LastIndex(rel, "/"); idx >= 0 {
			parent = rel[:idx]
		}
		page.Parent = "/browse/" + parent
	}

	for _, e := range entries {
		name := e.Name()
		if name == ".jnk" {
			continue
		}

		child := name
		if rel != "" {
			child = rel + "/" + name
		}

		if e.IsDir() {
			page.Entries = append(page.Entries, browseEntry{
				Name:  name + "/",
				Link:  "/browse/" + child,
				IsDir: true,
			})

			continue
		}

		logical, isMeta := strings.CutSuffix(name, fuseadapter.MetaSuffix)
		if !isMeta {
			continue
		}

		size := ""
		if m, merr := manifest.Load(filepath.Join(dir, name)); merr == nil {
			size = humanize.IBytes(uint64(m.Size)) //nolint:gosec
		}

		logicalChild := logical
		if rel != "" {
			logicalChild = rel + "/" + logical
		}

		page.Entries = append(page.Entries, browseEntry{
			Name: logical,
			Link: "/files/" + logicalChild,
			Size: size,
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := browseTemplate.Execute(w, page); err != nil {
		s.logf("HTTP template execution error: %v\n", err)
	}
}

// fileHandler streams a file's materialized bytes, chunk by chunk,
// zero-filling sparse indices. A chunk that fails verification aborts
// the stream.
func (s *Service) fileHandler(w http.ResponseWriter, r *http.Request) {
	rel, ok := safeRelPath(mux.Vars(r)["rel"])
	if !ok || rel == "" {
		http.Error(w, "invalid path", http.StatusBadRequest)

		return
	}

	metaPath := filepath.Join(s.primary, filepath.FromSlash(rel)) + fuseadapter.MetaSuffix

	m, err := manifest.Load(metaPath)
	if err != nil {
		writeError(w, err)

		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(m.Size, 10))

	remaining := m.Size
	for idx := int64(0); remaining > 0; idx++ {
		window := remaining
		if window > chunkstore.ChunkSize {
			window = chunkstore.ChunkSize
		}

		var payload []byte
		if idx < int64(len(m.Hashes)) && m.Hashes[idx] != "" {
			data, rerr := s.chunks.ReadAndVerify(m.Hashes[idx])
			if rerr != nil {
				s.logf("files %q: chunk %d: %v\n", rel, idx, rerr)

				return // headers are gone; a short body is the only possible signal
			}

			payload = make([]byte, window)
			copy(payload, data)
		} else {
			payload = make([]byte, window)
		}

		if _, werr := w.Write(payload); werr != nil {
			return
		}

		remaining -= window
	}
}

// chunkGetHandler serves a stored chunk by hash, re-verifying its
// contents before any byte leaves the store.
func (s *Service) chunkGetHandler(w http.ResponseWriter, r *http.Request) {
	hash := mux.Vars(r)["hash"]
	if !validChunkHash(hash) {
		http.Error(w, "invalid chunk hash", http.StatusBadRequest)

		return
	}

	data, err := s.chunks.ReadAndVerify(hash)
	if err != nil {
		writeError(w, err)

		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

// chunkPostHandler accepts a chunk upload through the same
// put-if-absent path local commits use. The body must carry a
// Content-Length and must actually hash to the addressed digest.
func (s *Service) chunkPostHandler(w http.ResponseWriter, r *http.Request) {
	hash := mux.Vars(r)["hash"]
	if !validChunkHash(hash) {
		http.Error(w, "invalid chunk hash", http.StatusBadRequest)

		return
	}

	if r.ContentLength < 0 {
		http.Error(w, "Content-Length required", http.StatusBadRequest)

		return
	}
	if r.ContentLength > chunkstore.ChunkSize {
		http.Error(w, "chunk too large", http.StatusBadRequest)

		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, chunkstore.ChunkSize+1))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}
	if int64(len(data)) != r.ContentLength || len(data) > chunkstore.ChunkSize {
		http.Error(w, "body length mismatch", http.StatusBadRequest)

		return
	}

	if chunkstore.Hash(data) != hash {
		http.Error(w, "chunk does not hash to its address", http.StatusBadRequest)

		return
	}

	if err := s.chunks.PutIfAbsent(hash, data); err != nil {
		writeError(w, err)

		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "OK")
}
