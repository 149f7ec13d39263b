package webservice

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/desertwitch/junknas/internal/fuseadapter"
	"github.com/desertwitch/junknas/internal/jnkerr"
)

const hashHexLen = 64

// safeRelPath validates a /browse/ or /files/ path operand: it must be
// relative, ".."-free, and must not address junkNAS bookkeeping (the
// .jnk directory or raw manifest files). The cleaned path is returned
// with forward slashes; "" addresses the root.
func safeRelPath(rel string) (string, bool) {
	if strings.HasPrefix(rel, "/") || strings.Contains(rel, "\\") {
		return "", false
	}

	rel = strings.Trim(rel, "/")
	if rel == "" {
		return "", true
	}

	for _, comp := range strings.Split(rel, "/") {
		if comp == "" || comp == "." || comp == ".." || comp == ".jnk" {
			return "", false
		}
		if strings.Contains(comp, fuseadapter.MetaSuffix) {
			return "", false
		}
	}

	return rel, true
}

// validChunkHash reports whether s is a 64-char lowercase hex digest.
func validChunkHash(s string) bool {
	if len(s) != hashHexLen {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}

	return true
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch jnkerr.KindOf(err) {
	case jnkerr.KindInvalidArgument, jnkerr.KindPeerFull:
		return http.StatusBadRequest
	case jnkerr.KindNotFound:
		return http.StatusNotFound
	case jnkerr.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusFor(err))
}
