package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/isparth/Distributed-Systems/raftkv/internal/distributedkv"
	"github.com/isparth/Distributed-Systems/raftkv/internal/raft"
)

// The plain-text routes answer with bare strings rather than JSON.

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprint(w, text)
}

func handleIndex(dkv *distributedkv.DistributedKV) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all := dkv.All()
		pairs := make([]string, 0, len(all))
		for _, k := range dkv.Keys() {
			if v, ok := all[k]; ok {
				pairs = append(pairs, k+": "+v)
			}
		}
		writeText(w, http.StatusOK, strings.Join(pairs, ", "))
	}
}

func handleAbout(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeText(w, http.StatusOK, fmt.Sprintf("Server Name: %s, API Port: %d", cfg.Name, cfg.APIPort))
	}
}

func handleGetText(dkv *distributedkv.DistributedKV) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// An empty value reads as missing.
		v, ok := dkv.Get(chi.URLParam(r, "key"))
		if !ok || v == "" {
			writeText(w, http.StatusOK, "Key not found.")
			return
		}
		writeText(w, http.StatusOK, v)
	}
}

func handleHasText(dkv *distributedkv.DistributedKV) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if dkv.Has(chi.URLParam(r, "key")) {
			writeText(w, http.StatusOK, "True")
			return
		}
		writeText(w, http.StatusOK, "False")
	}
}

// handleSetText writes through consensus like PUT /kv/{key}.
func handleSetText(dkv *distributedkv.DistributedKV) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, value := chi.URLParam(r, "key"), chi.URLParam(r, "value")
		err := dkv.Put(r.Context(), key, value)
		var nle *raft.NotLeaderError
		switch {
		case err == nil:
			writeText(w, http.StatusOK, fmt.Sprintf("Set key value %q: %q ", key, value))
		case errors.As(err, &nle):
			if nle.Hint.LeaderAddr != "" {
				w.Header().Set("Location", nle.Hint.LeaderAddr+r.URL.RequestURI())
			}
			msg := "Not the leader. Leader unknown."
			if nle.Hint.LeaderID != "" {
				msg = fmt.Sprintf("Not the leader. Leader is %s.", nle.Hint.LeaderID)
			}
			writeText(w, http.StatusTemporaryRedirect, msg)
		default:
			writeText(w, http.StatusServiceUnavailable, "Write failed: "+err.Error())
		}
	}
}
