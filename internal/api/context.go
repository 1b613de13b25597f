package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/kalambet/resumechat/internal/profile"
)

func handleGetContext(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Profiles == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "context endpoints disabled"})
			return
		}
		doc, src, err := deps.Profiles.Load(r.Context())
		if err != nil {
			deps.Logger.Error("loading context", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load context"})
			return
		}
		w.Header().Set("X-Context-Source", string(src))
		writeJSON(w, http.StatusOK, doc)
	}
}

// handlePutContext replaces the stored profile document with the request body.
func handlePutContext(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Profiles == nil || deps.Store == nil {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "no storage backend configured"})
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()
		data, err := io.ReadAll(r.Body)
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "document too large"})
				return
			}
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reading body: " + err.Error()})
			return
		}

		doc, err := profile.Upload(r.Context(), deps.Store, deps.Profiles.Key(), data)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		deps.Profiles.Invalidate()
		deps.Logger.Info("context uploaded", "key", deps.Profiles.Key(), "top_level_keys", doc.Len())
		writeJSON(w, http.StatusOK, map[string]any{"key": deps.Profiles.Key(), "keys": doc.Keys()})
	}
}
