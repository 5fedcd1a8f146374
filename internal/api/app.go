package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/tabstate/internal/storage"
)

const maxValueSize = 5 << 20 // 5MB

// AppDeps holds what the HTTP API serves.
type AppDeps struct {
	Local   storage.Backend
	Session storage.Backend // optional; if nil, the session area is not served
	Online  func() bool     // optional; if nil, /online always reports true
	Token   string          // if empty, requests are not authenticated
}

// Item is one stored entry. Value is the stored JSON document; entries that
// were not written as JSON are returned as a JSON string.
type Item struct {
	Key   string          `json:"key"`
	Area  string          `json:"area"`
	Value json.RawMessage `json:"value"`
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}

		r.Get("/online", handleOnline(deps))
		r.Get("/storage/{area}", handleListKeys(deps))
		r.Delete("/storage/{area}", handleClear(deps))
		r.Get("/storage/{area}/{key}", handleGetItem(deps))
		r.Put("/storage/{area}/{key}", handlePutItem(deps))
		r.Delete("/storage/{area}/{key}", handleDeleteItem(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleOnline(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		online := true
		if deps.Online != nil {
			online = deps.Online()
		}
		writeJSON(w, http.StatusOK, map[string]bool{"online": online})
	}
}

// areaStore resolves the {area} URL parameter, writing an error response if
// it names no served store.
func areaStore(deps AppDeps, w http.ResponseWriter, r *http.Request) (storage.Backend, bool) {
	kind, err := storage.ParseKind(chi.URLParam(r, "area"))
	if err != nil {
		httpError(w, http.StatusNotFound, "not_found_error", "%v", err)
		return nil, false
	}
	store := deps.Local
	if kind == storage.KindSession {
		store = deps.Session
	}
	if store == nil {
		httpError(w, http.StatusNotFound, "not_found_error", "%s storage is not served", kind)
		return nil, false
	}
	return store, true
}

func handleListKeys(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		store, ok := areaStore(deps, w, r)
		if !ok {
			return
		}
		keys, err := store.Keys()
		if err != nil {
			storageError(w, err)
			return
		}
		if keys == nil {
			keys = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
	}
}

func handleClear(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		store, ok := areaStore(deps, w, r)
		if !ok {
			return
		}
		if err := store.Clear(); err != nil {
			storageError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleGetItem(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		store, ok := areaStore(deps, w, r)
		if !ok {
			return
		}
		key := chi.URLParam(r, "key")
		raw, found, err := store.Get(key)
		if err != nil {
			storageError(w, err)
			return
		}
		if !found {
			httpError(w, http.StatusNotFound, "not_found_error", "key %q not found", key)
			return
		}
		writeJSON(w, http.StatusOK, Item{
			Key:   key,
			Area:  string(store.Handle().Kind),
			Value: asJSON(raw),
		})
	}
}

func handlePutItem(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		store, ok := areaStore(deps, w, r)
		if !ok {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxValueSize)
		defer r.Body.Close()

		body, err := io.ReadAll(r.Body)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "value exceeds %d bytes", tooLarge.Limit)
			return
		}
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading body: %v", err)
			return
		}
		if !json.Valid(body) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "body must be a JSON document")
			return
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, body); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON: %v", err)
			return
		}

		key := chi.URLParam(r, "key")
		if err := store.Set(key, compact.String()); err != nil {
			storageError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, Item{
			Key:   key,
			Area:  string(store.Handle().Kind),
			Value: compact.Bytes(),
		})
	}
}

func handleDeleteItem(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		store, ok := areaStore(deps, w, r)
		if !ok {
			return
		}
		if err := store.Delete(chi.URLParam(r, "key")); err != nil {
			storageError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// asJSON returns raw unchanged if it is a JSON document, otherwise raw
// encoded as a JSON string.
func asJSON(raw string) json.RawMessage {
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}
	b, _ := json.Marshal(raw)
	return b
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
