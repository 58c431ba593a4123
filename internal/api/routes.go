// Package api provides HTTP handlers for the ais-shader tile server.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/SiggyF/ais-shader/internal/cache"
	"github.com/SiggyF/ais-shader/internal/ledger"
	"github.com/SiggyF/ais-shader/internal/service"
	"github.com/SiggyF/ais-shader/internal/tile"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Service     *service.TileService
	Cache       *cache.Manager
	Ledger      *ledger.Store
	CORSOrigins []string
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5, "application/json"))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Get("/tiles/{z}/{x}/{y}.png", tileHandler(cfg.Service))

	r.Route("/api", func(r chi.Router) {
		r.Get("/metadata", metadataHandler(cfg.Service))
		r.Get("/scale/{z}", scaleHandler(cfg.Service))
		r.Get("/legend.png", legendHandler(cfg.Service))
		if cfg.Cache != nil {
			r.Get("/stats", statsHandler(cfg.Cache))
		}
		if cfg.Ledger != nil {
			r.Get("/runs", runsHandler(cfg.Ledger))
			r.Get("/runs/{run_id}", runHandler(cfg.Ledger))
		}
	})

	return r
}

func tileHandler(svc *service.TileService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := parseTileCoords(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		data, err := svc.GetTile(r.Context(), a)
		switch {
		case errors.Is(err, service.ErrTileNotFound):
			// Return empty tile for areas without data
			data, err = svc.GetEmptyTile()
			if err != nil {
				http.Error(w, "failed to render empty tile", http.StatusInternalServerError)
				return
			}
		case err != nil:
			slog.Error("tile request failed", "tile", a.String(), "err", err)
			http.Error(w, "failed to render tile", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Write(data)
	}
}

func parseTileCoords(r *http.Request) (tile.Address, error) {
	var v [3]uint32
	for i, name := range []string{"z", "x", "y"} {
		n, err := strconv.ParseUint(chi.URLParam(r, name), 10, 32)
		if err != nil {
			return tile.Address{}, errors.New("invalid " + name)
		}
		v[i] = uint32(n)
	}
	return tile.New(v[0], v[1], v[2])
}

func metadataHandler(svc *service.TileService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metadata, err := svc.Metadata()
		if err != nil {
			http.Error(w, "failed to load metadata", http.StatusInternalServerError)
			return
		}
		writeJSON(w, metadata)
	}
}

func scaleHandler(svc *service.TileService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		z, err := strconv.ParseUint(chi.URLParam(r, "z"), 10, 32)
		if err != nil || z > tile.MaxZoom {
			http.Error(w, "invalid z", http.StatusBadRequest)
			return
		}
		bound, err := svc.Scale(r.Context(), uint32(z))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]interface{}{
			"zoom":  z,
			"bound": bound,
		})
	}
}

func legendHandler(svc *service.TileService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		zoom, err := queryInt(query.Get("zoom"), 0, 0, tile.MaxZoom)
		if err != nil {
			http.Error(w, "invalid zoom", http.StatusBadRequest)
			return
		}
		width, err := queryInt(query.Get("width"), 256, 32, 2048)
		if err != nil {
			http.Error(w, "invalid width", http.StatusBadRequest)
			return
		}
		height, err := queryInt(query.Get("height"), 48, 24, 512)
		if err != nil {
			http.Error(w, "invalid height", http.StatusBadRequest)
			return
		}

		data, err := svc.Legend(r.Context(), uint32(zoom), width, height)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	}
}

func statsHandler(cm *cache.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, cm.Stats())
	}
}

func runsHandler(store *ledger.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := queryInt(r.URL.Query().Get("limit"), 20, 1, 1000)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		runs, err := store.ListRuns(limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, runs)
	}
}

func runHandler(store *ledger.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "run_id")
		run, err := store.GetRun(runID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if run == nil {
			http.Error(w, "run not found: "+runID, http.StatusNotFound)
			return
		}
		summary, err := store.Summary(runID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		failures, err := store.Failures(runID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]interface{}{
			"run":      run,
			"summary":  summary,
			"failures": failures,
		})
	}
}

func queryInt(raw string, def, lo, hi int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if v < lo || v > hi {
		return 0, errors.New("out of range")
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
