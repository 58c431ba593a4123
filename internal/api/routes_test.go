package api

import (
	"bytes"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/SiggyF/ais-shader/internal/cache"
	"github.com/SiggyF/ais-shader/internal/data/zarr"
	"github.com/SiggyF/ais-shader/internal/grid"
	"github.com/SiggyF/ais-shader/internal/ledger"
	"github.com/SiggyF/ais-shader/internal/render"
	"github.com/SiggyF/ais-shader/internal/scale"
	"github.com/SiggyF/ais-shader/internal/service"
	"github.com/SiggyF/ais-shader/internal/tile"
)

// testServer holds the test server and its dependencies
type testServer struct {
	server *httptest.Server
	grids  *zarr.Store
	ledger *ledger.Store
}

// setupTestServer writes a small pyramid and returns a test server over it
func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()

	grids, err := zarr.NewStore(zarr.Config{Root: filepath.Join(dir, "zarr")})
	if err != nil {
		t.Fatalf("Failed to initialize grid store: %v", err)
	}
	t.Cleanup(grids.Close)
	for _, a := range []tile.Address{{Z: 1, X: 0, Y: 0}, {Z: 0}} {
		g := grid.New(8, nil)
		g.Set(0, 2, 2, 4)
		g.Set(0, 3, 2, 1)
		if err := grids.Write(a, g); err != nil {
			t.Fatalf("Failed to write grid: %v", err)
		}
	}

	cacheManager, err := cache.NewManager(cache.Config{
		TileCacheSizeMB: 16,
		TileTTL:         time.Minute,
		QueryCacheSize:  10,
	})
	if err != nil {
		t.Fatalf("Failed to initialize cache: %v", err)
	}
	t.Cleanup(func() { cacheManager.Close() })

	store, err := ledger.NewStore(filepath.Join(dir, "ledger.db"))
	if err != nil {
		t.Fatalf("Failed to initialize ledger: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	tileService := service.NewTileService(service.TileServiceConfig{
		Grids:    grids,
		Cache:    cacheManager,
		Renderer: render.NewTileRenderer(render.Config{TileSize: 8, LogScale: true}),
		LogScale: true,
		Scale:    scale.Config{Seed: 1},
	})

	router := NewRouter(RouterConfig{
		Service:     tileService,
		Cache:       cacheManager,
		Ledger:      store,
		CORSOrigins: []string{"http://localhost:3000"},
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testServer{server: server, grids: grids, ledger: store}
}

func get(t *testing.T, ts *testServer, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(ts.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, body
}

func TestHealthEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	resp, body := get(t, ts, "/health")
	if resp.StatusCode != http.StatusOK || string(body) != "OK" {
		t.Fatalf("unexpected health response %d %q", resp.StatusCode, body)
	}
}

func TestTileEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantImage  bool
	}{
		{"stored", "/tiles/1/0/0.png", http.StatusOK, true},
		{"root", "/tiles/0/0/0.png", http.StatusOK, true},
		{"missing", "/tiles/1/1/1.png", http.StatusOK, true},
		{"outOfRange", "/tiles/1/2/0.png", http.StatusBadRequest, false},
		{"negative", "/tiles/1/-1/0.png", http.StatusBadRequest, false},
		{"notNumber", "/tiles/a/0/0.png", http.StatusBadRequest, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := get(t, ts, tc.path)
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status = %d, want %d: %s", resp.StatusCode, tc.wantStatus, body)
			}
			if !tc.wantImage {
				return
			}
			if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
				t.Fatalf("Content-Type = %q", ct)
			}
			if _, err := png.Decode(bytes.NewReader(body)); err != nil {
				t.Fatalf("invalid png: %v", err)
			}
		})
	}
}

func TestMissingTileIsTransparent(t *testing.T) {
	ts := setupTestServer(t)
	_, body := get(t, ts, "/tiles/1/1/1.png")
	img, err := png.Decode(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("invalid png: %v", err)
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0 {
				t.Fatalf("pixel (%d,%d) not transparent", x, y)
			}
		}
	}
}

func TestMetadataEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	resp, body := get(t, ts, "/api/metadata")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var md service.Metadata
	if err := json.Unmarshal(body, &md); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
	if md.CRS != "EPSG:3857" || md.MaxZoom != 1 || md.TileCounts["1"] != 1 {
		t.Fatalf("unexpected metadata %+v", md)
	}
}

func TestScaleEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	resp, body := get(t, ts, "/api/scale/1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var payload map[string]float64
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
	// values 4 and 1: the 98th percentile averages them
	if payload["bound"] != 2.5 {
		t.Fatalf("bound = %v, want 2.5", payload["bound"])
	}

	resp, _ = get(t, ts, "/api/scale/x")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestLegendEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	resp, body := get(t, ts, "/api/legend.png?zoom=1&width=128&height=40")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	img, err := png.Decode(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("invalid png: %v", err)
	}
	if img.Bounds().Dx() != 128 || img.Bounds().Dy() != 40 {
		t.Fatalf("legend size = %v", img.Bounds())
	}

	resp, _ = get(t, ts, "/api/legend.png?width=5")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRunEndpoints(t *testing.T) {
	ts := setupTestServer(t)
	if err := ts.ledger.CreateRun(&ledger.Run{ID: "r1", Command: "render", Dir: "d", BaseZoom: 1, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("CreateRun error = %v", err)
	}
	err := ts.ledger.InsertResults("r1", []ledger.TaskResult{
		{Stage: "rasterize", Tile: tile.Address{Z: 1, X: 1, Y: 1}, Status: "failed", Error: "boom"},
	})
	if err != nil {
		t.Fatalf("InsertResults error = %v", err)
	}

	resp, body := get(t, ts, "/api/runs")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var runs []ledger.Run
	if err := json.Unmarshal(body, &runs); err != nil || len(runs) != 1 {
		t.Fatalf("runs = %v, %v", runs, err)
	}

	resp, body = get(t, ts, "/api/runs/r1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var detail struct {
		Summary  map[string]map[string]int `json:"summary"`
		Failures []ledger.TaskResult       `json:"failures"`
	}
	if err := json.Unmarshal(body, &detail); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
	if detail.Summary["rasterize"]["failed"] != 1 || len(detail.Failures) != 1 {
		t.Fatalf("unexpected detail %+v", detail)
	}

	resp, _ = get(t, ts, "/api/runs/missing")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
