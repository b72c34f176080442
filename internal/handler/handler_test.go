package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitmap/internal/config"
	"transitmap/internal/geocode"
	"transitmap/internal/realtime"
	"transitmap/internal/routedata"
	"transitmap/internal/session"
	"transitmap/internal/transitapi"
)

// backend is a fake transit backend serving one route "5A" with trips t1
// (live, with shape and stops) and t2 (no position), and one stop "s1"
// served by that route.
type backend struct {
	*httptest.Server
	hits atomic.Int32

	mu       sync.Mutex
	rectArgs url.Values
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{}
	mux := http.NewServeMux()
	reply := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, body)
		}
	}
	mux.HandleFunc("GET /stops/in-rect", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.rectArgs = r.URL.Query()
		b.mu.Unlock()
		reply(`[{"id":"s1","name":"Nevsky","lat":59.935,"lon":30.33}]`)(w, r)
	})
	mux.HandleFunc("GET /stops/s1/routes", reply(`[{"routeId":"5A","shortName":"5","routeType":3}]`))
	mux.HandleFunc("GET /stops/s1/routes/5A/times", reply(`{"stopId":"s1","routeId":"5A","date":"2025-03-01","shortName":"5","times":["08:00:00","08:20:00"]}`))
	mux.HandleFunc("GET /routes/5A/geometry", reply(`{"routeId":"5A","stops":[{"id":"s1","name":"Nevsky","lat":59.935,"lon":30.33}],"shapes":[{"shapeId":"sh1","points":[{"lat":59.93,"lon":30.32},{"lat":59.94,"lon":30.34}]}]}`))
	mux.HandleFunc("GET /routes/5A/trips", reply(`[{"tripId":"t1","directionId":0,"shapeId":"sh1"},{"tripId":"t2","directionId":1,"shapeId":"sh1"}]`))
	mux.HandleFunc("GET /trips/t1/vehicle", reply(`{"tripId":"t1","lat":59.934,"lon":30.331,"bearing":45}`))
	mux.HandleFunc("GET /trips/t2/vehicle", reply(`{"tripId":"t2","lat":null,"lon":null}`))
	mux.HandleFunc("GET /trips/t1/shape", reply(`{"points":[{"lat":59.94,"lon":30.34,"sequence":2},{"lat":59.93,"lon":30.32,"sequence":1}]}`))
	mux.HandleFunc("GET /trips/t1/stops", reply(`{"stops":[{"stopId":"s1","stopName":"Nevsky","lat":59.935,"lon":30.33,"sequence":1,"arrivalTime":"08:00:00","departureTime":"08:00:00"}]}`))

	b.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.hits.Add(1)
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(b.Close)
	return b
}

type testEnv struct {
	h       *Handler
	store   *session.Store
	sess    *session.Session
	backend *backend
	router  http.Handler
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T, geo *geocode.Client) *testEnv {
	t.Helper()
	b := newBackend(t)
	logger := discardLogger()
	api := transitapi.NewClient(b.URL, 5*time.Second, logger)

	store := session.NewStore(api, session.Options{
		TTL: time.Minute,
		Route: routedata.Options{
			InitialMaxAge:   time.Hour,
			RefreshMaxAge:   time.Minute,
			RefreshInterval: time.Hour,
		},
		ActiveProbeMaxAge: time.Hour,
		ProbeConcurrency:  4,
	}, logger)
	t.Cleanup(store.Close)
	sess, _ := store.Resolve("")

	h := New(api, realtime.NewStore(), geo, config.Default(), nil, logger)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(session.NewContext(r.Context(), sess)))
		})
	})
	r.Get("/", h.Home)
	r.Get("/api/stops", h.Stops)
	r.Get("/api/state", h.State)
	r.Get("/api/place", h.PlaceSearch)
	r.Get("/stops/{stopID}/popup", h.StopPopup)
	r.Post("/stops/{stopID}/active", h.CheckActive)
	r.Get("/stops/{stopID}/routes/{routeID}/times", h.Schedule)
	r.Post("/route", h.SelectRoute)
	r.Post("/route/clear", h.ClearRoute)
	r.Post("/trip", h.SelectTrip)
	r.Get("/sse/map", h.MapEvents)

	return &testEnv{h: h, store: store, sess: sess, backend: b, router: r}
}

func (e *testEnv) do(method, target string, form url.Values) *httptest.ResponseRecorder {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) loadRoute(t *testing.T) {
	t.Helper()
	rec := e.do(http.MethodPost, "/route", url.Values{"route_id": {"5A"}})
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Eventually(t, func() bool {
		st := e.sess.Map.Snapshot()
		return st.RouteID == "5A" && !st.Loading.Any() && len(st.Vehicles) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestComputeAssetVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"css/map.css":    {Data: []byte("body{}")},
		"js/map.js":      {Data: []byte("init()")},
		"icons/icon.svg": {Data: []byte("<svg/>")},
	}
	v1 := computeAssetVersion(fsys)
	assert.Len(t, v1, 8)
	assert.Equal(t, v1, computeAssetVersion(fsys), "version is deterministic")

	fsys["icons/icon.svg"] = &fstest.MapFile{Data: []byte("<svg></svg>")}
	assert.Equal(t, v1, computeAssetVersion(fsys), "only css and js count")

	fsys["js/map.js"] = &fstest.MapFile{Data: []byte("init(2)")}
	assert.NotEqual(t, v1, computeAssetVersion(fsys))
}

func TestStops_ZoomedOut(t *testing.T) {
	e := newTestEnv(t, nil)

	rec := e.do(http.MethodGet, "/api/stops?south=59.92&west=30.30&north=59.94&east=30.40&zoom=12", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got stopsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Zoom in to see stops", got.Prompt)
	assert.Empty(t, got.Stops)
	assert.Equal(t, int32(0), e.backend.hits.Load(), "no backend call below the minimum zoom")
}

func TestStops_PassesViewportThrough(t *testing.T) {
	e := newTestEnv(t, nil)

	rec := e.do(http.MethodGet, "/api/stops?south=59.92&west=30.3&north=59.94&east=30.4&zoom=16", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got stopsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Stops, 1)
	assert.Equal(t, "Nevsky", got.Stops[0].Name)
	assert.Empty(t, got.Prompt)

	e.backend.mu.Lock()
	args := e.backend.rectArgs
	e.backend.mu.Unlock()
	assert.Equal(t, "59.94", args.Get("topLeftLat"))
	assert.Equal(t, "30.3", args.Get("topLeftLon"))
	assert.Equal(t, "59.92", args.Get("bottomRightLat"))
	assert.Equal(t, "30.4", args.Get("bottomRightLon"))
}

func TestStops_WorldViewPrompts(t *testing.T) {
	e := newTestEnv(t, nil)

	rec := e.do(http.MethodGet, "/api/stops?south=-80&west=-337.5&north=80&east=337.5&zoom=2", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got stopsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Zoom in to see stops", got.Prompt)
	assert.Equal(t, int32(0), e.backend.hits.Load())
}

func TestStops_WrapsWorldCopies(t *testing.T) {
	e := newTestEnv(t, nil)

	rec := e.do(http.MethodGet, "/api/stops?south=59.92&west=390.25&north=59.94&east=390.5&zoom=16", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got stopsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got.Stops, 1)

	e.backend.mu.Lock()
	args := e.backend.rectArgs
	e.backend.mu.Unlock()
	assert.Equal(t, "30.25", args.Get("topLeftLon"))
	assert.Equal(t, "30.5", args.Get("bottomRightLon"))
}

func TestStops_BadRequest(t *testing.T) {
	e := newTestEnv(t, nil)
	tests := []struct {
		name  string
		query string
	}{
		{"missing zoom", "south=1&west=1&north=2&east=2"},
		{"bad number", "south=x&west=1&north=2&east=2&zoom=16"},
		{"inverted", "south=3&west=1&north=2&east=2&zoom=16"},
		{"not a number", "south=NaN&west=1&north=2&east=2&zoom=16"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(http.MethodGet, "/api/stops?"+tt.query, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestStopPopup_LoadsRoutes(t *testing.T) {
	e := newTestEnv(t, nil)

	rec := e.do(http.MethodGet, "/stops/s1/popup?name=Nevsky", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Nevsky")
	assert.Contains(t, body, `data-route="5A"`)
	assert.Contains(t, body, "Find active")

	rec = e.do(http.MethodPost, "/stops/s1/active", url.Values{"name": {"Nevsky"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Running now:")
}

func TestSchedule(t *testing.T) {
	e := newTestEnv(t, nil)

	rec := e.do(http.MethodGet, "/stops/s1/routes/5A/times?date=2025-03-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<li>08:20:00</li>")

	rec = e.do(http.MethodGet, "/stops/s1/routes/5A/times?date=03/01/2025", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodGet, "/stops/s1/routes/99/times?date=2025-03-01", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), `class="error"`)
}

func TestSelectRoute_LoadsInBackground(t *testing.T) {
	e := newTestEnv(t, nil)
	e.loadRoute(t)

	rec := e.do(http.MethodGet, "/api/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Layers struct {
			RouteID  string `json:"routeId"`
			Vehicles []struct {
				TripID   string  `json:"tripId"`
				Rotation float64 `json:"rotation"`
			} `json:"vehicles"`
			FitKey string `json:"fitKey"`
		} `json:"layers"`
		Panel string `json:"panel"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "5A", got.Layers.RouteID)
	require.Len(t, got.Layers.Vehicles, 1, "only live positions are drawn")
	assert.Equal(t, 45.0, got.Layers.Vehicles[0].Rotation)
	assert.Equal(t, "route:5A", got.Layers.FitKey)
	assert.Contains(t, got.Panel, "Trips with buses (1)")
	assert.Contains(t, got.Panel, "All trips (2)")
}

func TestSelectRoute_RequiresID(t *testing.T) {
	e := newTestEnv(t, nil)
	rec := e.do(http.MethodPost, "/route", url.Values{"route_id": {"  "}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSelectTripAndClear(t *testing.T) {
	e := newTestEnv(t, nil)
	e.loadRoute(t)

	rec := e.do(http.MethodPost, "/trip", url.Values{"trip_id": {"t1"}})
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Eventually(t, func() bool {
		st := e.sess.Map.Snapshot()
		return st.TripID == "t1" && st.TripShape != nil && !st.Loading.TripDetails
	}, 2*time.Second, 10*time.Millisecond)
	assert.Nil(t, e.sess.Map.Snapshot().TripErr)

	rec = e.do(http.MethodPost, "/route/clear", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	st := e.sess.Map.Snapshot()
	assert.Empty(t, st.RouteID)
	assert.Empty(t, st.TripID)
	assert.Empty(t, st.Vehicles)
}

func TestHome(t *testing.T) {
	e := newTestEnv(t, nil)
	rec := e.do(http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `id="map"`)
	assert.Contains(t, rec.Body.String(), "map.js?v="+e.h.version)
}

func TestMissingSession(t *testing.T) {
	e := newTestEnv(t, nil)
	rec := httptest.NewRecorder()
	e.h.State(rec, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMapEvents_SendsCurrentState(t *testing.T) {
	e := newTestEnv(t, nil)
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sse/map", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var events []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() && len(events) < 3 {
		if name, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
			events = append(events, name)
		}
	}
	assert.Equal(t, []string{"layers", "panel", "banners"}, events)
}

func TestMapEvents_EndsWithSession(t *testing.T) {
	e := newTestEnv(t, nil)
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sse/map", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	for n := 0; n < 3 && sc.Scan(); {
		if strings.HasPrefix(sc.Text(), "event: ") {
			n++
		}
	}

	e.store.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for sc.Scan() {
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream still open after its session closed")
	}
}

func TestWriteEvent_MultilineData(t *testing.T) {
	rec := httptest.NewRecorder()
	writeEvent(rec, "panel", []byte("<div>\n<b>x</b>\n</div>"))
	assert.Equal(t, "event: panel\ndata: <div>\ndata: <b>x</b>\ndata: </div>\n\n", rec.Body.String())
}

func TestPlaceSearch(t *testing.T) {
	nominatim := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Hermitage", r.URL.Query().Get("q"))
		assert.NotEmpty(t, r.URL.Query().Get("viewbox"))
		io.WriteString(w, `[
			{"lat":"59.9500","lon":"30.3000","display_name":"Far"},
			{"lat":"59.9398","lon":"30.3146","display_name":"Hermitage"},
			{"lat":"59.9399","lon":"30.3147","display_name":"Hermitage entrance"}
		]`)
	}))
	defer nominatim.Close()

	e := newTestEnv(t, geocode.New(nominatim.URL, "test", time.Second))
	rec := e.do(http.MethodGet, "/api/place?q=Hermitage&lat=59.9398&lon=30.3146", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got placeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Results, 2, "results a few meters apart are merged")
	assert.Equal(t, "Hermitage", got.Results[0].Name, "nearest first")
	assert.Less(t, got.Results[0].Distance, got.Results[1].Distance)
}

func TestPlaceSearch_Unavailable(t *testing.T) {
	e := newTestEnv(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, e.do(http.MethodGet, "/api/place?q=x", nil).Code)

	e = newTestEnv(t, geocode.New("http://127.0.0.1:1", "test", time.Second))
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/api/place?q=", nil).Code)
}

func TestClusterPlaces(t *testing.T) {
	tests := []struct {
		name    string
		results []geocode.Result
		want    int
	}{
		{"empty", nil, 0},
		{"single", []geocode.Result{{DisplayName: "A", Lat: 59.93, Lon: 30.33}}, 1},
		{"same spot merged", []geocode.Result{
			{DisplayName: "A", Lat: 59.93000, Lon: 30.33000},
			{DisplayName: "B", Lat: 59.93005, Lon: 30.33005},
		}, 1},
		{"far apart", []geocode.Result{
			{DisplayName: "A", Lat: 59.93, Lon: 30.33},
			{DisplayName: "B", Lat: 59.95, Lon: 30.33},
		}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, clusterPlaces(tt.results, 200), tt.want)
		})
	}
}

func TestClusterPlaces_CentroidAndFirstName(t *testing.T) {
	got := clusterPlaces([]geocode.Result{
		{DisplayName: "First", Lat: 10.0, Lon: 20.0},
		{DisplayName: "Second", Lat: 10.0, Lon: 20.0},
		{DisplayName: "Third", Lat: 10.0, Lon: 20.0},
	}, 200)
	require.Len(t, got, 1)
	assert.Equal(t, "First", got[0].Name)
	assert.InDelta(t, 10.0, got[0].Lat, 1e-9)
	assert.InDelta(t, 20.0, got[0].Lon, 1e-9)
}
