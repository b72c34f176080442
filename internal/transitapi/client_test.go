package transitapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitmap/internal/apperr"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 2*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestStopsInRect_QueryAndPassthrough(t *testing.T) {
	var gotPath string
	var gotQuery map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		w.Write([]byte(`[{"id":"s1","name":"Central","lat":59.93,"lon":30.36},{"id":"s2","name":"Park","lat":59.935,"lon":30.35}]`))
	})

	rect := Rect{TopLeftLat: 59.94, TopLeftLon: 30.30, BottomRightLat: 59.92, BottomRightLon: 30.40}
	stops, err := c.StopsInRect(context.Background(), rect)
	require.NoError(t, err)

	assert.Equal(t, "/stops/in-rect", gotPath)
	assert.Equal(t, map[string]string{
		"topLeftLat":     "59.94",
		"topLeftLon":     "30.3",
		"bottomRightLat": "59.92",
		"bottomRightLon": "30.4",
	}, gotQuery)

	require.Len(t, stops, 2)
	for _, s := range stops {
		assert.True(t, rect.Contains(s.Lat, s.Lon), "stop %s outside requested rect", s.ID)
	}
	assert.Equal(t, "Central", stops[0].Name)
}

func TestRouteGeometry_EscapesPath(t *testing.T) {
	var gotRawPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotRawPath = r.URL.EscapedPath()
		w.Write([]byte(`{"routeId":"5A/x","stops":[],"shapes":[{"shapeId":"sh1","points":[{"lat":1,"lon":2},{"lat":3,"lon":4}]}]}`))
	})

	g, err := c.RouteGeometry(context.Background(), "5A/x")
	require.NoError(t, err)
	assert.Equal(t, "/routes/5A%2Fx/geometry", gotRawPath)
	require.Len(t, g.Shapes, 1)
	assert.Equal(t, []LatLon{{1, 2}, {3, 4}}, g.Shapes[0].Points)
}

func TestVehiclePosition_MaxAgeAndNullCoords(t *testing.T) {
	var gotMaxAge string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMaxAge = r.URL.Query().Get("maxAgeSeconds")
		assert.Equal(t, "/trips/t1/vehicle", r.URL.Path)
		w.Write([]byte(`{"tripId":"t1","lat":null,"lon":null}`))
	})

	v, err := c.VehiclePosition(context.Background(), "t1", 84600*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "84600", gotMaxAge)
	assert.False(t, v.Live())
}

func TestVehiclePosition_FillsMissingTripID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"lat":59.9,"lon":30.3,"bearing":90}`))
	})

	v, err := c.VehiclePosition(context.Background(), "t9", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "t9", v.TripID)
	assert.True(t, v.Live())
	require.NotNil(t, v.Bearing)
	assert.Equal(t, 90.0, *v.Bearing)
}

func TestRouteScheduleAtStop_DateParam(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stops/s1/routes/r1/times", r.URL.Path)
		assert.Equal(t, "2025-06-15", r.URL.Query().Get("date"))
		w.Write([]byte(`{"stopId":"s1","routeId":"r1","date":"2025-06-15","shortName":"5A","longName":null,"routeType":3,"times":["08:00:00","08:30:00"]}`))
	})

	s, err := c.RouteScheduleAtStop(context.Background(), "s1", "r1", time.Date(2025, 6, 15, 23, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Nil(t, s.LongName)
	assert.Equal(t, []string{"08:00:00", "08:30:00"}, s.Times)
}

func TestErrors_Classified(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantKind   apperr.Kind
		wantStatus int
	}{
		{
			name: "non-success status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", http.StatusBadGateway)
			},
			wantKind:   apperr.KindRequest,
			wantStatus: http.StatusBadGateway,
		},
		{
			name: "bad json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{not json`))
			},
			wantKind: apperr.KindDecode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler)
			_, err := c.TripsByRoute(context.Background(), "r1")
			require.Error(t, err)

			var re *RequestError
			require.True(t, errors.As(err, &re))
			assert.Equal(t, "trips_by_route", re.Op)
			assert.Equal(t, tt.wantStatus, re.Status)

			classified := apperr.Classify(err, "fallback")
			assert.Equal(t, tt.wantKind, classified.Kind)
		})
	}
}

func TestNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := c.TripShape(context.Background(), "t1")
	require.Error(t, err)
	assert.Equal(t, apperr.KindNetwork, apperr.Classify(err, "").Kind)
}

func TestCanceledContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"stops":[]}`))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.TripStops(ctx, "t1")
	require.Error(t, err)
	assert.Equal(t, apperr.KindCanceled, apperr.Classify(err, "").Kind)
}

type recordingObserver struct {
	mu  sync.Mutex
	ops []string
	errs int
}

func (o *recordingObserver) ObserveRequest(op string, d time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ops = append(o.ops, op)
	if err != nil {
		o.errs++
	}
}

func TestObserver(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`[]`))
	})
	obs := &recordingObserver{}
	c.WithObserver(obs)

	_, err := c.RoutesThroughStop(context.Background(), "s1")
	require.NoError(t, err)
	_, err = c.RoutesThroughStop(context.Background(), "s1")
	require.Error(t, err)

	assert.Equal(t, []string{"routes_through_stop", "routes_through_stop"}, obs.ops)
	assert.Equal(t, 1, obs.errs)
}
