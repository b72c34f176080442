package realtime

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
)

func translated(s string) *gtfs.TranslatedString {
	return &gtfs.TranslatedString{
		Translation: []*gtfs.TranslatedString_Translation{{Text: proto.String(s), Language: proto.String("en")}},
	}
}

func testFeed(t *testing.T) []byte {
	t.Helper()
	feed := &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{GtfsRealtimeVersion: proto.String("2.0")},
		Entity: []*gtfs.FeedEntity{
			{
				Id: proto.String("a1"),
				Alert: &gtfs.Alert{
					HeaderText:      translated("Detour on route 5"),
					DescriptionText: translated("Road works"),
					Effect:          gtfs.Alert_DETOUR.Enum(),
					Cause:           gtfs.Alert_CONSTRUCTION.Enum(),
					InformedEntity: []*gtfs.EntitySelector{
						{RouteId: proto.String("r5")},
						{RouteId: proto.String("r5")},
						{Trip: &gtfs.TripDescriptor{RouteId: proto.String("r7")}},
						{StopId: proto.String("s1")},
					},
					ActivePeriod: []*gtfs.TimeRange{{Start: proto.Uint64(1000), End: proto.Uint64(2000)}},
				},
			},
			{
				Id:        proto.String("deleted"),
				IsDeleted: proto.Bool(true),
				Alert:     &gtfs.Alert{HeaderText: translated("gone")},
			},
			{
				Id: proto.String("not-an-alert"),
			},
		},
	}
	body, err := proto.Marshal(feed)
	require.NoError(t, err)
	return body
}

func TestParseAlerts(t *testing.T) {
	alerts, err := ParseAlerts(testFeed(t))
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	a := alerts[0]
	assert.Equal(t, "a1", a.ID)
	assert.Equal(t, "Detour on route 5", a.HeaderText)
	assert.Equal(t, "Road works", a.DescText)
	assert.Equal(t, "DETOUR", a.Effect)
	assert.Equal(t, "Detour", a.EffectLabel())
	assert.Equal(t, []string{"r5", "r7"}, a.RouteIDs)
	assert.Equal(t, []string{"s1"}, a.StopIDs)
	require.Len(t, a.Periods, 1)
	assert.Equal(t, time.Unix(1000, 0), a.Periods[0].Start)
}

func TestParseAlerts_Garbage(t *testing.T) {
	_, err := ParseAlerts([]byte("definitely not protobuf \xff\xff"))
	assert.Error(t, err)
}

func TestAlert_ActiveAt(t *testing.T) {
	at := func(sec int64) time.Time { return time.Unix(sec, 0) }
	tests := []struct {
		name    string
		periods []Period
		t       time.Time
		want    bool
	}{
		{name: "no periods", t: at(5), want: true},
		{name: "inside", periods: []Period{{Start: at(1), End: at(10)}}, t: at(5), want: true},
		{name: "before start", periods: []Period{{Start: at(6)}}, t: at(5), want: false},
		{name: "at end is over", periods: []Period{{Start: at(1), End: at(5)}}, t: at(5), want: false},
		{name: "open start", periods: []Period{{End: at(10)}}, t: at(5), want: true},
		{name: "second period", periods: []Period{{End: at(2)}, {Start: at(4)}}, t: at(5), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Alert{Periods: tt.periods}.ActiveAt(tt.t))
		})
	}
}

func TestEffectLabel_Unknown(t *testing.T) {
	assert.Equal(t, "Alert", Alert{Effect: "UNKNOWN_EFFECT"}.EffectLabel())
}

func TestStore_Filters(t *testing.T) {
	s := NewStore()
	s.now = func() time.Time { return time.Unix(1500, 0) }
	s.SetAlerts([]Alert{
		{ID: "a", RouteIDs: []string{"r1"}, StopIDs: []string{"s1"}},
		{ID: "b", RouteIDs: []string{"r2"}},
		{ID: "expired", RouteIDs: []string{"r1"}, Periods: []Period{{End: time.Unix(1000, 0)}}},
	})

	ids := func(as []Alert) []string {
		var out []string
		for _, a := range as {
			out = append(out, a.ID)
		}
		return out
	}
	assert.Equal(t, []string{"a"}, ids(s.AlertsForRoute("r1")))
	assert.Equal(t, []string{"a"}, ids(s.AlertsForStop("s1")))
	assert.Empty(t, s.AlertsForRoute("r9"))
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, time.Unix(1500, 0), s.Updated())

	var nilStore *Store
	assert.Nil(t, nilStore.AlertsForRoute("r1"))
}

func TestFetcher_Run(t *testing.T) {
	body := testFeed(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-protobuf")
		w.Write(body)
	}))
	defer srv.Close()

	store := NewStore()
	f := NewFetcher(srv.URL, time.Hour, store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.Run(ctx)
	}()

	require.Eventually(t, func() bool { return store.Len() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestFetcher_BadStatusKeepsAlerts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	store := NewStore()
	store.SetAlerts([]Alert{{ID: "old"}})
	f := NewFetcher(srv.URL, time.Hour, store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := f.fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
	assert.Equal(t, 1, store.Len())
}
