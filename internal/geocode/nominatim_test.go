package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitmap/internal/geo"
)

func TestSearch(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Write([]byte(`[
			{"lat":"59.9390","lon":"30.3158","display_name":"Palace Square, Saint Petersburg"},
			{"lat":"59.9400","lon":"30.3200","display_name":"Palace Embankment"}
		]`))
	}))
	defer srv.Close()

	c := New(srv.URL, "transitmap-test", time.Second)
	near := geo.NewBounds(59.9, 30.2, 60.0, 30.4)
	results, err := c.Search(context.Background(), "palace square", near, 5)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, Result{Lat: 59.939, Lon: 30.3158, DisplayName: "Palace Square, Saint Petersburg"}, results[0])

	assert.Equal(t, "/search", got.URL.Path)
	assert.Equal(t, "transitmap-test", got.Header.Get("User-Agent"))
	q := got.URL.Query()
	assert.Equal(t, "palace square", q.Get("q"))
	assert.Equal(t, "5", q.Get("limit"))
	assert.Equal(t, "30.200000,60.000000,30.400000,59.900000", q.Get("viewbox"))
}

func TestSearch_NoViewboxWithoutBounds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("viewbox"))
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	results, err := New(srv.URL, "ua", time.Second).Search(context.Background(), "nowhere", geo.Bounds{}, 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr string
	}{
		{
			name: "status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
			wantErr: "nominatim status 429",
		},
		{
			name: "bad json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{`))
			},
			wantErr: "nominatim decode",
		},
		{
			name: "bad coordinate",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`[{"lat":"north","lon":"1","display_name":"x"}]`))
			},
			wantErr: "parse lat",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := New(srv.URL, "ua", time.Second).Search(context.Background(), "q", geo.Bounds{}, 1)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
