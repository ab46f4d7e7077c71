package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"easybox-network/internal/config"
	"easybox-network/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistance(t *testing.T) {
	// Bucharest Piata Unirii to Piata Victoriei, roughly 3 km
	d := Distance(44.4268, 26.1025, 44.4520, 26.0860)
	assert.InDelta(t, 3100, d, 150)

	assert.Equal(t, 0.0, Distance(44.4, 26.1, 44.4, 26.1))

	// one degree of latitude
	assert.InDelta(t, 111195, Distance(0, 0, 1, 0), 1)
}

func TestDistanceSymmetric(t *testing.T) {
	points := []Point{
		{44.4268, 26.1025},
		{46.7712, 23.6236},
		{-33.8688, 151.2093},
		{0, 0},
		{89.9, -179.9},
	}
	for _, a := range points {
		for _, b := range points {
			assert.Equal(t, a.DistanceTo(b), b.DistanceTo(a), "%v %v", a, b)
		}
	}
}

func newTestGeocoder(url string) *Nominatim {
	return NewNominatim(config.Geocoder{
		URL:       url,
		UserAgent: "easybox-test",
		CacheTTL:  time.Hour,
		Timeout:   5 * time.Second,
	})
}

func TestGeocodeCachesResults(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "easybox-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "Strada Lipscani 5, Bucuresti", r.URL.Query().Get("q"))
		w.Write([]byte(`[{"lat":"44.4310","lon":"26.1010"}]`))
	}))
	defer srv.Close()

	g := newTestGeocoder(srv.URL)
	ctx := context.Background()

	p, err := g.Geocode(ctx, "Strada Lipscani 5, Bucuresti")
	require.NoError(t, err)
	assert.Equal(t, Point{Lat: 44.4310, Lon: 26.1010}, p)

	again, err := g.Geocode(ctx, "  strada lipscani 5,   BUCURESTI ")
	require.NoError(t, err)
	assert.Equal(t, p, again)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGeocodeCollapsesConcurrentLookups(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		w.Write([]byte(`[{"lat":"1.5","lon":"2.5"}]`))
	}))
	defer srv.Close()

	g := newTestGeocoder(srv.URL)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := g.Geocode(context.Background(), "same place")
			assert.NoError(t, err)
			assert.Equal(t, 1.5, p.Lat)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestGeocodeSurvivesFirstCallerCancel(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		w.Write([]byte(`[{"lat":"1.5","lon":"2.5"}]`))
	}))
	defer srv.Close()

	g := newTestGeocoder(srv.URL)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := g.Geocode(first, "same place")
		firstErr <- err
	}()
	<-started

	second := make(chan Point, 1)
	go func() {
		p, err := g.Geocode(context.Background(), "same place")
		assert.NoError(t, err)
		second <- p
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	err := <-firstErr
	assert.ErrorIs(t, err, utils.ErrGeocoding)
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	assert.Equal(t, Point{Lat: 1.5, Lon: 2.5}, <-second)
	assert.Equal(t, int32(1), calls.Load())

	// the shared result was cached
	p, err := g.Geocode(context.Background(), "same place")
	require.NoError(t, err)
	assert.Equal(t, 1.5, p.Lat)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGeocodeNoResult(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	g := newTestGeocoder(srv.URL)
	g.maxRetries = 3

	_, err := g.Geocode(context.Background(), "nowhere at all")
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrGeocoding)

	var gf *utils.GeocodingFailure
	require.ErrorAs(t, err, &gf)
	assert.Equal(t, "nowhere at all", gf.Address)

	// an empty answer is not retried
	assert.Equal(t, int32(1), calls.Load())
}

func TestGeocodeUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := newTestGeocoder(srv.URL)
	_, err := g.Geocode(context.Background(), "somewhere")
	assert.ErrorIs(t, err, utils.ErrGeocoding)
	assert.True(t, utils.Retryable(err))

	_, err = g.Geocode(context.Background(), "   ")
	assert.ErrorIs(t, err, utils.ErrGeocoding)
}
