package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"easybox-network/internal/config"
	"easybox-network/internal/metrics"
	"easybox-network/internal/utils"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

var errNoMatch = errors.New("no coordinates found")

// Geocoder resolves an address to a point.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (Point, error)
}

type cacheEntry struct {
	point   Point
	expires time.Time
}

// Nominatim queries an OpenStreetMap Nominatim compatible search endpoint.
// Results are cached per normalised address, concurrent lookups for one
// address share a single upstream call and upstream calls are rate limited.
type Nominatim struct {
	baseURL    string
	userAgent  string
	maxRetries uint
	cacheTTL   time.Duration
	lookupTTL  time.Duration // bounds a shared lookup once its caller is gone

	client  *http.Client
	limiter *rate.Limiter
	group   singleflight.Group

	mu    sync.RWMutex
	cache map[string]cacheEntry

	logger *slog.Logger
}

func NewNominatim(cfg config.Geocoder) *Nominatim {
	r := rate.Limit(cfg.Rate)
	if cfg.Rate <= 0 {
		r = rate.Inf
	}
	lookupTTL := cfg.Timeout*time.Duration(cfg.MaxRetries+1) + time.Duration(cfg.MaxRetries)*30*time.Second
	if lookupTTL <= 0 {
		lookupTTL = time.Minute
	}
	return &Nominatim{
		baseURL:    cfg.URL,
		userAgent:  cfg.UserAgent,
		maxRetries: cfg.MaxRetries,
		cacheTTL:   cfg.CacheTTL,
		lookupTTL:  lookupTTL,
		client:     &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(r, 1),
		cache:      make(map[string]cacheEntry),
		logger:     slog.With("component", "geocoder"),
	}
}

func cacheKey(address string) string {
	return strings.ToLower(strings.Join(strings.Fields(address), " "))
}

func (n *Nominatim) cached(key string) (Point, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	e, ok := n.cache[key]
	if !ok || time.Now().After(e.expires) {
		return Point{}, false
	}
	return e.point, true
}

// Geocode returns the coordinates of address. Any failure is reported as a
// *utils.GeocodingFailure.
func (n *Nominatim) Geocode(ctx context.Context, address string) (Point, error) {
	key := cacheKey(address)
	if key == "" {
		return Point{}, &utils.GeocodingFailure{Address: address, Err: errors.New("empty address")}
	}
	if p, ok := n.cached(key); ok {
		metrics.GeocodeRequestsTotal.WithLabelValues("hit").Inc()
		return p, nil
	}

	// Shared by every caller of key; it outlives whichever caller started it.
	ch := n.group.DoChan(key, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.lookupTTL)
		defer cancel()
		p, err := n.lookupWithRetry(lookupCtx, address)
		if err != nil {
			return nil, err
		}
		n.mu.Lock()
		n.cache[key] = cacheEntry{point: p, expires: time.Now().Add(n.cacheTTL)}
		n.mu.Unlock()
		return p, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			metrics.GeocodeRequestsTotal.WithLabelValues("error").Inc()
			return Point{}, &utils.GeocodingFailure{Address: address, Err: res.Err}
		}
		metrics.GeocodeRequestsTotal.WithLabelValues("miss").Inc()
		return res.Val.(Point), nil
	case <-ctx.Done():
		metrics.GeocodeRequestsTotal.WithLabelValues("error").Inc()
		return Point{}, &utils.GeocodingFailure{Address: address, Err: ctx.Err()}
	}
}

func (n *Nominatim) lookupWithRetry(ctx context.Context, address string) (Point, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.RandomizationFactor = 0.5
	b.MaxInterval = 30 * time.Second

	return backoff.Retry(ctx, func() (Point, error) {
		p, err := n.lookup(ctx, address)
		if errors.Is(err, errNoMatch) {
			return Point{}, backoff.Permanent(err)
		}
		if err != nil {
			n.logger.Warn("Geocoding attempt failed", "address", address, "error", err)
		}
		return p, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(n.maxRetries+1))
}

type nominatimResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

func (n *Nominatim) lookup(ctx context.Context, address string) (Point, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return Point{}, backoff.Permanent(err)
	}

	q := url.Values{}
	q.Set("format", "json")
	q.Set("limit", "1")
	q.Set("q", address)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return Point{}, backoff.Permanent(err)
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return Point{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return Point{}, fmt.Errorf("geocoder returned %s", resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return Point{}, backoff.Permanent(fmt.Errorf("geocoder returned %s", resp.Status))
	}

	var results []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return Point{}, backoff.Permanent(fmt.Errorf("decode geocoder response: %w", err))
	}
	if len(results) == 0 {
		return Point{}, errNoMatch
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return Point{}, backoff.Permanent(fmt.Errorf("parse latitude: %w", err))
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return Point{}, backoff.Permanent(fmt.Errorf("parse longitude: %w", err))
	}
	if lat == 0 && lon == 0 {
		return Point{}, errNoMatch
	}
	return Point{Lat: lat, Lon: lon}, nil
}
