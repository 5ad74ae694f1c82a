// Package gateway is the thin routing shell in front of the create, lookup
// and stats services.
package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/snaplink/snaplink/internal/httpapi"
)

const backendHealthTimeout = 2 * time.Second

// Config names the backend base URLs.
type Config struct {
	CreateURL string
	LookupURL string
	StatsURL  string
}

// Gateway reverse-proxies by path prefix and aggregates backend health.
type Gateway struct {
	create *httputil.ReverseProxy
	lookup *httputil.ReverseProxy
	stats  *httputil.ReverseProxy

	backends map[string]string // name -> base URL, for health fan-out
	client   *http.Client
}

// New creates a Gateway for the given backends.
func New(cfg Config) (*Gateway, error) {
	create, err := newProxy(cfg.CreateURL)
	if err != nil {
		return nil, fmt.Errorf("gateway: create backend: %w", err)
	}
	lookup, err := newProxy(cfg.LookupURL)
	if err != nil {
		return nil, fmt.Errorf("gateway: lookup backend: %w", err)
	}
	stats, err := newProxy(cfg.StatsURL)
	if err != nil {
		return nil, fmt.Errorf("gateway: stats backend: %w", err)
	}
	return &Gateway{
		create: create,
		lookup: lookup,
		stats:  stats,
		backends: map[string]string{
			"create": cfg.CreateURL,
			"lookup": cfg.LookupURL,
			"stats":  cfg.StatsURL,
		},
		client: &http.Client{Timeout: backendHealthTimeout},
	}, nil
}

func newProxy(rawURL string) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("backend url %q must be absolute", rawURL)
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		httpapi.WriteJSON(w, http.StatusBadGateway, map[string]string{
			"errorCode": "INTERNAL_SERVER_ERROR",
			"message":   "backend unavailable",
		})
	}
	return proxy, nil
}

// Register mounts the routing table on mux. Everything not matching an API
// prefix is treated as a short code and sent to lookup.
func (g *Gateway) Register(mux *http.ServeMux) {
	mux.Handle("/api/v1/create/", g.create)
	mux.Handle("/api/v1/stats/", g.stats)
	mux.HandleFunc("GET /health", g.health)
	mux.HandleFunc("GET /health/{backend}", g.backendHealth)
	mux.Handle("/", g.lookup)
}

// health fans out to every backend's health endpoint and reports the
// aggregate. Any backend down makes the gateway report down.
func (g *Gateway) health(w http.ResponseWriter, r *http.Request) {
	type result struct {
		name string
		err  error
	}
	results := make(chan result, len(g.backends))
	var wg sync.WaitGroup
	for name, base := range g.backends {
		wg.Add(1)
		go func(name, base string) {
			defer wg.Done()
			results <- result{name: name, err: g.checkBackend(r.Context(), base)}
		}(name, base)
	}
	wg.Wait()
	close(results)

	checks := make(map[string]string, len(g.backends))
	healthy := true
	for res := range results {
		if res.err != nil {
			healthy = false
			checks[res.name] = "down"
		} else {
			checks[res.name] = "up"
		}
	}
	status := http.StatusOK
	overall := "up"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "down"
	}
	httpapi.WriteJSON(w, status, map[string]any{"status": overall, "backends": checks})
}

// backendHealth proxies a single backend's health endpoint.
func (g *Gateway) backendHealth(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("backend")
	base, ok := g.backends[name]
	if !ok {
		http.NotFound(w, r)
		return
	}
	if err := g.checkBackend(r.Context(), base); err != nil {
		httpapi.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "down"})
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]string{"status": "up"})
}

func (g *Gateway) checkBackend(ctx context.Context, base string) error {
	ctx, cancel := context.WithTimeout(ctx, backendHealthTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health status %d", resp.StatusCode)
	}
	return nil
}
