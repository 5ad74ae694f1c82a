package lookup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/snaplink/snaplink/internal/apperr"
	"github.com/snaplink/snaplink/internal/cache"
	"github.com/snaplink/snaplink/internal/model"
	"github.com/snaplink/snaplink/internal/store"
)

type fakeMappings struct {
	mu       sync.Mutex
	byShort  map[string]*model.URLMapping
	findErr  error
	touches  []string
	touchErr error
}

func (f *fakeMappings) FindByShort(_ context.Context, code string) (*model.URLMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	if m, ok := f.byShort[code]; ok {
		return m, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeMappings) TouchAccess(_ context.Context, code string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.touchErr != nil {
		return f.touchErr
	}
	f.touches = append(f.touches, code)
	return nil
}

type capturingProducer struct {
	mu     sync.Mutex
	events []model.ClickEvent
}

func (p *capturingProducer) Emit(_ context.Context, e model.ClickEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *capturingProducer) Close() {}

func (p *capturingProducer) snapshot() []model.ClickEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.ClickEvent, len(p.events))
	copy(out, p.events)
	return out
}

func newTestService(t *testing.T, mappings *fakeMappings) (*Service, cache.Cache, *capturingProducer) {
	t.Helper()
	c, err := cache.NewLocalCache(64, cache.TTLPolicy{})
	if err != nil {
		t.Fatalf("NewLocalCache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	producer := &capturingProducer{}
	svc := NewService(mappings, c, producer, nil)
	svc.syncObservation = true
	return svc, c, producer
}

func mapping(code, original string, expires time.Time) *model.URLMapping {
	return &model.URLMapping{ShortCode: code, OriginalURL: original, ExpiresAt: &expires}
}

func TestResolveFromStore(t *testing.T) {
	mappings := &fakeMappings{byShort: map[string]*model.URLMapping{
		"abc123": mapping("abc123", "https://example.com/page", time.Now().Add(time.Hour)),
	}}
	svc, c, producer := newTestService(t, mappings)

	original, err := svc.Resolve(context.Background(), "abc123", Click{IPAddress: "203.0.113.9", UserAgent: "Mozilla/5.0 (iPhone) Mobile"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if original != "https://example.com/page" {
		t.Fatalf("original = %q", original)
	}

	// The mapping was cached for the next hit.
	if val, ok, _ := c.Get(context.Background(), CacheKeyPrefix+"abc123"); !ok || val != original {
		t.Fatalf("cache entry = (%q, %v)", val, ok)
	}

	// Access touch and event emission both happened.
	if len(mappings.touches) != 1 || mappings.touches[0] != "abc123" {
		t.Fatalf("touches = %v", mappings.touches)
	}
	events := producer.snapshot()
	if len(events) != 1 {
		t.Fatalf("events = %v", events)
	}
	e := events[0]
	if e.ShortCode != "abc123" || e.DeviceType != model.DeviceMobile || e.IPAddress != "203.0.113.9" {
		t.Fatalf("event = %+v", e)
	}
}

func TestResolveFromCacheSkipsStore(t *testing.T) {
	mappings := &fakeMappings{findErr: errors.New("store must not be hit")}
	svc, c, producer := newTestService(t, mappings)

	if err := c.Put(context.Background(), CacheKeyPrefix+"abc123", "https://example.com/cached", 0); err != nil {
		t.Fatalf("cache put: %v", err)
	}
	original, err := svc.Resolve(context.Background(), "abc123", Click{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if original != "https://example.com/cached" {
		t.Fatalf("original = %q", original)
	}
	// Cache hits still record the click.
	if len(producer.snapshot()) != 1 {
		t.Fatal("cache hit emitted no event")
	}
}

func TestResolveInputValidation(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeMappings{})
	for _, code := range []string{"", "   ", "has space", "emoji🦊"} {
		_, err := svc.Resolve(context.Background(), code, Click{})
		if apperr.KindOf(err) != apperr.KindInvalidInput {
			t.Fatalf("Resolve(%q) kind = %v, want INVALID_INPUT", code, apperr.KindOf(err))
		}
	}
}

func TestResolveNotFound(t *testing.T) {
	svc, _, producer := newTestService(t, &fakeMappings{byShort: map[string]*model.URLMapping{}})
	_, err := svc.Resolve(context.Background(), "nope42", Click{})
	if apperr.KindOf(err) != apperr.KindURLNotFound {
		t.Fatalf("kind = %v, want URL_NOT_FOUND", apperr.KindOf(err))
	}
	if len(producer.snapshot()) != 0 {
		t.Fatal("miss emitted an event")
	}
}

func TestResolveExpired(t *testing.T) {
	mappings := &fakeMappings{byShort: map[string]*model.URLMapping{
		"old001": mapping("old001", "https://example.com", time.Now().Add(-time.Minute)),
	}}
	svc, c, _ := newTestService(t, mappings)

	_, err := svc.Resolve(context.Background(), "old001", Click{})
	if apperr.KindOf(err) != apperr.KindURLExpired {
		t.Fatalf("kind = %v, want URL_EXPIRED", apperr.KindOf(err))
	}
	// Expired mappings must not be cached.
	if _, ok, _ := c.Get(context.Background(), CacheKeyPrefix+"old001"); ok {
		t.Fatal("expired mapping was cached")
	}
}

func TestResolveStoreFailure(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeMappings{findErr: errors.New("replica down")})
	_, err := svc.Resolve(context.Background(), "abc123", Click{})
	if apperr.KindOf(err) != apperr.KindInternal {
		t.Fatalf("kind = %v, want INTERNAL_SERVER_ERROR", apperr.KindOf(err))
	}
}

func TestResolveTouchFailureDoesNotFailRedirect(t *testing.T) {
	mappings := &fakeMappings{
		byShort: map[string]*model.URLMapping{
			"abc123": mapping("abc123", "https://example.com", time.Now().Add(time.Hour)),
		},
		touchErr: errors.New("primary down"),
	}
	svc, _, _ := newTestService(t, mappings)

	original, err := svc.Resolve(context.Background(), "abc123", Click{})
	if err != nil || original != "https://example.com" {
		t.Fatalf("Resolve = (%q, %v)", original, err)
	}
}

func TestResolveWithoutExpiryNeverExpires(t *testing.T) {
	mappings := &fakeMappings{byShort: map[string]*model.URLMapping{
		"keep01": {ShortCode: "keep01", OriginalURL: "https://example.com"},
	}}
	svc, _, _ := newTestService(t, mappings)

	original, err := svc.Resolve(context.Background(), "keep01", Click{})
	if err != nil || original != "https://example.com" {
		t.Fatalf("Resolve = (%q, %v)", original, err)
	}
}
