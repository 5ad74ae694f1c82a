// Package lookup resolves short codes to their original URLs and emits click
// events along the way.
package lookup

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/snaplink/snaplink/internal/apperr"
	"github.com/snaplink/snaplink/internal/base62"
	"github.com/snaplink/snaplink/internal/cache"
	"github.com/snaplink/snaplink/internal/clickstream"
	"github.com/snaplink/snaplink/internal/model"
	"github.com/snaplink/snaplink/internal/store"
)

// CacheKeyPrefix namespaces mapping entries in the cache.
const CacheKeyPrefix = "url:"

const touchTimeout = 5 * time.Second

// Mappings is the slice of the store the service needs.
type Mappings interface {
	FindByShort(ctx context.Context, shortCode string) (*model.URLMapping, error)
	TouchAccess(ctx context.Context, shortCode string, at time.Time) error
}

// Service resolves short codes. The resolution result is the contract;
// cache population, access touching and event emission are observational and
// never fail a redirect.
type Service struct {
	mappings Mappings
	cache    cache.Cache
	producer clickstream.Producer
	locator  clickstream.Locator
	now      func() time.Time

	// syncObservation forces the touch and emit side effects inline.
	// Tests only.
	syncObservation bool
}

// NewService creates a Service. Cache, producer and locator may be the nop
// implementations; resolution works without them.
func NewService(mappings Mappings, c cache.Cache, producer clickstream.Producer, locator clickstream.Locator) *Service {
	if locator == nil {
		locator = clickstream.NopLocator{}
	}
	return &Service{
		mappings: mappings,
		cache:    c,
		producer: producer,
		locator:  locator,
		now:      time.Now,
	}
}

// Click carries the request attributes a resolution turns into a click event.
type Click struct {
	IPAddress string
	UserAgent string
	Referrer  string
}

// Resolve maps a short code to its original URL. Cache first, then the
// store; expired mappings resolve to URL_EXPIRED. Every successful
// resolution records the click.
func (s *Service) Resolve(ctx context.Context, code string, click Click) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", apperr.New(apperr.KindInvalidInput, "short code is required")
	}
	if !base62.Valid(code) {
		return "", apperr.New(apperr.KindInvalidInput, "short code is not a valid code")
	}

	key := CacheKeyPrefix + code
	if s.cache != nil {
		if original, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			s.observe(code, click)
			return original, nil
		} else if err != nil {
			log.Printf("[lookup] cache get for %q: %v", code, err)
		}
	}

	m, err := s.mappings.FindByShort(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return "", apperr.New(apperr.KindURLNotFound, "short URL not found")
	}
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "lookup failed", err)
	}
	if m.Expired(s.now()) {
		return "", apperr.New(apperr.KindURLExpired, "short URL has expired")
	}

	if s.cache != nil {
		if err := s.cache.Put(ctx, key, m.OriginalURL, 0); err != nil {
			log.Printf("[lookup] cache put for %q: %v", code, err)
		}
	}
	s.observe(code, click)
	return m.OriginalURL, nil
}

// observe records the click: access touch on the primary and an event on the
// bus. Runs off the request path with its own deadline.
func (s *Service) observe(code string, click Click) {
	if s.syncObservation {
		s.recordClick(code, click)
		return
	}
	go s.recordClick(code, click)
}

func (s *Service) recordClick(code string, click Click) {
	now := s.now().UTC()

	ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
	defer cancel()
	if err := s.mappings.TouchAccess(ctx, code, now); err != nil {
		log.Printf("[lookup] access touch for %q: %v", code, err)
	}

	if s.producer == nil {
		return
	}
	country, city := s.locator.Locate(click.IPAddress)
	s.producer.Emit(ctx, model.ClickEvent{
		ShortCode:  code,
		IPAddress:  click.IPAddress,
		UserAgent:  click.UserAgent,
		Referrer:   click.Referrer,
		Country:    country,
		City:       city,
		DeviceType: model.ParseDeviceType(click.UserAgent),
		Timestamp:  now.UnixMilli(),
	})
}
