// Package create implements the shortening service: input validation,
// original-URL deduplication, code generation and persistence.
package create

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/snaplink/snaplink/internal/apperr"
	"github.com/snaplink/snaplink/internal/codegen"
	"github.com/snaplink/snaplink/internal/model"
	"github.com/snaplink/snaplink/internal/store"
)

// Service limits and defaults.
const (
	MaxOriginalURLLen = 5000
	DefaultExpiry     = 365 * 24 * time.Hour
	insertAttempts    = 3
)

// Mappings is the slice of the store the service needs.
type Mappings interface {
	FindByOriginal(ctx context.Context, originalURL string) (*model.URLMapping, error)
	Insert(ctx context.Context, m *model.URLMapping) error
}

// Service shortens URLs.
type Service struct {
	mappings  Mappings
	generator codegen.Generator
	expiry    time.Duration
	now       func() time.Time
}

// NewService creates a Service. A non-positive expiry uses DefaultExpiry.
func NewService(mappings Mappings, generator codegen.Generator, expiry time.Duration) *Service {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Service{
		mappings:  mappings,
		generator: generator,
		expiry:    expiry,
		now:       time.Now,
	}
}

// Result is what a successful shorten returns.
type Result struct {
	OriginalURL string
	ShortCode   string
	ShortURL    string
}

// Shorten validates the inputs, reuses an existing mapping for the same
// original URL when one exists, and otherwise persists a new one. Concurrent
// creators of the same original may both insert; both codes resolve and
// neither is lost.
func (s *Service) Shorten(ctx context.Context, originalURL, baseURL string) (*Result, error) {
	originalURL = strings.TrimSpace(originalURL)
	if err := ValidateOriginalURL(originalURL); err != nil {
		return nil, err
	}
	base, err := NormalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}

	existing, err := s.mappings.FindByOriginal(ctx, originalURL)
	if err == nil {
		return &Result{
			OriginalURL: originalURL,
			ShortCode:   existing.ShortCode,
			ShortURL:    base + "/" + existing.ShortCode,
		}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Wrap(apperr.KindInternal, "shorten failed", err)
	}

	code, err := s.insertNew(ctx, originalURL)
	if err != nil {
		return nil, err
	}
	return &Result{
		OriginalURL: originalURL,
		ShortCode:   code,
		ShortURL:    base + "/" + code,
	}, nil
}

// insertNew generates a code and persists the mapping, regenerating on a
// short-code collision up to the attempt budget.
func (s *Service) insertNew(ctx context.Context, originalURL string) (string, error) {
	now := s.now().UTC()
	expires := now.Add(s.expiry)
	for attempt := 1; attempt <= insertAttempts; attempt++ {
		code, err := s.generator.Next(ctx)
		if err != nil {
			if errors.Is(err, codegen.ErrCapacityExhausted) {
				return "", apperr.Wrap(apperr.KindURLGenerationFailed, "could not allocate a short code", err)
			}
			return "", apperr.Wrap(apperr.KindInternal, "shorten failed", err)
		}

		m := &model.URLMapping{
			OriginalURL: originalURL,
			ShortCode:   code,
			CreatedAt:   now,
			CreatedDate: now.Truncate(24 * time.Hour),
			ExpiresAt:   &expires,
		}
		err = s.mappings.Insert(ctx, m)
		if err == nil {
			return code, nil
		}
		if errors.Is(err, store.ErrDuplicateShortCode) {
			log.Printf("[create] short code %q collided on insert, regenerating (attempt %d/%d)", code, attempt, insertAttempts)
			continue
		}
		return "", apperr.Wrap(apperr.KindInternal, "shorten failed", err)
	}
	return "", apperr.New(apperr.KindURLGenerationFailed,
		fmt.Sprintf("could not allocate a short code in %d attempts", insertAttempts))
}

// ValidateOriginalURL checks the URL to be shortened: http or https, a host,
// and a bounded length.
func ValidateOriginalURL(raw string) error {
	if raw == "" {
		return apperr.New(apperr.KindInvalidInput, "original_url is required")
	}
	if len(raw) > MaxOriginalURLLen {
		return apperr.New(apperr.KindInvalidInput,
			fmt.Sprintf("original_url exceeds %d characters", MaxOriginalURLLen))
	}
	u, err := url.Parse(raw)
	if err != nil {
		return apperr.Wrap(apperr.KindInvalidInput, "original_url is not a valid URL", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return apperr.New(apperr.KindInvalidInput, "original_url must use http or https")
	}
	if u.Host == "" {
		return apperr.New(apperr.KindInvalidInput, "original_url must have a host")
	}
	return nil
}

// NormalizeBaseURL validates the base the short URL is built on and strips
// any trailing slash. Empty input is allowed; callers synthesize a base from
// the request first.
func NormalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", apperr.New(apperr.KindInvalidInput, "base_url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInvalidInput, "base_url is not a valid URL", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", apperr.New(apperr.KindInvalidInput, "base_url must use http or https")
	}
	if u.Host == "" {
		return "", apperr.New(apperr.KindInvalidInput, "base_url must have a host")
	}
	return strings.TrimRight(raw, "/"), nil
}
