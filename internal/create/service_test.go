package create

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/snaplink/snaplink/internal/apperr"
	"github.com/snaplink/snaplink/internal/codegen"
	"github.com/snaplink/snaplink/internal/model"
	"github.com/snaplink/snaplink/internal/store"
)

type fakeMappings struct {
	byOriginal map[string]*model.URLMapping
	inserted   []*model.URLMapping

	findErr      error
	insertErrs   []error // consumed per Insert call
	insertErrIdx int
}

func (f *fakeMappings) FindByOriginal(_ context.Context, originalURL string) (*model.URLMapping, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	if m, ok := f.byOriginal[originalURL]; ok {
		return m, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeMappings) Insert(_ context.Context, m *model.URLMapping) error {
	if f.insertErrIdx < len(f.insertErrs) {
		err := f.insertErrs[f.insertErrIdx]
		f.insertErrIdx++
		if err != nil {
			return err
		}
	}
	m.ID = int64(len(f.inserted) + 1)
	f.inserted = append(f.inserted, m)
	return nil
}

type seqGenerator struct {
	codes []string
	next  int
	err   error
}

func (g *seqGenerator) Next(context.Context) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	if g.next >= len(g.codes) {
		return "", errors.New("seqGenerator exhausted")
	}
	code := g.codes[g.next]
	g.next++
	return code, nil
}

func TestShortenNewURL(t *testing.T) {
	mappings := &fakeMappings{byOriginal: map[string]*model.URLMapping{}}
	gen := &seqGenerator{codes: []string{"abc123"}}
	svc := NewService(mappings, gen, 0)
	svc.now = func() time.Time { return time.Date(2026, time.June, 1, 10, 0, 0, 0, time.UTC) }

	res, err := svc.Shorten(context.Background(), "https://example.com/page", "https://sn.ap")
	if err != nil {
		t.Fatalf("Shorten: %v", err)
	}
	if res.ShortCode != "abc123" || res.ShortURL != "https://sn.ap/abc123" {
		t.Fatalf("result = %+v", res)
	}
	if len(mappings.inserted) != 1 {
		t.Fatalf("inserted %d mappings", len(mappings.inserted))
	}
	m := mappings.inserted[0]
	if m.ExpiresAt == nil || !m.ExpiresAt.Equal(m.CreatedAt.Add(DefaultExpiry)) {
		t.Fatalf("expiry = %v, created = %v", m.ExpiresAt, m.CreatedAt)
	}
	if !m.CreatedDate.Equal(time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("created date = %v", m.CreatedDate)
	}
}

func TestShortenDeduplicates(t *testing.T) {
	existing := &model.URLMapping{ShortCode: "old001", OriginalURL: "https://example.com/page"}
	mappings := &fakeMappings{byOriginal: map[string]*model.URLMapping{existing.OriginalURL: existing}}
	svc := NewService(mappings, &seqGenerator{codes: []string{"new001"}}, 0)

	res, err := svc.Shorten(context.Background(), "https://example.com/page", "https://sn.ap/")
	if err != nil {
		t.Fatalf("Shorten: %v", err)
	}
	if res.ShortCode != "old001" {
		t.Fatalf("short code = %q, want the existing one", res.ShortCode)
	}
	if res.ShortURL != "https://sn.ap/old001" {
		t.Fatalf("short url = %q, trailing slash not stripped", res.ShortURL)
	}
	if len(mappings.inserted) != 0 {
		t.Fatal("dedupe still inserted a mapping")
	}
}

func TestShortenRetriesOnCodeCollision(t *testing.T) {
	mappings := &fakeMappings{
		byOriginal: map[string]*model.URLMapping{},
		insertErrs: []error{store.ErrDuplicateShortCode, store.ErrDuplicateShortCode, nil},
	}
	svc := NewService(mappings, &seqGenerator{codes: []string{"c1", "c2", "c3"}}, 0)

	res, err := svc.Shorten(context.Background(), "https://example.com", "https://sn.ap")
	if err != nil {
		t.Fatalf("Shorten: %v", err)
	}
	if res.ShortCode != "c3" {
		t.Fatalf("short code = %q, want the third generation", res.ShortCode)
	}
}

func TestShortenCollisionBudgetExhausted(t *testing.T) {
	mappings := &fakeMappings{
		byOriginal: map[string]*model.URLMapping{},
		insertErrs: []error{store.ErrDuplicateShortCode, store.ErrDuplicateShortCode, store.ErrDuplicateShortCode},
	}
	svc := NewService(mappings, &seqGenerator{codes: []string{"c1", "c2", "c3", "c4"}}, 0)

	_, err := svc.Shorten(context.Background(), "https://example.com", "https://sn.ap")
	if apperr.KindOf(err) != apperr.KindURLGenerationFailed {
		t.Fatalf("kind = %v, want URL_GENERATION_FAILED", apperr.KindOf(err))
	}
}

func TestShortenGeneratorExhaustion(t *testing.T) {
	mappings := &fakeMappings{byOriginal: map[string]*model.URLMapping{}}
	svc := NewService(mappings, &seqGenerator{err: codegen.ErrCapacityExhausted}, 0)

	_, err := svc.Shorten(context.Background(), "https://example.com", "https://sn.ap")
	if apperr.KindOf(err) != apperr.KindURLGenerationFailed {
		t.Fatalf("kind = %v, want URL_GENERATION_FAILED", apperr.KindOf(err))
	}
}

func TestShortenStoreFailure(t *testing.T) {
	mappings := &fakeMappings{findErr: errors.New("primary down")}
	svc := NewService(mappings, &seqGenerator{codes: []string{"c1"}}, 0)

	_, err := svc.Shorten(context.Background(), "https://example.com", "https://sn.ap")
	if apperr.KindOf(err) != apperr.KindInternal {
		t.Fatalf("kind = %v, want INTERNAL_SERVER_ERROR", apperr.KindOf(err))
	}
}

func TestValidateOriginalURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "https", raw: "https://example.com/a?b=c", wantErr: false},
		{name: "http", raw: "http://example.com", wantErr: false},
		{name: "empty", raw: "", wantErr: true},
		{name: "ftp", raw: "ftp://example.com/file", wantErr: true},
		{name: "no_host", raw: "https://", wantErr: true},
		{name: "relative", raw: "/just/a/path", wantErr: true},
		{name: "too_long", raw: "https://example.com/" + strings.Repeat("x", MaxOriginalURLLen), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOriginalURL(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateOriginalURL(%q) = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if err != nil && apperr.KindOf(err) != apperr.KindInvalidInput {
				t.Fatalf("kind = %v, want INVALID_INPUT", apperr.KindOf(err))
			}
		})
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "plain", raw: "https://sn.ap", want: "https://sn.ap"},
		{name: "trailing_slash", raw: "https://sn.ap/", want: "https://sn.ap"},
		{name: "port", raw: "http://localhost:8080/", want: "http://localhost:8080"},
		{name: "empty", raw: "", wantErr: true},
		{name: "bad_scheme", raw: "gopher://sn.ap", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeBaseURL(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NormalizeBaseURL(%q) = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Fatalf("NormalizeBaseURL(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}
