package create

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/snaplink/snaplink/internal/apperr"
	"github.com/snaplink/snaplink/internal/httpapi"
)

type shortenRequest struct {
	OriginalURL string `json:"original_url"`
	BaseURL     string `json:"base_url,omitempty"`
}

type shortenResponse struct {
	OriginalURL string `json:"original_url"`
	ShortURL    string `json:"short_url"`
	ShortCode   string `json:"short_code"`
	Success     bool   `json:"success"`
}

// Handler exposes the service over HTTP.
type Handler struct {
	service *Service
}

// NewHandler creates a Handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Register mounts the create endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/create/shorten", h.shorten)
	mux.HandleFunc("GET /api/v1/create/qr", h.qr)
}

func (h *Handler) shorten(w http.ResponseWriter, r *http.Request) {
	var req shortenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.WriteError(w, apperr.KindInvalidInput, "request body is not valid JSON")
		return
	}
	base := req.BaseURL
	if base == "" {
		base = BaseFromRequest(r)
	}
	res, err := h.service.Shorten(r.Context(), req.OriginalURL, base)
	if err != nil {
		httpapi.WriteAppError(w, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, shortenResponse{
		OriginalURL: res.OriginalURL,
		ShortURL:    res.ShortURL,
		ShortCode:   res.ShortCode,
		Success:     true,
	})
}

// BaseFromRequest synthesizes a base URL from the incoming request's scheme
// and host. Default ports are dropped so short URLs stay clean.
func BaseFromRequest(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	host := r.Host
	switch scheme {
	case "http":
		host = strings.TrimSuffix(host, ":80")
	case "https":
		host = strings.TrimSuffix(host, ":443")
	}
	return scheme + "://" + host
}
