package lookup

import (
	"net"
	"net/http"
	"strings"

	"github.com/snaplink/snaplink/internal/httpapi"
)

// Handler exposes the resolver over HTTP.
type Handler struct {
	service *Service
}

// NewHandler creates a Handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Register mounts the redirect route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{code}", h.redirect)
}

func (h *Handler) redirect(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	original, err := h.service.Resolve(r.Context(), code, Click{
		IPAddress: ClientIP(r),
		UserAgent: r.UserAgent(),
		Referrer:  r.Referer(),
	})
	if err != nil {
		httpapi.WriteAppError(w, err)
		return
	}
	http.Redirect(w, r, original, http.StatusFound)
}

// ClientIP extracts the originating client address, trusting the leftmost
// X-Forwarded-For entry when the gateway injected one.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
