package create

import (
	"net/http"
	"strconv"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/snaplink/snaplink/internal/apperr"
	"github.com/snaplink/snaplink/internal/httpapi"
)

const (
	qrSize        = 300
	qrCacheMaxAge = 3600 // seconds
)

// qr renders a 300x300 PNG QR code for a short URL. High error correction
// keeps the code scannable when printed small or partially obscured.
func (h *Handler) qr(w http.ResponseWriter, r *http.Request) {
	shortURL := r.URL.Query().Get("shortUrl")
	if shortURL == "" {
		httpapi.WriteError(w, apperr.KindInvalidInput, "shortUrl query parameter is required")
		return
	}
	png, err := qrcode.Encode(shortURL, qrcode.High, qrSize)
	if err != nil {
		httpapi.WriteAppError(w, apperr.Wrap(apperr.KindInternal, "qr encoding failed", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(qrCacheMaxAge))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		// Client went away mid-write; nothing to recover.
		return
	}
}
