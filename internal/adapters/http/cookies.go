package http

import (
	"net/http"
	"strings"
	"time"
)

const refreshCookieName = "refresh_token"

// CookieConfig shapes the refresh token cookie. Path must cover both the
// refresh and logout routes.
type CookieConfig struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

func (c CookieConfig) withDefaults() CookieConfig {
	if c.Name == "" {
		c.Name = refreshCookieName
	}
	if c.Path == "" {
		c.Path = "/api/auth"
	}
	if c.SameSite == 0 {
		c.SameSite = http.SameSiteStrictMode
	}
	// Browsers drop SameSite=None cookies that are not Secure.
	if c.SameSite == http.SameSiteNoneMode {
		c.Secure = true
	}
	return c
}

// ParseSameSite maps the config spelling to http.SameSite. Unknown values
// fall back to strict.
func ParseSameSite(raw string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}

func (c CookieConfig) refreshCookie(value string, maxAge time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Value:    value,
		Path:     c.Path,
		Domain:   c.Domain,
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	}
}

func (h *Handler) setRefreshCookie(w http.ResponseWriter, token string, maxAge time.Duration) {
	http.SetCookie(w, h.cookies.refreshCookie(token, maxAge))
}

// clearRefreshCookie must repeat the issuing attributes or the browser keeps
// the original cookie.
func (h *Handler) clearRefreshCookie(w http.ResponseWriter) {
	cookie := h.cookies.refreshCookie("", 0)
	cookie.MaxAge = -1
	cookie.Expires = time.Unix(0, 0)
	http.SetCookie(w, cookie)
}

func (h *Handler) refreshTokenFrom(r *http.Request) string {
	cookie, err := r.Cookie(h.cookies.Name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}
