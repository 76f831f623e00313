package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/cragline/cragline-core/internal/auth"
)

const (
	// accessCookiePath sends the access token with every request.
	accessCookiePath = "/"

	// refreshCookiePath limits the refresh token to the auth endpoints.
	refreshCookiePath = "/api/v1/auth"
)

// setAuthCookies hands the access and refresh tokens to the browser.
func (s *Server) setAuthCookies(w http.ResponseWriter, accessToken, refreshToken string) {
	http.SetCookie(w, s.cookie(s.secCfg.Cookies.AccessName, accessToken, accessCookiePath, s.issuer.TTL()))
	http.SetCookie(w, s.cookie(s.secCfg.Cookies.RefreshName, refreshToken, refreshCookiePath, s.refresh.TTL()))
}

// clearAuthCookies expires both cookies.
func (s *Server) clearAuthCookies(w http.ResponseWriter) {
	for _, c := range []*http.Cookie{
		s.cookie(s.secCfg.Cookies.AccessName, "", accessCookiePath, 0),
		s.cookie(s.secCfg.Cookies.RefreshName, "", refreshCookiePath, 0),
	} {
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
		http.SetCookie(w, c)
	}
}

func (s *Server) cookie(name, value, path string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   s.secCfg.Cookies.Domain,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   s.secCfg.CookieSecure(),
		SameSite: sameSiteMode(s.secCfg.Cookies.SameSite),
	}
}

// refreshCookie returns the raw refresh token presented by the browser.
func (s *Server) refreshCookie(r *http.Request) string {
	c, err := r.Cookie(s.secCfg.Cookies.RefreshName)
	if err != nil {
		return ""
	}
	return c.Value
}

// currentSessionID returns the id half of the presented refresh cookie.
func (s *Server) currentSessionID(r *http.Request) string {
	raw := s.refreshCookie(r)
	if raw == "" {
		return ""
	}
	id, _ := auth.TokenIDOf(raw)
	return id
}

func sameSiteMode(v string) http.SameSite {
	switch strings.ToLower(v) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
