package httpapi

import (
	"net/http"
	"strings"

	"loomspace.org/internal/authn"
)

const (
	sessionCookieName  = "loomspace_session"
	csrfHeader         = "X-CSRF-Token"
	serviceTokenHeader = "X-Service-Token"
	authHeader         = "Authorization"
	bearerPrefix       = "Bearer "
)

// requestFrom adapts an *http.Request into the core's transport-agnostic
// credential descriptor.
func requestFrom(r *http.Request) authn.Request {
	req := authn.Request{
		CSRFToken:    strings.TrimSpace(r.Header.Get(csrfHeader)),
		ServiceToken: strings.TrimSpace(r.Header.Get(serviceTokenHeader)),
		RemoteIP:     clientIP(r),
	}
	if c, err := r.Cookie(sessionCookieName); err == nil {
		req.SessionCookie = strings.TrimSpace(c.Value)
	}
	if header := strings.TrimSpace(r.Header.Get(authHeader)); header != "" {
		if strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearerPrefix)) {
			req.BearerToken = strings.TrimSpace(header[len(bearerPrefix):])
		}
	}
	return req
}

func setSessionCookie(w http.ResponseWriter, token string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
