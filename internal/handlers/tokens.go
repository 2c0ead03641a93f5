package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/timothysaatum/hepvac-api-sub000/internal/models"
)

const refreshCookieName = "refresh_token"

// setTokens writes the pair to the response: the access token goes into the
// Authorization header and the body, the refresh token travels only in an
// HttpOnly cookie so scripts never see it.
func setTokens(w http.ResponseWriter, r *http.Request, pair models.TokenPair) {
	w.Header().Set("Authorization", "Bearer "+pair.Access.Value)

	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    pair.Refresh.Value,
		Path:     "/",
		Expires:  pair.Refresh.ExpiresAt,
		HttpOnly: true,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
	})
}

// readRefresh extracts the refresh token from the request cookie
func readRefresh(r *http.Request) (string, error) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		return "", fmt.Errorf("refresh token cookie not set")
	}
	return cookie.Value, nil
}

// clearRefreshCookie expires the refresh cookie on logout
func clearRefreshCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
	})
}

func requestIsSecure(r *http.Request) bool {
	return r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
}
