package web

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName carries the signed chat correlator.
const CookieName = "conduit_chat"

// CookieTTL matches the conversation record TTL so the correlator and the
// stored history expire together.
const CookieTTL = 7 * 24 * time.Hour

var errNoCorrelator = errors.New("web: no chat correlator")

// issueCorrelator signs a chat id into a cookie value.
func issueCorrelator(secret []byte, chatID string, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   chatID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(CookieTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign correlator: %w", err)
	}
	return signed, nil
}

// readCorrelator extracts and verifies the chat id from the request cookie.
func readCorrelator(r *http.Request, secret []byte) (string, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return "", errNoCorrelator
	}
	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(cookie.Value, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || claims.Subject == "" {
		return "", errNoCorrelator
	}
	return claims.Subject, nil
}

// setCorrelator writes the refreshed correlator cookie.
func setCorrelator(w http.ResponseWriter, secret []byte, chatID string) error {
	value, err := issueCorrelator(secret, chatID, time.Now())
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(CookieTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// clearCorrelator expires the correlator cookie.
func clearCorrelator(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
