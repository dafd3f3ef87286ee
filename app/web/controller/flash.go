package controller

import (
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	flashCookie = "txx_flash"
	flashTTL    = 5 * time.Minute
)

// Flash is a one-shot message shown on the next rendered page.
type Flash struct {
	Category string `json:"category"` // success, info, warning, danger
	Message  string `json:"message"`
}

type flashClaims struct {
	Messages []Flash `json:"msgs"`
	jwt.RegisteredClaims
}

// readFlashes returns the messages carried by the request cookie. Invalid or expired cookies read as empty.
func (c *Controller) readFlashes(r *http.Request) []Flash {
	cookie, err := r.Cookie(flashCookie)
	if err != nil || cookie.Value == "" {
		return nil
	}
	claims := &flashClaims{}
	tok, err := jwt.ParseWithClaims(cookie.Value, claims,
		func(t *jwt.Token) (any, error) { return c.FlashSecret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tok.Valid {
		return nil
	}
	return claims.Messages
}

// flash appends a message to any pending ones and stores them in the signed cookie.
func (c *Controller) flash(w http.ResponseWriter, r *http.Request, category, message string) {
	msgs := append(c.readFlashes(r), Flash{Category: category, Message: message})
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, flashClaims{
		Messages: msgs,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(flashTTL)),
		},
	})
	ss, err := token.SignedString(c.FlashSecret)
	if err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    ss,
		Path:     "/",
		HttpOnly: true,
		Secure:   os.Getenv("ENVIRONMENT") == "production",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(flashTTL.Seconds()),
	})
}

// popFlashes reads the pending messages and clears the cookie.
func (c *Controller) popFlashes(w http.ResponseWriter, r *http.Request) []Flash {
	msgs := c.readFlashes(r)
	if _, err := r.Cookie(flashCookie); err == nil {
		http.SetCookie(w, &http.Cookie{
			Name:     flashCookie,
			Value:    "",
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   -1,
			Expires:  time.Unix(0, 0),
		})
	}
	return msgs
}

// flashRedirect flashes a message and redirects with 303 so a POST is not resubmitted.
func (c *Controller) flashRedirect(w http.ResponseWriter, r *http.Request, category, message, to string) {
	c.flash(w, r, category, message)
	http.Redirect(w, r, to, http.StatusSeeOther)
}
