package auth

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

const sessionCookieMaxAge = 30 * 24 * time.Hour

// SessionCookie builds the legacy session cookie. Its name is the database
// name itself; legacy clients read the token from it, so it cannot be
// HttpOnly.
func SessionCookie(db, token string) *http.Cookie {
	return &http.Cookie{
		Name:   db,
		Value:  token,
		Path:   "/",
		MaxAge: int(sessionCookieMaxAge / time.Second),
	}
}

// ClearSessionCookie expires the session cookie client-side.
func ClearSessionCookie(db string) *http.Cookie {
	return &http.Cookie{Name: db, Value: "", Path: "/", MaxAge: -1}
}

// TokenFromRequest finds the presented token: explicit form/query value
// first, then the {db} cookie.
func TokenFromRequest(r *http.Request, db string) string {
	if tok := strings.TrimSpace(r.FormValue("token")); tok != "" {
		return tok
	}
	if c, err := r.Cookie(db); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

const tzoneRound = 1800

// TZOffset reads the tzone cookie, an offset in seconds rounded to the
// nearest half hour.
func TZOffset(r *http.Request) int64 {
	c, err := r.Cookie("tzone")
	if err != nil {
		return 0
	}
	raw, err := strconv.ParseInt(strings.TrimSpace(c.Value), 10, 64)
	if err != nil {
		return 0
	}
	return RoundTZ(raw)
}

// RoundTZ rounds an offset to the nearest 1800 seconds.
func RoundTZ(sec int64) int64 {
	if sec >= 0 {
		return (sec + tzoneRound/2) / tzoneRound * tzoneRound
	}
	return -((-sec + tzoneRound/2) / tzoneRound * tzoneRound)
}

// TZCookie stores a rounded offset for later requests.
func TZCookie(sec int64) *http.Cookie {
	return &http.Cookie{
		Name:   "tzone",
		Value:  strconv.FormatInt(RoundTZ(sec), 10),
		Path:   "/",
		MaxAge: int(sessionCookieMaxAge / time.Second),
	}
}
