package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	uidCookieName = "strand_uid"

	// uidCookieMaxAge keeps anonymous identities for a year. Losing the
	// cookie loses access to the conversations it owns, so err long.
	uidCookieMaxAge = 365 * 24 * 60 * 60
)

// signUID returns "uid.signature" where signature is the hex-encoded
// HMAC-SHA256 of uid under the server secret.
func (s *Server) signUID(uid string) string {
	mac := hmac.New(sha256.New, s.hmacSecret)
	mac.Write([]byte(uid))
	return uid + "." + hex.EncodeToString(mac.Sum(nil))
}

// verifySignedUID splits and checks a signed cookie value. The
// comparison is constant-time; any structural defect or signature
// mismatch returns an error and the caller mints a fresh identity.
func (s *Server) verifySignedUID(value string) (string, error) {
	uid, sig, ok := strings.Cut(value, ".")
	if !ok || uid == "" {
		return "", fmt.Errorf("malformed uid cookie")
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return "", fmt.Errorf("malformed uid signature")
	}
	mac := hmac.New(sha256.New, s.hmacSecret)
	mac.Write([]byte(uid))
	if !hmac.Equal(got, mac.Sum(nil)) {
		return "", fmt.Errorf("uid signature mismatch")
	}
	return uid, nil
}

// userMiddleware establishes the caller identity. A valid uid cookie is
// decoded into the request context; anything else (absent, malformed,
// tampered) gets a freshly minted identity and a new cookie. The
// handler chain below this point can rely on UserID being non-empty.
func (s *Server) userMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := ""
		if c, err := r.Cookie(uidCookieName); err == nil {
			if v, err := s.verifySignedUID(c.Value); err == nil {
				uid = v
			} else {
				s.logger.Warn("rejected uid cookie", "error", err)
			}
		}
		if uid == "" {
			uid = uuid.NewString()
			s.setUIDCookie(w, uid)
		}
		ctx := contextWithUserID(r.Context(), uid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) setUIDCookie(w http.ResponseWriter, uid string) {
	http.SetCookie(w, &http.Cookie{
		Name:     uidCookieName,
		Value:    s.signUID(uid),
		Path:     "/",
		MaxAge:   uidCookieMaxAge,
		HttpOnly: true,
		Secure:   !s.isDev,
		SameSite: http.SameSiteLaxMode,
	})
}
