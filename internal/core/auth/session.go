package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"mordhub/internal/domain"
	"mordhub/pkg/utils"
)

// CookieName is the cookie carrying the signed session.
const CookieName = "auth-cookie"

const issuer = "mordhub"

var ErrInvalidSession = errors.New("invalid session")

type Claims struct {
	jwt.RegisteredClaims
}

// Sessions signs and verifies the session cookie. The subject of the token
// is the viewer's SteamID in decimal.
type Sessions struct {
	key    []byte
	TTL    time.Duration
	Secure bool
}

// NewSessions derives the signing key from secret.
func NewSessions(secret string, ttl time.Duration, secure bool) (*Sessions, error) {
	key, err := utils.DeriveKey([]byte(secret), "mordhub session cookie", 32)
	if err != nil {
		return nil, err
	}
	return &Sessions{key: key, TTL: ttl, Secure: secure}, nil
}

func (s *Sessions) Issue(id domain.SteamID) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   issuer,
			Subject:  id.String(),
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.TTL > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.TTL))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

func (s *Sessions) Parse(token string) (domain.SteamID, error) {
	t, err := jwt.ParseWithClaims(token, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected alg")
		}
		return s.key, nil
	}, jwt.WithIssuer(issuer), jwt.WithLeeway(60*time.Second))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	c, ok := t.Claims.(*Claims)
	if !ok || !t.Valid {
		return 0, ErrInvalidSession
	}
	id, err := domain.ParseSteamID(c.Subject)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	return id, nil
}

// Cookie returns the session cookie remembering id.
func (s *Sessions) Cookie(id domain.SteamID) (*http.Cookie, error) {
	token, err := s.Issue(id)
	if err != nil {
		return nil, err
	}
	c := &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if s.TTL > 0 {
		c.MaxAge = int(s.TTL / time.Second)
	}
	return c, nil
}

// ClearCookie returns a cookie that deletes the session.
func (s *Sessions) ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// FromRequest returns the SteamID remembered in r, if any.
func (s *Sessions) FromRequest(r *http.Request) (domain.SteamID, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return 0, false
	}
	id, err := s.Parse(c.Value)
	if err != nil {
		return 0, false
	}
	return id, true
}
