package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mordhub/internal/core/apperr"
	"mordhub/internal/core/auth"
	"mordhub/internal/domain"
)

const keyViewer = "viewer"

// UserLookup resolves a remembered SteamID to a registered user.
type UserLookup interface {
	UserBySteamID(ctx context.Context, id domain.SteamID) (*domain.User, error)
}

// Session loads the signed-in user, if any, for later handlers. A cookie
// naming an unknown user is cleared. Lookup failures leave the request
// anonymous.
func Session(s *auth.Sessions, users UserLookup, l *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := s.FromRequest(c.Request)
		if !ok {
			c.Next()
			return
		}
		u, err := users.UserBySteamID(c.Request.Context(), id)
		switch {
		case err == nil:
			c.Set(keyViewer, u)
		case apperr.KindOf(err) == apperr.KindUnauthorized:
			http.SetCookie(c.Writer, s.ClearCookie())
		default:
			l.Warn("load viewer", zap.Stringer("steam_id", id), zap.Error(err))
		}
		c.Next()
	}
}

// Viewer returns the signed-in user or nil.
func Viewer(c *gin.Context) *domain.User {
	v, ok := c.Get(keyViewer)
	if !ok {
		return nil
	}
	u, _ := v.(*domain.User)
	return u
}
