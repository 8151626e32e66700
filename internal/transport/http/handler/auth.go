package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mordhub/internal/core/apperr"
	"mordhub/internal/core/openid"
)

// Login sends the browser to the OpenID provider.
func (h *Handler) Login(c *gin.Context) {
	c.Redirect(http.StatusFound, h.Verifier.LoginURL())
}

func (h *Handler) Logout(c *gin.Context) {
	http.SetCookie(c.Writer, h.Sessions.ClearCookie())
	c.Redirect(http.StatusFound, "/")
}

// Callback verifies the provider's assertion and remembers the user. Every
// failure looks the same to the browser.
func (h *Handler) Callback(c *gin.Context) {
	id, err := h.Verifier.Verify(c.Request.Context(), c.Request.URL.Query())
	if err != nil {
		kind := "unknown"
		var oe *openid.Error
		if errors.As(err, &oe) {
			kind = oe.Kind.String()
		}
		h.Log.Info("sign-in rejected", zap.String("kind", kind), zap.Error(err))
		h.fail(c, apperr.Wrap(apperr.KindSteamAuth, "", err))
		return
	}
	ck, err := h.Sessions.Cookie(id)
	if err != nil {
		h.fail(c, apperr.Internal("issue session", err))
		return
	}
	http.SetCookie(c.Writer, ck)
	h.Log.Info("signed in", zap.Stringer("steam_id", id))
	c.Redirect(http.StatusFound, "/")
}
