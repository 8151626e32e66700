// Package handler implements the site's pages and endpoints on gin.
package handler

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"io/fs"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mordhub/internal/core/apperr"
	"mordhub/internal/core/auth"
	"mordhub/internal/core/cache"
	"mordhub/internal/domain"
	"mordhub/internal/guides"
	"mordhub/internal/transport/http/middleware"
	resp "mordhub/internal/transport/http/response"
	"mordhub/internal/transport/http/view"
)

// Store is the data the handlers read and write.
type Store interface {
	LoadoutList(ctx context.Context, viewer *domain.User) ([]domain.LoadoutMultiple, error)
	LoadoutsByOwner(ctx context.Context, ownerID int32, viewer *domain.User) ([]domain.LoadoutMultiple, error)
	LoadoutPage(ctx context.Context, loadoutID int32, viewer *domain.User) (*domain.LoadoutPage, error)
	UserBySteamID(ctx context.Context, id domain.SteamID) (*domain.User, error)
	PublishLoadout(ctx context.Context, userID int32, name, data, coverURL string) (int32, error)
	LikeLoadout(ctx context.Context, userID, loadoutID int32) error
	UnlikeLoadout(ctx context.Context, userID, loadoutID int32) error
}

// Verifier signs users in through their OpenID provider.
type Verifier interface {
	LoginURL() string
	Verify(ctx context.Context, params url.Values) (domain.SteamID, error)
}

type Guides interface {
	List() []guides.Guide
	Render(ctx context.Context, slug string) (guides.Guide, template.HTML, error)
}

type Deps struct {
	Store    Store
	Verifier Verifier
	Sessions *auth.Sessions
	Guides   Guides
	Views    *view.Renderer
	Log      *zap.Logger

	// Cache may be nil.
	Cache *cache.Cache

	// Assets holds the public files, including 404.html.
	Assets fs.FS

	// CDNBase prefixes uploaded image ids.
	CDNBase string

	// Debug exposes error messages in 5xx bodies.
	Debug bool
}

type Handler struct {
	Deps
	notFound []byte
}

func New(d Deps) (*Handler, error) {
	if d.Store == nil || d.Verifier == nil || d.Sessions == nil || d.Guides == nil || d.Views == nil || d.Assets == nil {
		return nil, errors.New("handler: missing dependency")
	}
	page, err := fs.ReadFile(d.Assets, "404.html")
	if err != nil {
		return nil, err
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Handler{Deps: d, notFound: page}, nil
}

// render writes a full page. Template failures become a 500 without any
// partial output.
func (h *Handler) render(c *gin.Context, name, title, active string, data gin.H) {
	var buf bytes.Buffer
	err := h.Views.Render(&buf, name, view.Page{
		Title:  title,
		Active: active,
		Viewer: middleware.Viewer(c),
		Data:   data,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

// fail answers the request for err according to its kind.
func (h *Handler) fail(c *gin.Context, err error) {
	e := apperr.From(err)
	_ = c.Error(err)
	status := e.Kind.Status()

	switch {
	case e.Kind == apperr.KindNotFound:
		if resp.IsAPI(c.Request) {
			c.AbortWithStatusJSON(status, resp.Error(status, ""))
			return
		}
		h.notFoundPage(c)
		return
	case e.Kind == apperr.KindRedirectToLogin:
		c.Redirect(status, "/auth/login")
		c.Abort()
		return
	case e.Kind == apperr.KindSteamAuth:
		c.Abort()
		c.String(status, "authentication failed")
		return
	}

	if status >= http.StatusInternalServerError {
		h.Log.Error("request failed",
			zap.String("kind", e.Kind.String()),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
	}
	msg := http.StatusText(status)
	if h.Debug || status < http.StatusInternalServerError {
		msg = e.Error()
	}
	if resp.IsAPI(c.Request) {
		c.AbortWithStatusJSON(status, resp.Error(status, msg))
		return
	}
	c.Abort()
	c.String(status, msg)
}

func (h *Handler) notFoundPage(c *gin.Context) {
	c.Abort()
	c.Data(http.StatusNotFound, "text/html; charset=utf-8", h.notFound)
}

// NoRoute serves the 404 page to reads and 405 to anything else.
func (h *Handler) NoRoute(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		h.NoMethod(c)
		return
	}
	h.notFoundPage(c)
}

func (h *Handler) NoMethod(c *gin.Context) {
	resp.Abort(c, http.StatusMethodNotAllowed, "")
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": 1})
}
