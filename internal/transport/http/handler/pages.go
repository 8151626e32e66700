package handler

import (
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"mordhub/internal/core/apperr"
	"mordhub/internal/domain"
)

func (h *Handler) Index(c *gin.Context) {
	h.render(c, "index.html", "", "home", nil)
}

func (h *Handler) About(c *gin.Context) {
	h.render(c, "about.html", "About", "about", nil)
}

// User shows a player and the loadouts they published.
func (h *Handler) User(c *gin.Context) {
	id, err := domain.ParseSteamID(c.Param("steam_id"))
	if err != nil {
		h.fail(c, apperr.NotFound("bad steam id"))
		return
	}
	target, err := h.Store.UserBySteamID(c.Request.Context(), id)
	if apperr.KindOf(err) == apperr.KindUnauthorized {
		err = apperr.NotFound("no such user")
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	owned, err := h.Store.LoadoutsByOwner(c.Request.Context(), target.ID, viewer(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.render(c, "user.html", target.SteamID.String(), "", gin.H{
		"Target":   target,
		"Loadouts": owned,
	})
}

func (h *Handler) GuideList(c *gin.Context) {
	h.render(c, "guides/list.html", "Guides", "guides", gin.H{"Guides": h.Guides.List()})
}

func (h *Handler) GuideSingle(c *gin.Context) {
	g, body, err := h.Guides.Render(c.Request.Context(), c.Param("slug"))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.render(c, "guides/single.html", g.Title, "guides", gin.H{"Guide": g, "Body": body})
}

// Static serves embedded assets. Missing files and directories get the 404
// page.
func (h *Handler) Static(c *gin.Context) {
	name := strings.TrimPrefix(path.Clean("/"+c.Param("filepath")), "/")
	if !fs.ValidPath(name) || name == "." {
		h.notFoundPage(c)
		return
	}
	st, err := fs.Stat(h.Assets, name)
	if err != nil || st.IsDir() {
		h.notFoundPage(c)
		return
	}
	c.Header("Cache-Control", "public, max-age=3600")
	c.FileFromFS(name, http.FS(h.Assets))
}
