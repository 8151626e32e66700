package handler

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mordhub/internal/core/apperr"
	"mordhub/internal/domain"
	"mordhub/internal/transport/http/middleware"
)

const apiLoadoutsKey = "api:loadouts"

var cloudinaryID = regexp.MustCompile(`^[A-Za-z0-9_-]+(/[A-Za-z0-9_-]+)*$`)

type createLoadoutForm struct {
	Name             string `form:"name" binding:"required,max=128"`
	Data             string `form:"data" binding:"required,max=8192"`
	CloudinaryID     string `form:"cloudinary_id" binding:"required,max=255"`
	CloudinaryFormat string `form:"cloudinary_format" binding:"required,alphanum,max=8"`
}

func viewer(c *gin.Context) *domain.User { return middleware.Viewer(c) }

func loadoutID(c *gin.Context) (int32, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 31)
	if err != nil {
		return 0, apperr.NotFound("bad loadout id")
	}
	return int32(id), nil
}

func (h *Handler) LoadoutList(c *gin.Context) {
	list, err := h.Store.LoadoutList(c.Request.Context(), viewer(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.render(c, "loadouts/list.html", "Loadouts", "loadouts", gin.H{"Loadouts": list})
}

// LoadoutSingle shows one loadout with its images.
func (h *Handler) LoadoutSingle(c *gin.Context) {
	id, err := loadoutID(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	page, err := h.Store.LoadoutPage(c.Request.Context(), id, viewer(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.render(c, "loadouts/single.html", page.Loadout.Name, "loadouts", gin.H{"Page": page})
}

func (h *Handler) CreateForm(c *gin.Context) {
	if viewer(c) == nil {
		h.fail(c, apperr.ErrRedirectToLogin)
		return
	}
	h.render(c, "loadouts/create.html", "New loadout", "create", nil)
}

// Create publishes a loadout with its uploaded cover image and redirects to
// it.
func (h *Handler) Create(c *gin.Context) {
	v := viewer(c)
	if v == nil {
		h.fail(c, apperr.ErrRedirectToLogin)
		return
	}
	var f createLoadoutForm
	if err := c.ShouldBind(&f); err != nil {
		h.fail(c, apperr.Wrap(apperr.KindBadRequest, "invalid loadout form", err))
		return
	}
	f.Name = strings.TrimSpace(f.Name)
	if f.Name == "" || !cloudinaryID.MatchString(f.CloudinaryID) {
		h.fail(c, apperr.BadRequest("invalid loadout form"))
		return
	}
	cover := h.CDNBase + "/" + f.CloudinaryID + "." + f.CloudinaryFormat

	id, err := h.Store.PublishLoadout(c.Request.Context(), v.ID, f.Name, f.Data, cover)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.invalidate(c)
	c.Redirect(http.StatusSeeOther, "/loadouts/"+strconv.Itoa(int(id)))
}

func (h *Handler) Like(c *gin.Context)   { h.setLike(c, true) }
func (h *Handler) Unlike(c *gin.Context) { h.setLike(c, false) }

func (h *Handler) setLike(c *gin.Context, like bool) {
	v := viewer(c)
	if v == nil {
		h.fail(c, apperr.ErrRedirectToLogin)
		return
	}
	id, err := loadoutID(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	if like {
		err = h.Store.LikeLoadout(c.Request.Context(), v.ID, id)
	} else {
		err = h.Store.UnlikeLoadout(c.Request.Context(), v.ID, id)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	h.invalidate(c)
	c.Redirect(http.StatusSeeOther, "/loadouts/"+strconv.Itoa(int(id)))
}

func (h *Handler) invalidate(c *gin.Context) {
	if err := h.Cache.Delete(c.Request.Context(), apiLoadoutsKey); err != nil {
		h.Log.Warn("invalidate loadout cache", zap.Error(err))
	}
}
