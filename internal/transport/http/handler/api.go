package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"mordhub/internal/core/cache"
	"mordhub/internal/domain"
	resp "mordhub/internal/transport/http/response"
)

const apiLoadoutsTTL = 30 * time.Second

// APILoadouts lists every loadout as JSON. The list is the anonymous view,
// so it is shared by all callers.
func (h *Handler) APILoadouts(c *gin.Context) {
	list, err := cache.GetOrLoadJSON(h.Cache, c.Request.Context(), apiLoadoutsKey, apiLoadoutsTTL,
		func(ctx context.Context) ([]domain.LoadoutMultiple, error) {
			l, err := h.Store.LoadoutList(ctx, nil)
			if l == nil {
				l = []domain.LoadoutMultiple{}
			}
			return l, err
		})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.OK(list))
}
