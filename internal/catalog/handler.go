package catalog

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"mangafeed/internal/cachestore"
	"mangafeed/pkg/models"
)

type Handler struct {
	Client *Client
	Store  *cachestore.Store
	Lang   string
}

func NewHandler(client *Client, store *cachestore.Store, lang string) *Handler {
	return &Handler{Client: client, Store: store, Lang: lang}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/sources", h.listSources)
}

func (h *Handler) listSources(c *gin.Context) {
	v, err := h.Store.Get(c.Request.Context(), cachestore.KeySources, func(ctx context.Context) (any, error) {
		return h.Client.ListSources(ctx)
	})
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "source list unavailable"})
		return
	}

	all, _ := v.([]models.SourceDescriptor)
	resolved := ResolvePreferred(all, h.Lang)

	c.JSON(http.StatusOK, gin.H{
		"total": len(resolved),
		"items": resolved,
	})
}
