package feed

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mangafeed/internal/push"
)

type Handler struct {
	Assembler *Assembler
	Hub       *push.Hub
	Log       *zap.SugaredLogger
}

func NewHandler(assembler *Assembler, hub *push.Hub, log *zap.SugaredLogger) *Handler {
	return &Handler{Assembler: assembler, Hub: hub, Log: log}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.snapshot)
	rg.POST("/refresh", h.refresh)
	rg.POST("/retry", h.retry)
	rg.GET("/ws", push.WSHandler(h.Hub, func() any { return h.Assembler.Snapshot() }, h.Log.Named("ws")))
}

func (h *Handler) snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.Assembler.Snapshot())
}

func (h *Handler) refresh(c *gin.Context) {
	h.Assembler.Refresh()
	c.JSON(http.StatusAccepted, gin.H{
		"status":  "refreshing",
		"attempt": h.Assembler.Attempt(),
	})
}

func (h *Handler) retry(c *gin.Context) {
	h.Assembler.Retry()
	c.JSON(http.StatusAccepted, gin.H{
		"status":  "retrying",
		"attempt": h.Assembler.Attempt(),
	})
}
