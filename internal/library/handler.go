package library

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"mangafeed/internal/cachestore"
	"mangafeed/pkg/models"
)

// Handler owns the item-level mutations that live outside the feed core.
// Their only coupling to the feed is invalidating the "library" cache key
// so the next pipeline run sees fresh data.
type Handler struct {
	Repo  *Repo
	Store *cachestore.Store
}

func NewHandler(repo *Repo, store *cachestore.Store) *Handler {
	return &Handler{Repo: repo, Store: store}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/library", h.list)
	r.POST("/library/:id", h.add)
	r.DELETE("/library/:id", h.remove)
	r.POST("/history", h.addHistory)
	r.GET("/history", h.listHistory)
}

func (h *Handler) list(c *gin.Context) {
	records, err := h.Repo.Records(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}

	items := make([]models.Manga, 0, len(records))
	for _, r := range records {
		if r.InLibrary {
			items = append(items, r)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"total": len(items),
		"items": items,
	})
}

func (h *Handler) add(c *gin.Context)    { h.setFlag(c, true) }
func (h *Handler) remove(c *gin.Context) { h.setFlag(c, false) }

func (h *Handler) setFlag(c *gin.Context, inLibrary bool) {
	id, err := strconv.Atoi(strings.TrimSpace(c.Param("id")))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	ok, err := h.Repo.SetInLibrary(c.Request.Context(), id, inLibrary)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save failed"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	// The cached library snapshot is now stale.
	h.Store.Clear(cachestore.KeyLibrary)

	c.JSON(http.StatusOK, gin.H{"id": id, "in_library": inLibrary})
}

type historyReq struct {
	MangaID     int    `json:"manga_id"`
	ChapterName string `json:"chapter_name"`
	PageNumber  int    `json:"page_number"`
}

func (h *Handler) addHistory(c *gin.Context) {
	var req historyReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.MangaID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "manga_id required"})
		return
	}
	if req.PageNumber < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page_number must be >= 0"})
		return
	}

	entry := models.HistoryEntry{
		MangaID:     req.MangaID,
		ChapterName: strings.TrimSpace(req.ChapterName),
		PageNumber:  req.PageNumber,
		ReadAt:      time.Now().UTC(),
	}
	if err := h.Repo.AddHistory(c.Request.Context(), entry); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save failed"})
		return
	}

	c.JSON(http.StatusOK, entry)
}

func (h *Handler) listHistory(c *gin.Context) {
	entries, err := h.Repo.History(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total": len(entries),
		"items": entries,
	})
}
