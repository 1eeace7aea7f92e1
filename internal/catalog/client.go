package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"mangafeed/pkg/models"
)

// Client talks to the local backend server that hosts the catalog
// sources. All calls take a context; cancelling it both stops waiting and
// aborts the underlying request, which is how the feed pipeline cancels
// superseded work at the transport layer (best-effort).
type Client struct {
	BaseURL string
	HTTP    *http.Client
	log     *zap.SugaredLogger
}

func NewClient(baseURL string, timeout time.Duration, log *zap.SugaredLogger) *Client {
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

type sourceListResponse struct {
	Sources []struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Lang        string `json:"lang"`
		DisplayName string `json:"displayName"`
	} `json:"sources"`
}

type mangaPageResponse struct {
	Items []struct {
		ID          int      `json:"id"`
		Title       string   `json:"title"`
		Author      string   `json:"author"`
		Genres      []string `json:"genre"`
		Status      string   `json:"status"`
		Description string   `json:"description"`
		CoverURL    string   `json:"thumbnailUrl"`
		InLibrary   bool     `json:"inLibrary"`
	} `json:"mangaList"`
	HasNextPage bool `json:"hasNextPage"`
}

// ListSources fetches every installed catalog source, all language
// variants included. Resolution to one-per-family happens in resolver.go.
func (c *Client) ListSources(ctx context.Context) ([]models.SourceDescriptor, error) {
	var resp sourceListResponse
	if err := c.getJSON(ctx, "/api/v1/source/list", nil, &resp); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	out := make([]models.SourceDescriptor, 0, len(resp.Sources))
	for _, s := range resp.Sources {
		if s.ID == "" || s.Name == "" {
			continue
		}
		out = append(out, models.SourceDescriptor{
			ID:          s.ID,
			Name:        s.Name,
			Lang:        s.Lang,
			DisplayName: s.DisplayName,
		})
	}
	return out, nil
}

// Popular fetches one page of a catalog's popular listing.
func (c *Client) Popular(ctx context.Context, sourceID string, page int) ([]models.Manga, error) {
	if page < 1 {
		page = 1
	}
	path := fmt.Sprintf("/api/v1/source/%s/popular/%d", url.PathEscape(sourceID), page)

	var resp mangaPageResponse
	if err := c.getJSON(ctx, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("popular %s: %w", sourceID, err)
	}
	return c.toRecords(resp, sourceID), nil
}

// Search runs a genre-filtered search against one catalog.
func (c *Client) Search(ctx context.Context, sourceID, genre string, page int) ([]models.Manga, error) {
	if page < 1 {
		page = 1
	}
	q := url.Values{}
	q.Set("searchTerm", "")
	q.Set("genre", genre)
	q.Set("pageNum", strconv.Itoa(page))

	path := fmt.Sprintf("/api/v1/source/%s/search", url.PathEscape(sourceID))

	var resp mangaPageResponse
	if err := c.getJSON(ctx, path, q, &resp); err != nil {
		return nil, fmt.Errorf("search %s genre=%q: %w", sourceID, genre, err)
	}
	return c.toRecords(resp, sourceID), nil
}

func (c *Client) toRecords(resp mangaPageResponse, sourceID string) []models.Manga {
	out := make([]models.Manga, 0, len(resp.Items))
	for _, it := range resp.Items {
		if it.Title == "" {
			continue
		}
		out = append(out, models.Manga{
			ID:          it.ID,
			Title:       it.Title,
			Author:      it.Author,
			Genres:      it.Genres,
			Status:      it.Status,
			Description: it.Description,
			CoverURL:    it.CoverURL,
			InLibrary:   it.InLibrary,
			SourceID:    sourceID,
		})
	}
	return out
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, dst any) error {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}

	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Debugw("backend returned non-OK", "path", path, "status", resp.StatusCode)
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
