// Package gitlab reads repository trees and files through the GitLab REST v4 API.
package gitlab

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/repo-assistant/internal/core/domain"
)

const (
	DefaultBaseURL  = "https://gitlab.com"
	DefaultPageSize = 100
	maxPageSize     = 100
	maxPages        = 1000
)

type Options struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	RateLimit float64
	Burst     int
	PageSize  int
	Logger    *slog.Logger
}

type Client struct {
	baseURL    string
	token      string
	pageSize   int
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

func New(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = DefaultPageSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return &Client{
		baseURL:    baseURL,
		token:      opts.Token,
		pageSize:   pageSize,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		logger:     logger,
	}
}

type treeItem struct {
	Path string `json:"path"`
	Type string `json:"type"`
}

// ListTree walks every page of the recursive tree listing.
func (c *Client) ListTree(ctx context.Context, projectID, ref string) ([]domain.TreeEntry, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "list tree", fmt.Errorf("empty project id"))
	}
	path := "/projects/" + url.PathEscape(projectID) + "/repository/tree"

	var out []domain.TreeEntry
	page := 1
	for pages := 0; pages < maxPages; pages++ {
		query := url.Values{}
		query.Set("recursive", "true")
		query.Set("per_page", strconv.Itoa(c.pageSize))
		query.Set("page", strconv.Itoa(page))
		if ref != "" {
			query.Set("ref", ref)
		}

		var items []treeItem
		header, err := c.getJSON(ctx, path, query, &items, "list tree")
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			entry := domain.TreeEntry{Path: item.Path, Kind: domain.EntryKind(item.Type)}
			if err := entry.Validate(); err != nil {
				c.logger.Warn("gitlab_tree_entry_skipped", "project", projectID, "path", item.Path, "type", item.Type)
				continue
			}
			out = append(out, entry)
		}

		next, ok := nextPage(header, page, len(items), c.pageSize)
		if !ok {
			return out, nil
		}
		page = next
	}
	return nil, domain.WrapError(domain.ErrInvalidInput, "list tree", fmt.Errorf("more than %d pages", maxPages))
}

// nextPage follows X-Next-Page when GitLab sends it and falls back to
// "full page means more" otherwise.
func nextPage(header http.Header, page, got, pageSize int) (int, bool) {
	if values, ok := header["X-Next-Page"]; ok {
		raw := ""
		if len(values) > 0 {
			raw = strings.TrimSpace(values[0])
		}
		if raw == "" {
			return 0, false
		}
		next, err := strconv.Atoi(raw)
		if err != nil || next <= page {
			return 0, false
		}
		return next, true
	}
	if got < pageSize || got == 0 {
		return 0, false
	}
	return page + 1, true
}

type fileResponse struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

func (c *Client) GetFile(ctx context.Context, projectID, filePath, ref string) (string, error) {
	if strings.TrimSpace(projectID) == "" || strings.TrimSpace(filePath) == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "get file", fmt.Errorf("empty project id or path"))
	}
	path := "/projects/" + url.PathEscape(projectID) + "/repository/files/" + url.PathEscape(filePath)
	query := url.Values{}
	if ref == "" {
		ref = domain.DefaultRef
	}
	query.Set("ref", ref)

	var resp fileResponse
	if _, err := c.getJSON(ctx, path, query, &resp, "get file"); err != nil {
		return "", err
	}
	return c.decodeContent(projectID, filePath, resp)
}

func (c *Client) decodeContent(projectID, filePath string, resp fileResponse) (string, error) {
	content := resp.Content
	switch strings.ToLower(resp.Encoding) {
	case "base64":
		raw, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return "", domain.WrapError(domain.ErrInvalidInput, "decode file", fmt.Errorf("%s: %w", filePath, err))
		}
		content = string(raw)
	case "", "text":
	default:
		c.logger.Warn("gitlab_file_unknown_encoding", "project", projectID, "path", filePath, "encoding", resp.Encoding)
	}
	return strings.ToValidUTF8(content, "�"), nil
}
