// Package github reads repository trees and files through the GitHub API.
// Project ids have the form "owner/repo".
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/kirillkom/repo-assistant/internal/core/domain"
	"github.com/kirillkom/repo-assistant/internal/infrastructure/resilience"
)

type Options struct {
	// BaseURL points at a GitHub Enterprise API root; empty means github.com.
	BaseURL string
	Token   string
	Timeout time.Duration
	Logger  *slog.Logger
}

type Client struct {
	api    *gh.Client
	logger *slog.Logger
}

func New(opts Options) (*Client, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := &http.Client{Timeout: timeout}
	if opts.Token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token})
		httpClient = oauth2.NewClient(ctx, ts)
		httpClient.Timeout = timeout
	}

	api := gh.NewClient(httpClient)
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		parsed, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parse github base url: %w", err)
		}
		api.BaseURL = parsed
	}
	return &Client{api: api, logger: logger}, nil
}

func (c *Client) ListTree(ctx context.Context, projectID, ref string) ([]domain.TreeEntry, error) {
	owner, repo, err := splitProject(projectID)
	if err != nil {
		return nil, err
	}
	if ref == "" {
		ref = domain.DefaultRef
	}

	tree, _, err := c.api.Git.GetTree(ctx, owner, repo, ref, true)
	if err != nil {
		return nil, mapError("list tree", err)
	}
	if tree.GetTruncated() {
		c.logger.Warn("github_tree_truncated", "project", projectID, "ref", ref, "entries", len(tree.Entries))
	}

	out := make([]domain.TreeEntry, 0, len(tree.Entries))
	for _, item := range tree.Entries {
		entry := domain.TreeEntry{Path: item.GetPath(), Kind: domain.EntryKind(item.GetType())}
		if err := entry.Validate(); err != nil {
			c.logger.Warn("github_tree_entry_skipped", "project", projectID, "path", item.GetPath(), "type", item.GetType())
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (c *Client) GetFile(ctx context.Context, projectID, path, ref string) (string, error) {
	owner, repo, err := splitProject(projectID)
	if err != nil {
		return "", err
	}
	opts := &gh.RepositoryContentGetOptions{}
	if ref != "" && ref != domain.DefaultRef {
		opts.Ref = ref
	}

	file, _, _, err := c.api.Repositories.GetContents(ctx, owner, repo, path, opts)
	if err != nil {
		return "", mapError("get file", err)
	}
	if file == nil {
		return "", domain.WrapError(domain.ErrInvalidInput, "get file", fmt.Errorf("%s is a directory", path))
	}
	content, err := file.GetContent()
	if err != nil {
		return "", domain.WrapError(domain.ErrInvalidInput, "decode file", fmt.Errorf("%s: %w", path, err))
	}
	return strings.ToValidUTF8(content, "�"), nil
}

func splitProject(projectID string) (string, string, error) {
	owner, repo, ok := strings.Cut(strings.TrimSpace(projectID), "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", domain.WrapError(domain.ErrInvalidInput, "parse project", fmt.Errorf("expected owner/repo, got %q", projectID))
	}
	return owner, repo, nil
}

func mapError(operation string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return domain.WrapError(domain.ErrRateLimited, operation, err)
	}
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return domain.WrapError(domain.ErrRateLimited, operation, err)
	}

	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		return domain.WrapError(resilience.KindForStatus(respErr.Response.StatusCode), operation, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return fmt.Errorf("github %s: %w", operation, err)
}
