// Package render implements domain.DocumentRenderer against an external page
// rendering service, falling back to a synthetic error image whenever the
// document cannot be rendered (spec §4.2).
package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/emagero/second-check/internal/config"
	"github.com/emagero/second-check/internal/domain"
	intobs "github.com/emagero/second-check/internal/observability"
)

// Client is a minimal HTTP client for the page-rendering microservice. It
// performs POST /render with the document bytes and expects back
// {"pages": ["<base64 PNG>", ...]}.
type Client struct {
	baseURL    string
	httpClient *http.Client
	obs        *intobs.IntegratedObservableClient
}

// New constructs a render client from config.
func New(cfg config.Config) *Client {
	timeout := 30 * time.Second
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("Render %s %s", r.Method, r.URL.Path)
		}),
	)
	return &Client{
		baseURL:    cfg.RenderServiceURL,
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		obs: intobs.NewIntegratedObservableClient(
			intobs.ConnectionTypeRenderer, intobs.OperationTypeRender, "renderer", "render-client",
			timeout, 2*time.Second, 2*timeout,
		),
	}
}

type renderResponse struct {
	Pages []string `json:"pages"`
}

// RenderPages converts data into one or more 300-DPI RGB page images. Any
// failure to render — missing service, non-2xx response, zero pages, or a
// malformed payload — yields a single synthetic error page and synthetic=true
// instead of propagating an error, per spec §4.2: a synthetic page is never
// sent to the LLM, and classification is forced to UNKNOWN with confidence 0.
func (c *Client) RenderPages(ctx domain.Context, contentType string, data []byte) ([][]byte, bool, error) {
	if len(data) == 0 {
		return [][]byte{syntheticErrorPage()}, true, nil
	}
	if isImageContentType(contentType) {
		return [][]byte{data}, false, nil
	}

	pages, err := c.renderRemote(ctx, contentType, data)
	if err != nil || len(pages) == 0 {
		slog.Warn("document render failed, substituting synthetic error page", slog.Any("error", err))
		return [][]byte{syntheticErrorPage()}, true, nil
	}
	return pages, false, nil
}

func (c *Client) renderRemote(ctx domain.Context, contentType string, data []byte) ([][]byte, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("render service not configured")
	}

	var pages [][]byte
	err := c.obs.ExecuteWithMetrics(ctx, "render", func(callCtx context.Context) error {
		req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/render", bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("build render request: %w", err)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("render request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return fmt.Errorf("render service status %d: %s", resp.StatusCode, string(body))
		}

		var out renderResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("decode render response: %w", err)
		}
		for _, p := range out.Pages {
			b, err := base64.StdEncoding.DecodeString(p)
			if err != nil {
				return fmt.Errorf("decode render page: %w", err)
			}
			pages = append(pages, b)
		}
		return nil
	})
	return pages, err
}

func isImageContentType(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(contentType), "image/")
}
