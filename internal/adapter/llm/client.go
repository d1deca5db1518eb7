package llm

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

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/emagero/second-check/internal/config"
	"github.com/emagero/second-check/internal/domain"
	intobs "github.com/emagero/second-check/internal/observability"
	"github.com/emagero/second-check/internal/service/ratelimiter"
)

const systemPrompt = `You are a back-office document auditor. Given one or more page images of a
business document and a bundle of ERP reference data, respond with a single
JSON object only:
{
  "documentType": "SALES_QUOTE|PROFORMA_INVOICE|JOB_SHIPMENT|UNKNOWN",
  "classificationConfidence": 0.0,
  "classificationReasoning": "",
  "discrepancies": [{"field":"","expected":"","found":"","severity":"low|medium|high","commentary":""}],
  "fieldConfidences": [{"field":"","confidence":0.0}],
  "overallVerificationConfidence": 0.0
}
Do not include any text outside the JSON object.`

// readSnippet reads up to n bytes from r and returns it as a string. Caps how
// much of a response body gets logged or wrapped into an error.
func readSnippet(r io.Reader, n int) string {
	if r == nil || n <= 0 {
		return ""
	}
	buf := make([]byte, n)
	m, _ := io.ReadAtLeast(&limitedReader{R: r, N: int64(n)}, buf, 0)
	return string(buf[:m])
}

type limitedReader struct {
	R io.Reader
	N int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.N <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > l.N {
		p = p[:l.N]
	}
	n, err := l.R.Read(p)
	l.N -= int64(n)
	return n, err
}

// Client implements domain.LLMClient against an OpenAI-compatible multimodal
// chat completions endpoint, attempting each configured model in order until
// one returns a decodable, non-empty completion (spec §4.3).
type Client struct {
	cfg     config.Config
	hc      *http.Client
	limiter ratelimiter.Limiter
	cleaner *ResponseCleaner
	circuit *CircuitBreakerManager
	rlc     *RateLimitCache
	obs     *intobs.IntegratedObservableClient
}

// New constructs an LLM client from config. limiter may be nil, in which case
// no global outstanding-call cap is enforced.
func New(cfg config.Config, limiter ratelimiter.Limiter) *Client {
	timeout := cfg.LLMRequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("LLM %s %s", r.Method, r.URL.Host)
		}),
	)

	return &Client{
		cfg:     cfg,
		hc:      &http.Client{Timeout: timeout, Transport: transport},
		limiter: limiter,
		cleaner: NewResponseCleaner(),
		circuit: NewCircuitBreakerManager(),
		rlc:     NewRateLimitCache(),
		obs: intobs.NewIntegratedObservableClient(
			intobs.ConnectionTypeLLM, intobs.OperationTypeClassify, "llm", "llm-client",
			timeout, 5*time.Second, 2*timeout,
		),
	}
}

// orderedModels returns the primary model followed by the configured
// fallbacks (spec §4.3 default: gemini-2.0-flash-001 then
// gemini-2.0-flash-lite-001).
func (c *Client) orderedModels() []string {
	models := make([]string, 0, 1+len(c.cfg.LLMModelFallbacks))
	if c.cfg.LLMModelPrimary != "" {
		models = append(models, c.cfg.LLMModelPrimary)
	}
	models = append(models, c.cfg.LLMModelFallbacks...)
	return models
}

func (c *Client) backoffConfig() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	maxElapsed, initial, maxInterval, mult := c.cfg.GetLLMBackoffConfig()
	b.MaxElapsedTime = maxElapsed
	b.InitialInterval = initial
	b.MaxInterval = maxInterval
	b.Multiplier = mult
	return b
}

func (c *Client) waitMinInterval() {
	if c.cfg.LLMMinInterval > 0 {
		time.Sleep(c.cfg.LLMMinInterval)
	}
}

// ClassifyAndVerify implements domain.LLMClient. It tries each configured
// model in order, rolling over on transient network errors, undecodable
// response envelopes, or empty responses. Completion text that is not valid
// JSON does not roll over: the first model to return non-empty text wins and
// its text goes through parseModelResponse's keyword-scan fallback.
// Exhaustion yields documentType=UNKNOWN,
// classificationConfidence=0 with the last error returned alongside a best
// effort zero-value result (spec §4.3).
func (c *Client) ClassifyAndVerify(ctx domain.Context, req domain.ClassifyAndVerifyRequest) (domain.ClassifyAndVerifyResult, error) {
	lg := intobs.LoggerFromContext(ctx)

	var lastErr error
	for _, model := range c.orderedModels() {
		breaker := c.circuit.GetBreaker(model)
		if !breaker.ShouldAttempt() {
			lg.Info("skipping model with open circuit breaker", slog.String("model", model))
			continue
		}
		if c.rlc.IsModelBlocked(model) {
			lg.Info("skipping rate-limited model", slog.String("model", model), slog.String("job_no", req.JobNo))
			continue
		}

		raw, err := c.callModel(ctx, model, req)
		if err != nil {
			lastErr = err
			breaker.RecordFailure()
			lg.Warn("llm model call failed, trying next model",
				slog.String("model", model), slog.String("job_no", req.JobNo), slog.Any("error", err))
			continue
		}
		if strings.TrimSpace(raw) == "" {
			lastErr = fmt.Errorf("model %s returned empty response", model)
			breaker.RecordFailure()
			continue
		}

		result := parseModelResponse(raw)
		result.ModelUsed = model
		breaker.RecordSuccess()
		c.rlc.RecordSuccess(model)
		return result, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no LLM models configured")
	}
	return domain.ClassifyAndVerifyResult{
		DocumentType: "UNKNOWN",
	}, lastErr
}

func (c *Client) callModel(ctx domain.Context, model string, req domain.ClassifyAndVerifyRequest) (string, error) {
	body := c.buildRequestBody(model, req)
	b, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal llm request: %w", err)
	}

	var result string
	err = c.obs.ExecuteWithMetrics(ctx, "classify", func(callCtx context.Context) error {
		bo := backoff.WithContext(c.backoffConfig(), callCtx)
		return backoff.Retry(func() error {
			if c.limiter != nil {
				allowed, retryAfter, lerr := c.limiter.Allow(callCtx, "llm", 1)
				if lerr != nil {
					slog.Error("llm rate limiter error", slog.Any("error", lerr))
				} else if !allowed {
					c.rlc.RecordRateLimit(model, retryAfter)
					return backoff.Permanent(fmt.Errorf("%w: model %s throttled locally", domain.ErrUpstreamRateLimit, model))
				}
			}

			c.waitMinInterval()

			httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.cfg.LLMBaseURL+"/chat/completions", bytes.NewReader(b))
			if err != nil {
				return backoff.Permanent(fmt.Errorf("build llm request: %w", err))
			}
			httpReq.Header.Set("Content-Type", "application/json")
			if c.cfg.LLMAPIKey != "" {
				httpReq.Header.Set("Authorization", "Bearer "+c.cfg.LLMAPIKey)
			}

			resp, err := c.hc.Do(httpReq)
			if err != nil {
				return fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode == http.StatusTooManyRequests {
				retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
				c.rlc.RecordRateLimit(model, retryAfter)
				return fmt.Errorf("%w: model %s", domain.ErrUpstreamRateLimit, model)
			}
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				snippet := readSnippet(resp.Body, 2048)
				return backoff.Permanent(fmt.Errorf("%w: llm status %d: %s", domain.ErrInvalidArgument, resp.StatusCode, snippet))
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				snippet := readSnippet(resp.Body, 2048)
				return fmt.Errorf("llm status %d: %s", resp.StatusCode, snippet)
			}

			var out struct {
				Choices []struct {
					Message struct {
						Content string `json:"content"`
					} `json:"message"`
				} `json:"choices"`
			}
			respBytes, err := io.ReadAll(&limitedReader{R: resp.Body, N: 8 * 1024 * 1024})
			if err != nil {
				return fmt.Errorf("read llm response: %w", err)
			}
			if err := json.Unmarshal(respBytes, &out); err != nil {
				return backoff.Permanent(fmt.Errorf("%w: decode llm response: %v", domain.ErrSchemaInvalid, err))
			}
			if len(out.Choices) == 0 {
				return fmt.Errorf("llm response had no choices")
			}

			result = out.Choices[0].Message.Content
			return nil
		}, bo)
	})
	return result, err
}

// buildRequestBody assembles an OpenAI-compatible multimodal chat completions
// body: a system prompt, a text block describing the ERP reference bundle,
// and one image_url content part per rendered page (spec §4.2, §4.3's
// generation parameters: low temperature, top-p/top-k tuned for determinism).
func (c *Client) buildRequestBody(model string, req domain.ClassifyAndVerifyRequest) map[string]any {
	content := []map[string]any{
		{"type": "text", "text": c.referenceText(req)},
	}
	for _, img := range req.Images {
		content = append(content, map[string]any{
			"type": "image_url",
			"image_url": map[string]string{
				"url": "data:image/png;base64," + base64.StdEncoding.EncodeToString(img),
			},
		})
	}

	maxTokens := c.cfg.LLMMaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return map[string]any{
		"model":       model,
		"temperature": 0.1,
		"top_p":       0.95,
		"top_k":       40,
		"max_tokens":  maxTokens,
		"messages": []map[string]any{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": content},
		},
	}
}

func (c *Client) referenceText(req domain.ClassifyAndVerifyRequest) string {
	b, _ := json.Marshal(map[string]any{
		"jobNo":     req.JobNo,
		"fileName":  req.FileName,
		"reference": req.Reference,
	})
	return string(b)
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := time.ParseDuration(header + "s"); err == nil {
		return secs
	}
	return 0
}
