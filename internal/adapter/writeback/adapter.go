// Package writeback implements domain.WriteBackAdapter against Business
// Central's OData concurrency-token ("ETag") protocol.
package writeback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/emagero/second-check/internal/config"
	"github.com/emagero/second-check/internal/domain"
	intobs "github.com/emagero/second-check/internal/observability"
)

// Adapter implements domain.WriteBackAdapter: read the job entity (capturing
// its @odata.etag), PATCH the verification fields presenting that token, and
// re-read and retry on a concurrency mismatch, making at most
// cfg.WriteBackMaxRetries attempts in all (spec §4.5).
type Adapter struct {
	cfg     config.Config
	hc      *http.Client
	maxBody int64
	obs     *intobs.IntegratedObservableClient
}

// New constructs a write-back adapter from config.
func New(cfg config.Config) *Adapter {
	timeout := 30 * time.Second
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("WriteBack %s %s", r.Method, r.URL.Path)
		}),
	)
	return &Adapter{
		cfg:     cfg,
		hc:      &http.Client{Timeout: timeout, Transport: transport},
		maxBody: cfg.ERPMaxBodyMB * 1024 * 1024,
		obs: intobs.NewIntegratedObservableClient(
			intobs.ConnectionTypeERP, intobs.OperationTypeWriteBack, "erp", "writeback-adapter",
			timeout, 2*time.Second, 2*timeout,
		),
	}
}

type jobEntity struct {
	ETag string `json:"@odata.etag"`
}

// Apply performs the read-modify-write cycle described in spec §4.5. Callers
// must treat a non-nil error as non-fatal to the overall verification
// outcome: log it and surface it as a separate ActivityLog/discrepancy entry,
// never demote the VerificationRequest's terminal status because of it.
func (a *Adapter) Apply(ctx domain.Context, fields domain.WriteBackFields) error {
	var lastErr error
	attempts := a.cfg.WriteBackMaxRetries
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		etag, err := a.readETag(ctx, fields.JobNo)
		if err != nil {
			return &domain.WriteBackError{JobNo: fields.JobNo, Op: "read", Err: err}
		}

		err = a.patch(ctx, fields, etag)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isConcurrencyMismatch(err) {
			return &domain.WriteBackError{JobNo: fields.JobNo, Op: "patch", Err: err}
		}
		slog.Warn("writeback concurrency mismatch, retrying",
			slog.String("job_no", fields.JobNo), slog.Int("attempt", attempt), slog.Int("max_attempts", attempts))
	}

	return &domain.WriteBackError{JobNo: fields.JobNo, Op: "patch", Err: fmt.Errorf("exhausted %d attempts: %w", attempts, lastErr)}
}

func (a *Adapter) readETag(ctx domain.Context, jobNo string) (string, error) {
	var out jobEntity
	err := a.obs.ExecuteWithMetrics(ctx, "read", func(callCtx context.Context) error {
		req, err := http.NewRequestWithContext(callCtx, http.MethodGet,
			a.cfg.ERPBaseURL+"/Jobs('"+url.PathEscape(jobNo)+"')", nil)
		if err != nil {
			return fmt.Errorf("build read request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if a.cfg.ERPUser != "" {
			req.SetBasicAuth(a.cfg.ERPUser, a.cfg.ERPKey)
		}

		resp, err := a.hc.Do(req)
		if err != nil {
			return fmt.Errorf("read job entity: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return fmt.Errorf("read job entity status %d: %s", resp.StatusCode, string(body))
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, a.maxBody))
		if err != nil {
			return fmt.Errorf("read job entity body: %w", err)
		}
		return json.Unmarshal(body, &out)
	})
	return out.ETag, err
}

func (a *Adapter) patch(ctx domain.Context, fields domain.WriteBackFields, etag string) error {
	payload := map[string]string{
		"secondCheckDate": fields.CheckDate,
		"secondCheckTime": fields.CheckTime,
		"secondCheckBy":   fields.CheckedBy,
		"verificationComment": fields.Comment,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal writeback payload: %w", err)
	}

	return a.obs.ExecuteWithMetrics(ctx, "patch", func(callCtx context.Context) error {
		req, err := http.NewRequestWithContext(callCtx, http.MethodPatch,
			a.cfg.ERPBaseURL+"/Jobs('"+url.PathEscape(fields.JobNo)+"')", bytes.NewReader(b))
		if err != nil {
			return fmt.Errorf("build patch request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if etag != "" {
			req.Header.Set("If-Match", etag)
		}
		if a.cfg.ERPUser != "" {
			req.SetBasicAuth(a.cfg.ERPUser, a.cfg.ERPKey)
		}

		resp, err := a.hc.Do(req)
		if err != nil {
			return fmt.Errorf("patch job entity: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode == http.StatusPreconditionFailed {
			return errConcurrencyMismatch
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return fmt.Errorf("patch job entity status %d: %s", resp.StatusCode, string(body))
		}
		return nil
	})
}

var errConcurrencyMismatch = fmt.Errorf("CONCURRENCY_MISMATCH")

func isConcurrencyMismatch(err error) bool {
	return err == errConcurrencyMismatch
}
