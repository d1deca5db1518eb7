package erp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gabriel-vasile/mimetype"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/emagero/second-check/internal/adapter/observability"
	"github.com/emagero/second-check/internal/config"
	"github.com/emagero/second-check/internal/domain"
	intobs "github.com/emagero/second-check/internal/observability"
)

// readSnippet reads up to n bytes from r and returns it as a string. Used to
// cap how much of an error response body gets logged or wrapped into an
// error, never the whole thing.
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

// Client implements domain.ERPClient against Business Central's OData web
// services, using HTTP basic auth and a bounded-size response reader.
type Client struct {
	cfg         config.Config
	hc          *http.Client
	maxBody     int64
	obsQuery    *intobs.IntegratedObservableClient
	obsDownload *intobs.IntegratedObservableClient
	breaker     *observability.CircuitBreaker
}

// New constructs an ERP client from config.
func New(cfg config.Config) *Client {
	timeout := 30 * time.Second

	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("ERP %s %s", r.Method, r.URL.Path)
		}),
	)

	return &Client{
		cfg:     cfg,
		hc:      &http.Client{Timeout: timeout, Transport: transport},
		maxBody: cfg.ERPMaxBodyMB * 1024 * 1024,
		obsQuery: intobs.NewIntegratedObservableClient(
			intobs.ConnectionTypeERP, intobs.OperationTypeQuery, "erp", "erp-client",
			timeout, 2*time.Second, 2*timeout,
		),
		obsDownload: intobs.NewIntegratedObservableClient(
			intobs.ConnectionTypeERP, intobs.OperationTypeDownload, "erp", "erp-client",
			timeout, 2*time.Second, 2*timeout,
		),
		breaker: observability.GetCircuitBreaker("erp", 5, 30*time.Second),
	}
}

func (c *Client) backoffConfig() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 20 * time.Second
	return b
}

func (c *Client) waitMinInterval() {
	if c.cfg.ERPMinInterval > 0 {
		time.Sleep(c.cfg.ERPMinInterval)
	}
}

// doJSON issues an authenticated GET against path (relative to ERPBaseURL)
// and decodes the OData `{value: [...]}` envelope, retrying transient
// failures with backoff. It never reads more than maxBody bytes of the
// response.
func (c *Client) doJSON(ctx domain.Context, op, path string) ([]map[string]any, error) {
	var rows []map[string]any
	err := c.breaker.Call(func() error {
		return c.obsQuery.ExecuteWithMetrics(ctx, op, func(callCtx context.Context) error {
			bo := backoff.WithContext(c.backoffConfig(), callCtx)
			return backoff.Retry(func() error {
				c.waitMinInterval()

				req, err := http.NewRequestWithContext(callCtx, http.MethodGet, c.cfg.ERPBaseURL+path, nil)
				if err != nil {
					return backoff.Permanent(wrapTransport(op, err))
				}
				req.Header.Set("Accept", "application/json")
				if c.cfg.ERPUser != "" {
					req.SetBasicAuth(c.cfg.ERPUser, c.cfg.ERPKey)
				}

				resp, err := c.hc.Do(req)
				if err != nil {
					slog.Warn("erp request failed", slog.String("op", op), slog.Any("error", err))
					return wrapTransport(op, err)
				}
				defer func() { _ = resp.Body.Close() }()

				if resp.StatusCode < 200 || resp.StatusCode >= 300 {
					snippet := readSnippet(resp.Body, 2048)
					slog.Warn("erp non-2xx", slog.String("op", op), slog.Int("status", resp.StatusCode), slog.String("body", snippet))
					wrapped := classifyStatus(op, resp.StatusCode, snippet)
					if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
						return backoff.Permanent(wrapped)
					}
					return wrapped
				}

				body, err := io.ReadAll(&limitedReader{R: resp.Body, N: c.maxBody})
				if err != nil {
					return wrapTransport(op, err)
				}

				decoded, err := decodeODataCollection(body)
				if err != nil {
					return backoff.Permanent(wrapParse(op, err))
				}
				rows = decoded
				return nil
			}, bo)
		})
	})
	return rows, err
}

// FetchJobListEntry retrieves the single job-list entry for jobNo.
func (c *Client) FetchJobListEntry(ctx domain.Context, jobNo string) (domain.JobListEntry, error) {
	path := fmt.Sprintf("/JobList?$filter=No eq '%s'", url.QueryEscape(jobNo))
	rows, err := c.doJSON(ctx, "fetch_job_list_entry", path)
	if err != nil {
		return domain.JobListEntry{}, err
	}
	if len(rows) == 0 {
		return domain.JobListEntry{}, &domain.ERPError{Kind: domain.ERPNotFound, Op: "fetch_job_list_entry", Err: fmt.Errorf("job %s not found", jobNo)}
	}
	row := rows[0]
	return domain.JobListEntry{
		JobNo:          strField(row, "No"),
		JobTitle:       strField(row, "Description"),
		CustomerName:   strField(row, "Sell_to_Customer_Name"),
		FirstCheckDate: strField(row, "1st_Check_Date"),
		SecondCheckBy:  strField(row, "2nd_Check_By"),
	}, nil
}

// FetchLedgerEntries retrieves job ledger entries in ERP order.
func (c *Client) FetchLedgerEntries(ctx domain.Context, jobNo string) ([]domain.LedgerEntry, error) {
	path := fmt.Sprintf("/JobLedgerEntries?$filter=Job_No eq '%s'", url.QueryEscape(jobNo))
	rows, err := c.doJSON(ctx, "fetch_ledger_entries", path)
	if err != nil {
		return nil, err
	}
	out := make([]domain.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.LedgerEntry{
			EntryNo:     strField(row, "Entry_No"),
			JobNo:       strField(row, "Job_No"),
			PostingDate: strField(row, "Posting_Date"),
			Description: strField(row, "Description"),
			Amount:      floatField(row, "Amount"),
		})
	}
	return out, nil
}

// FetchSalesQuote retrieves a sales quote header and its lines.
func (c *Client) FetchSalesQuote(ctx domain.Context, no string) (domain.SalesQuoteHeader, error) {
	hdrPath := fmt.Sprintf("/SalesQuoteHeaders?$filter=No eq '%s'", url.QueryEscape(no))
	hdrRows, err := c.doJSON(ctx, "fetch_sales_quote_header", hdrPath)
	if err != nil {
		return domain.SalesQuoteHeader{}, err
	}
	if len(hdrRows) == 0 {
		return domain.SalesQuoteHeader{}, &domain.ERPError{Kind: domain.ERPNotFound, Op: "fetch_sales_quote_header", Err: fmt.Errorf("quote %s not found", no)}
	}
	hdr := hdrRows[0]

	linePath := fmt.Sprintf("/SalesQuoteLines?$filter=Document_No eq '%s'", url.QueryEscape(no))
	lineRows, err := c.doJSON(ctx, "fetch_sales_quote_lines", linePath)
	if err != nil {
		return domain.SalesQuoteHeader{}, err
	}
	lines := make([]domain.SalesQuoteLine, 0, len(lineRows))
	for _, row := range lineRows {
		lines = append(lines, domain.SalesQuoteLine{
			LineNo:      strField(row, "Line_No"),
			Description: strField(row, "Description"),
			Quantity:    floatField(row, "Quantity"),
			UnitPrice:   floatField(row, "Unit_Price"),
		})
	}

	return domain.SalesQuoteHeader{
		No:           strField(hdr, "No"),
		JobNo:        strField(hdr, "Job_No"),
		CustomerName: strField(hdr, "Sell_to_Customer_Name"),
		DocumentDate: strField(hdr, "Document_Date"),
		Lines:        lines,
	}, nil
}

// FetchSalesInvoice retrieves a sales invoice header.
func (c *Client) FetchSalesInvoice(ctx domain.Context, no string) (domain.SalesInvoiceHeader, error) {
	path := fmt.Sprintf("/SalesInvoiceHeaders?$filter=No eq '%s'", url.QueryEscape(no))
	rows, err := c.doJSON(ctx, "fetch_sales_invoice", path)
	if err != nil {
		return domain.SalesInvoiceHeader{}, err
	}
	if len(rows) == 0 {
		return domain.SalesInvoiceHeader{}, &domain.ERPError{Kind: domain.ERPNotFound, Op: "fetch_sales_invoice", Err: fmt.Errorf("invoice %s not found", no)}
	}
	row := rows[0]
	return domain.SalesInvoiceHeader{
		No:           strField(row, "No"),
		JobNo:        strField(row, "Job_No"),
		CustomerName: strField(row, "Sell_to_Customer_Name"),
		DocumentDate: strField(row, "Document_Date"),
		Amount:       floatField(row, "Amount"),
	}, nil
}

// FetchAttachmentLinks retrieves the comma-separated attachment-link field
// for a job and splits it into individual URLs.
func (c *Client) FetchAttachmentLinks(ctx domain.Context, jobNo string) (domain.JobAttachmentLinks, error) {
	path := fmt.Sprintf("/JobAttachments?$filter=Job_No eq '%s'", url.QueryEscape(jobNo))
	rows, err := c.doJSON(ctx, "fetch_attachment_links", path)
	if err != nil {
		return domain.JobAttachmentLinks{}, err
	}
	if len(rows) == 0 {
		return domain.JobAttachmentLinks{JobNo: jobNo}, nil
	}
	return domain.JobAttachmentLinks{
		JobNo: jobNo,
		URLs:  splitAttachmentURLs(strField(rows[0], "Attachment_Links")),
	}, nil
}

// DownloadDocument fetches the raw bytes behind an attachment URL, sniffing
// its content type since the ERP's SharePoint-style links rarely set one.
func (c *Client) DownloadDocument(ctx domain.Context, docURL string) (domain.DownloadedDocument, error) {
	var result domain.DownloadedDocument
	err := c.breaker.Call(func() error {
		return c.obsDownload.ExecuteWithMetrics(ctx, "download_document", func(callCtx context.Context) error {
			req, err := http.NewRequestWithContext(callCtx, http.MethodGet, docURL, nil)
			if err != nil {
				return wrapTransport("download_document", err)
			}
			if c.cfg.ERPUser != "" {
				req.SetBasicAuth(c.cfg.ERPUser, c.cfg.ERPKey)
			}

			resp, err := c.hc.Do(req)
			if err != nil {
				return wrapTransport("download_document", err)
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				snippet := readSnippet(resp.Body, 512)
				return classifyStatus("download_document", resp.StatusCode, snippet)
			}

			data, err := io.ReadAll(&limitedReader{R: resp.Body, N: c.maxBody})
			if err != nil {
				return wrapTransport("download_document", err)
			}

			contentType := resp.Header.Get("Content-Type")
			if contentType == "" || contentType == "application/octet-stream" {
				contentType = mimetype.Detect(data).String()
			}

			name := docURL
			if idx := strings.LastIndex(docURL, "/"); idx >= 0 && idx+1 < len(docURL) {
				name = docURL[idx+1:]
			}
			if idx := strings.IndexByte(name, '?'); idx >= 0 {
				name = name[:idx]
			}

			result = domain.DownloadedDocument{Bytes: data, ContentType: contentType, FileName: name}
			return nil
		})
	})
	if err != nil {
		return domain.DownloadedDocument{}, err
	}
	return result, nil
}
