package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/emagero/second-check/internal/domain"
	"github.com/emagero/second-check/internal/usecase"
)

type fakeVerificationRepo struct {
	created  domain.VerificationRequest
	byID     map[string]domain.VerificationRequest
	latest   domain.VerificationRequest
	latestOK bool
}

func (f *fakeVerificationRepo) Create(_ domain.Context, jobNo string) (domain.VerificationRequest, error) {
	vr := domain.VerificationRequest{ID: "vr-1", JobNo: jobNo, Status: domain.VerificationPending}
	f.created = vr
	return vr, nil
}
func (f *fakeVerificationRepo) Get(_ domain.Context, id string) (domain.VerificationRequest, error) {
	if vr, ok := f.byID[id]; ok {
		return vr, nil
	}
	return domain.VerificationRequest{}, domain.ErrNotFound
}
func (f *fakeVerificationRepo) LatestByJobNo(_ domain.Context, _ string) (domain.VerificationRequest, error) {
	if !f.latestOK {
		return domain.VerificationRequest{}, domain.ErrNotFound
	}
	return f.latest, nil
}
func (f *fakeVerificationRepo) MarkProcessing(_ domain.Context, _, _ string) error { return nil }
func (f *fakeVerificationRepo) Finalize(_ domain.Context, _ string, _ domain.VerificationStatus, _ []string) error {
	return nil
}

type fakeQueue struct{ published []domain.VerificationTaskPayload }

func (f *fakeQueue) Publish(_ domain.Context, _ string, payload domain.VerificationTaskPayload) error {
	f.published = append(f.published, payload)
	return nil
}
func (f *fakeQueue) PublishDLQ(_ domain.Context, _ domain.VerificationTaskPayload, _ string) error {
	return nil
}

type fakeERPClient struct {
	entry domain.JobListEntry
	err   error
}

func (f *fakeERPClient) FetchJobListEntry(_ domain.Context, _ string) (domain.JobListEntry, error) {
	return f.entry, f.err
}
func (f *fakeERPClient) FetchLedgerEntries(_ domain.Context, _ string) ([]domain.LedgerEntry, error) {
	return nil, nil
}
func (f *fakeERPClient) FetchSalesQuote(_ domain.Context, _ string) (domain.SalesQuoteHeader, error) {
	return domain.SalesQuoteHeader{}, nil
}
func (f *fakeERPClient) FetchSalesInvoice(_ domain.Context, _ string) (domain.SalesInvoiceHeader, error) {
	return domain.SalesInvoiceHeader{}, nil
}
func (f *fakeERPClient) FetchAttachmentLinks(_ domain.Context, _ string) (domain.JobAttachmentLinks, error) {
	return domain.JobAttachmentLinks{}, nil
}
func (f *fakeERPClient) DownloadDocument(_ domain.Context, _ string) (domain.DownloadedDocument, error) {
	return domain.DownloadedDocument{}, nil
}

func newTestServer() (*Server, *fakeVerificationRepo, *fakeQueue) {
	repo := &fakeVerificationRepo{byID: map[string]domain.VerificationRequest{}}
	q := &fakeQueue{}
	intake := usecase.NewIntakeService(repo, q, "verification-requests")
	erp := &fakeERPClient{entry: domain.JobListEntry{JobNo: "J1", FirstCheckDate: "2024-01-10"}}
	checker := usecase.NewEligibilityChecker(erp)
	return NewServer(intake, repo, checker, nil), repo, q
}

func TestVerifyHandler_Success(t *testing.T) {
	srv, _, q := newTestServer()
	body, _ := json.Marshal(verifyRequest{JobNo: "J1"})
	req := httptest.NewRequest(http.MethodPost, "/verify", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.VerifyHandler()(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d, body=%s", rec.Code, http.StatusAccepted, rec.Body.String())
	}
	if len(q.published) != 1 {
		t.Fatalf("expected one published message, got %d", len(q.published))
	}
}

func TestVerifyHandler_MissingJobNo(t *testing.T) {
	srv, _, _ := newTestServer()
	body, _ := json.Marshal(verifyRequest{})
	req := httptest.NewRequest(http.MethodPost, "/verify", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.VerifyHandler()(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestGetHandler_NotFound(t *testing.T) {
	srv, _, _ := newTestServer()
	r := chi.NewRouter()
	r.Get("/verify/{id}", srv.GetHandler())

	req := httptest.NewRequest(http.MethodGet, "/verify/missing", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestCheckEligibilityHandler(t *testing.T) {
	srv, _, _ := newTestServer()
	r := chi.NewRouter()
	r.Get("/verify/check-eligibility/{jobNo}", srv.CheckEligibilityHandler())

	req := httptest.NewRequest(http.MethodGet, "/verify/check-eligibility/J1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var resp eligibilityResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.IsEligible {
		t.Fatalf("expected eligible, got message %q", resp.Message)
	}
}
