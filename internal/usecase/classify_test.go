package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/emagero/second-check/internal/domain"
)

type fakeRenderer struct {
	pages     [][]byte
	synthetic bool
	err       error
}

func (f *fakeRenderer) RenderPages(_ domain.Context, _ string, _ []byte) ([][]byte, bool, error) {
	return f.pages, f.synthetic, f.err
}

type fakeLLM struct {
	result domain.ClassifyAndVerifyResult
	err    error
	called bool
}

func (f *fakeLLM) ClassifyAndVerify(_ domain.Context, _ domain.ClassifyAndVerifyRequest) (domain.ClassifyAndVerifyResult, error) {
	f.called = true
	return f.result, f.err
}

type fakeDocumentRepo struct {
	classified map[string]string
	upsertErr  error
}

func (f *fakeDocumentRepo) Upsert(_ domain.Context, doc domain.JobDocument) (string, error) {
	return "doc-1", f.upsertErr
}
func (f *fakeDocumentRepo) SetClassifiedType(_ domain.Context, id string, classifiedType string) error {
	if f.classified == nil {
		f.classified = map[string]string{}
	}
	f.classified[id] = classifiedType
	return nil
}
func (f *fakeDocumentRepo) GetLatest(_ domain.Context, _, _ string) (domain.JobDocument, error) {
	return domain.JobDocument{}, domain.ErrNotFound
}
func (f *fakeDocumentRepo) ListByJob(_ domain.Context, _ string) ([]domain.JobDocument, error) {
	return nil, nil
}

func TestDocumentClassifier_RenderFailure(t *testing.T) {
	c := &DocumentClassifier{
		Renderer:  &fakeRenderer{err: errors.New("render boom")},
		LLM:       &fakeLLM{},
		Documents: &fakeDocumentRepo{},
	}

	out := c.Process(context.Background(), domain.JobDocument{FileName: "a.pdf"}, domain.ReferenceBundle{})
	if len(out) != 1 {
		t.Fatalf("expected one discrepancy describing the render failure, got %v", out)
	}
}

func TestDocumentClassifier_SyntheticPageForcesUnknownWithoutCallingLLM(t *testing.T) {
	llm := &fakeLLM{result: domain.ClassifyAndVerifyResult{DocumentType: domain.DocTypeSalesQuote}}
	c := &DocumentClassifier{
		Renderer:  &fakeRenderer{pages: [][]byte{{0x1}}, synthetic: true},
		LLM:       llm,
		Documents: &fakeDocumentRepo{},
	}

	out := c.Process(context.Background(), domain.JobDocument{FileName: "a.pdf"}, domain.ReferenceBundle{})
	if len(out) != 1 {
		t.Fatalf("expected one discrepancy describing the forced UNKNOWN classification, got %v", out)
	}
	if llm.called {
		t.Fatalf("expected the LLM never to be called for a synthetic page")
	}
}

func TestDocumentClassifier_LLMFailure(t *testing.T) {
	c := &DocumentClassifier{
		Renderer:  &fakeRenderer{pages: [][]byte{{0x1}}},
		LLM:       &fakeLLM{err: errors.New("llm boom")},
		Documents: &fakeDocumentRepo{},
	}

	out := c.Process(context.Background(), domain.JobDocument{FileName: "a.pdf"}, domain.ReferenceBundle{})
	if len(out) != 1 {
		t.Fatalf("expected one discrepancy describing the LLM failure, got %v", out)
	}
}

func TestDocumentClassifier_LowSeverityIsAdvisory(t *testing.T) {
	repo := &fakeDocumentRepo{}
	c := &DocumentClassifier{
		Renderer: &fakeRenderer{pages: [][]byte{{0x1}}},
		LLM: &fakeLLM{result: domain.ClassifyAndVerifyResult{
			DocumentType: domain.DocTypeSalesQuote,
			Discrepancies: []domain.Discrepancy{
				{Field: "amount", Expected: "100", Found: "100.01", Severity: domain.SeverityLow, Commentary: "rounding"},
			},
		}},
		Documents: repo,
	}

	out := c.Process(context.Background(), domain.JobDocument{ID: "doc-1", FileName: "a.pdf"}, domain.ReferenceBundle{})
	if len(out) != 1 {
		t.Fatalf("expected one discrepancy, got %v", out)
	}
	if out[0][:10] != "[advisory]" {
		t.Fatalf("expected advisory prefix, got %q", out[0])
	}
	if repo.classified["doc-1"] != domain.DocTypeSalesQuote {
		t.Fatalf("expected classification to be stored, got %v", repo.classified)
	}
}

func TestDocumentClassifier_HighSeverityIsBlocking(t *testing.T) {
	c := &DocumentClassifier{
		Renderer: &fakeRenderer{pages: [][]byte{{0x1}}},
		LLM: &fakeLLM{result: domain.ClassifyAndVerifyResult{
			DocumentType: domain.DocTypeSalesQuote,
			Discrepancies: []domain.Discrepancy{
				{Field: "customer", Expected: "Acme", Found: "Acme2", Severity: domain.SeverityHigh, Commentary: "mismatch"},
			},
		}},
		Documents: &fakeDocumentRepo{},
	}

	out := c.Process(context.Background(), domain.JobDocument{FileName: "a.pdf"}, domain.ReferenceBundle{})
	if len(out) != 1 {
		t.Fatalf("expected one discrepancy, got %v", out)
	}
	if len(out[0]) >= 10 && out[0][:10] == "[advisory]" {
		t.Fatalf("expected blocking discrepancy without advisory prefix, got %q", out[0])
	}
}

func TestDocumentClassifier_DoesNotOverwriteExistingClassification(t *testing.T) {
	repo := &fakeDocumentRepo{}
	c := &DocumentClassifier{
		Renderer:  &fakeRenderer{pages: [][]byte{{0x1}}},
		LLM:       &fakeLLM{result: domain.ClassifyAndVerifyResult{DocumentType: domain.DocTypeJobConsumption}},
		Documents: repo,
	}

	existing := domain.DocTypeSalesQuote
	c.Process(context.Background(), domain.JobDocument{ID: "doc-1", FileName: "a.pdf", ClassifiedDocumentType: &existing}, domain.ReferenceBundle{})

	if _, ok := repo.classified["doc-1"]; ok {
		t.Fatalf("expected classification to remain unchanged, got %v", repo.classified)
	}
}
