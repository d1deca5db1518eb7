package usecase

import (
	"fmt"
	"log/slog"

	"github.com/emagero/second-check/internal/domain"
	obsctx "github.com/emagero/second-check/internal/observability"
)

// DocumentClassifier runs the per-document render/classify/verify pipeline
// described in spec §4.2.
type DocumentClassifier struct {
	Renderer  domain.DocumentRenderer
	LLM       domain.LLMClient
	Documents domain.DocumentRepository
}

// Process renders doc's pages, sends them to the LLM Client alongside ref,
// lifts any returned discrepancies into human-readable strings, and updates
// doc's classifiedDocumentType when currently unset. It never returns an
// error: render/LLM failures are converted into discrepancy strings so the
// Orchestrator can continue aggregating across documents (spec §7).
func (c *DocumentClassifier) Process(ctx domain.Context, doc domain.JobDocument, ref domain.ReferenceBundle) []string {
	lg := obsctx.LoggerFromContext(ctx).With(slog.String("file_name", doc.FileName))

	pages, synthetic, err := c.Renderer.RenderPages(ctx, doc.ContentType, doc.DocumentData)
	if err != nil {
		lg.Warn("document render failed", slog.Any("error", err))
		return []string{fmt.Sprintf("document %s unavailable", doc.FileName)}
	}
	if synthetic {
		lg.Warn("document could not be rendered, forcing UNKNOWN classification without calling the LLM")
		return []string{fmt.Sprintf("document %s could not be rendered and was classified UNKNOWN", doc.FileName)}
	}

	result, err := c.LLM.ClassifyAndVerify(ctx, domain.ClassifyAndVerifyRequest{
		JobNo:     doc.JobNo,
		FileName:  doc.FileName,
		Images:    pages,
		Reference: ref,
	})
	if err != nil {
		lg.Warn("LLM classify+verify exhausted", slog.Any("error", err))
		return []string{fmt.Sprintf("LLM unavailable for document %s: %v", doc.FileName, err)}
	}

	c.storeClassification(ctx, doc, result.DocumentType)

	out := make([]string, 0, len(result.Discrepancies))
	for _, d := range result.Discrepancies {
		line := fmt.Sprintf("%s: doc=%s erp=%s (%s)", d.Field, d.Found, d.Expected, d.Commentary)
		if d.Severity == domain.SeverityLow {
			line = advisoryPrefix + line
		}
		out = append(out, line)
	}
	return out
}

func (c *DocumentClassifier) storeClassification(ctx domain.Context, doc domain.JobDocument, documentType string) {
	if documentType == "" || documentType == domain.UnknownDocumentType {
		return
	}
	if doc.ClassifiedDocumentType != nil && *doc.ClassifiedDocumentType != "" && *doc.ClassifiedDocumentType != domain.UnclassifiedDocumentType {
		return
	}
	if err := c.Documents.SetClassifiedType(ctx, doc.ID, documentType); err != nil {
		obsctx.LoggerFromContext(ctx).Warn("failed to store document classification",
			slog.String("file_name", doc.FileName), slog.Any("error", err))
	}
}
