package llm

import (
	"encoding/json"
	"strings"

	"github.com/emagero/second-check/internal/domain"
)

// wireResponse mirrors the structured JSON object the LLM is instructed to
// return (spec §4.2/§4.3): {documentType, classificationConfidence,
// classificationReasoning, discrepancies[], fieldConfidences[],
// overallVerificationConfidence}.
type wireResponse struct {
	DocumentType                  string              `json:"documentType"`
	ClassificationConfidence      float64             `json:"classificationConfidence"`
	ClassificationReasoning       string              `json:"classificationReasoning"`
	Discrepancies                 []wireDiscrepancy   `json:"discrepancies"`
	FieldConfidences              []wireFieldConf     `json:"fieldConfidences"`
	OverallVerificationConfidence float64             `json:"overallVerificationConfidence"`
}

type wireDiscrepancy struct {
	Field      string `json:"field"`
	Expected   string `json:"expected"`
	Found      string `json:"found"`
	Severity   string `json:"severity"`
	Commentary string `json:"commentary"`
}

type wireFieldConf struct {
	Field      string  `json:"field"`
	Confidence float64 `json:"confidence"`
}

// keywordDocumentTypes maps a keyword found in an unparseable response to a
// best-guess document type, in priority order (spec §4.3's keyword scan:
// "sales quote", "proforma", "job shipment").
var keywordDocumentTypes = []struct {
	keyword string
	docType string
}{
	{"sales quote", "SALES_QUOTE"},
	{"proforma", "PROFORMA_INVOICE"},
	{"job shipment", "JOB_SHIPMENT"},
}

// parseModelResponse parses raw text from a model call into a
// ClassifyAndVerifyResult, trying in order: direct JSON, fenced-code JSON,
// brace-matched substring, then a keyword-scan fallback (spec §4.3).
func parseModelResponse(raw string) domain.ClassifyAndVerifyResult {
	cleaner := NewResponseCleaner()

	if res, ok := tryParseJSON(raw); ok {
		return res
	}
	if cleaned, err := cleaner.CleanJSONResponse(raw); err == nil {
		if res, ok := tryParseJSON(cleaned); ok {
			return res
		}
	}

	return keywordFallback(raw)
}

func tryParseJSON(text string) (domain.ClassifyAndVerifyResult, bool) {
	var wr wireResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &wr); err != nil {
		return domain.ClassifyAndVerifyResult{}, false
	}
	if wr.DocumentType == "" {
		return domain.ClassifyAndVerifyResult{}, false
	}

	result := domain.ClassifyAndVerifyResult{
		DocumentType:    wr.DocumentType,
		RawResponseText: text,
	}
	for _, fc := range wr.FieldConfidences {
		result.Confidences = append(result.Confidences, domain.FieldConfidence{
			Field:      fc.Field,
			Confidence: fc.Confidence,
		})
	}
	for _, d := range wr.Discrepancies {
		result.Discrepancies = append(result.Discrepancies, domain.Discrepancy{
			Field:      d.Field,
			Expected:   d.Expected,
			Found:      d.Found,
			Severity:   normalizeSeverity(d.Severity),
			Commentary: d.Commentary,
		})
	}
	return result, true
}

func normalizeSeverity(raw string) domain.Severity {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "high":
		return domain.SeverityHigh
	case "medium":
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// keywordFallback guesses a document type by scanning for known keywords
// when JSON parsing has failed entirely. Confidence is fixed at 0.5 and no
// discrepancies are produced (spec §4.3).
func keywordFallback(raw string) domain.ClassifyAndVerifyResult {
	lower := strings.ToLower(raw)
	for _, kw := range keywordDocumentTypes {
		if strings.Contains(lower, kw.keyword) {
			return domain.ClassifyAndVerifyResult{
				DocumentType: kw.docType,
				Confidences: []domain.FieldConfidence{
					{Field: "documentType", Confidence: 0.5},
				},
				RawResponseText: raw,
			}
		}
	}
	return domain.ClassifyAndVerifyResult{
		DocumentType:    "UNKNOWN",
		RawResponseText: raw,
	}
}
