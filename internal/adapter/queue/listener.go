package queue

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/emagero/second-check/internal/domain"
)

// rawVerificationMessage mirrors the wire shape {verificationRequestId, jobNo}.
type rawVerificationMessage struct {
	VerificationRequestID string `json:"verificationRequestId"`
	JobNo                 string `json:"jobNo"`
}

// parseVerificationMessage decodes a queue message body into a
// VerificationTaskPayload (spec §4.6). It tolerates three wire shapes:
//
//  1. a direct JSON object {verificationRequestId, jobNo}
//  2. a JSON string whose value, once parsed again, is that same object
//     (double-encoded; "pre-existing and must be tolerated", spec §9)
//  3. a bare JSON string holding only a job number (legacy manual-trigger
//     shorthand, SPEC_FULL §4 resolved Open Question) — returned with an
//     empty VerificationID so the caller mints a fresh PENDING request.
//
// Any other shape is a parse failure; the caller routes it to the
// dead-letter sink without rethrowing (spec §4.6).
func parseVerificationMessage(raw []byte) (domain.VerificationTaskPayload, error) {
	var direct rawVerificationMessage
	if err := json.Unmarshal(raw, &direct); err == nil && direct.JobNo != "" {
		return domain.VerificationTaskPayload{
			JobNo:          strings.TrimSpace(direct.JobNo),
			VerificationID: strings.TrimSpace(direct.VerificationRequestID),
		}, nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		var inner rawVerificationMessage
		if err := json.Unmarshal([]byte(asString), &inner); err == nil && inner.JobNo != "" {
			return domain.VerificationTaskPayload{
				JobNo:          strings.TrimSpace(inner.JobNo),
				VerificationID: strings.TrimSpace(inner.VerificationRequestID),
			}, nil
		}
		if jobNo := strings.TrimSpace(asString); jobNo != "" {
			return domain.VerificationTaskPayload{JobNo: jobNo}, nil
		}
	}

	return domain.VerificationTaskPayload{}, fmt.Errorf("unrecognized verification message shape: %s", truncate(raw, 200))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
