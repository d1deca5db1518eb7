package domain

import "time"

// UnclassifiedDocumentType is the sentinel documentType used before an
// attachment has been classified by the LLM Client.
const UnclassifiedDocumentType = "UNCLASSIFIED"

// UnknownDocumentType is returned by the LLM Client when classification
// could not be determined (e.g. a synthetic error page, or model exhaustion).
const UnknownDocumentType = "UNKNOWN"

// Recognized document types.
const (
	DocTypeSalesQuote      = "SALES_QUOTE"
	DocTypeProformaInvoice = "PROFORMA_INVOICE"
	DocTypeJobConsumption  = "JOB_CONSUMPTION"
)

// JobDocument is one row per (jobNo, fileName): an attachment pulled from the
// ERP's document store.
//
// Invariant: uniqueness on (jobNo, fileName). saveOrUpdate/Upsert replaces
// the blob and metadata but never clears an existing classifiedDocumentType.
type JobDocument struct {
	ID                     string
	JobNo                  string
	DocumentType           string
	ClassifiedDocumentType *string
	FileName               string
	ContentType            string
	DocumentData           []byte
	SourceURL              string
	CreatedAt              time.Time
}

// DocumentRepository persists JobDocument blobs keyed by (jobNo, fileName).
type DocumentRepository interface {
	// Upsert inserts a new JobDocument, or if (jobNo, fileName) already
	// exists, replaces documentType/documentData/contentType/sourceUrl and
	// sets classifiedDocumentType only if newClassifiedType is non-empty and
	// the existing value is currently empty/UNCLASSIFIED (it is never
	// cleared). Returns the row's id.
	Upsert(ctx Context, doc JobDocument) (string, error)
	// SetClassifiedType updates classifiedDocumentType for a document unless
	// it is already set to a recognized (non-UNCLASSIFIED) type.
	SetClassifiedType(ctx Context, id string, classifiedType string) error
	// GetLatest returns the highest-id row for jobNo whose documentType or
	// classifiedDocumentType equals typeOrClassifiedType (trimmed before
	// lookup), or ErrNotFound.
	GetLatest(ctx Context, jobNo, typeOrClassifiedType string) (JobDocument, error)
	// ListByJob returns every JobDocument row for jobNo.
	ListByJob(ctx Context, jobNo string) ([]JobDocument, error)
}
