package domain

// JobListEntry is the ERP metadata row for one job, including first/second
// check dates and users. Consumed by the Eligibility Checker.
type JobListEntry struct {
	JobNo         string
	JobTitle      string
	CustomerName  string
	FirstCheckDate string
	SecondCheckBy  string
}

// LedgerEntry anchors a job's financial activity in the ERP.
type LedgerEntry struct {
	EntryNo     string
	JobNo       string
	PostingDate string
	Description string
	Amount      float64
}

// SalesQuoteLine is one line of a Sales Quote.
type SalesQuoteLine struct {
	LineNo      string
	Description string
	Quantity    float64
	UnitPrice   float64
}

// SalesQuoteHeader plus its lines form the Sales Quote bundle.
type SalesQuoteHeader struct {
	No           string
	JobNo        string
	CustomerName string
	DocumentDate string
	Lines        []SalesQuoteLine
}

// SalesInvoiceHeader is the Proforma/Sales Invoice bundle.
type SalesInvoiceHeader struct {
	No           string
	JobNo        string
	CustomerName string
	DocumentDate string
	Amount       float64
}

// JobAttachmentLinks is the comma-separated URL list the ERP exposes for a
// job's attached documents.
type JobAttachmentLinks struct {
	JobNo string
	URLs  []string
}

// ReferenceBundle is the structured ERP reference data fed to the LLM for
// comparison against a document. Individual fields may be nil/zero when that
// bundle could not be fetched (spec: tolerate per-bundle failure).
type ReferenceBundle struct {
	Ledger  *LedgerEntry
	Quote   *SalesQuoteHeader
	Invoice *SalesInvoiceHeader
}

// ERPKind enumerates the typed failure categories an ERPClient call can
// surface.
type ERPKind string

const (
	ERPNotFound  ERPKind = "NOT_FOUND"
	ERPAuth      ERPKind = "AUTH"
	ERPTimeout   ERPKind = "TIMEOUT"
	ERPTransport ERPKind = "TRANSPORT"
	ERPParse     ERPKind = "PARSE"
)

// ERPError wraps a typed ERP failure.
type ERPError struct {
	Kind ERPKind
	Op   string
	Err  error
}

func (e *ERPError) Error() string {
	if e.Err == nil {
		return string(e.Kind) + ": " + e.Op
	}
	return string(e.Kind) + ": " + e.Op + ": " + e.Err.Error()
}

func (e *ERPError) Unwrap() error { return e.Err }

// DownloadedDocument is the result of ERPClient.DownloadDocument.
type DownloadedDocument struct {
	Bytes       []byte
	ContentType string
	FileName    string
}

// ERPClient is the port over Business Central. All operations are idempotent
// and side-effect-free except UpdateVerificationFields.
type ERPClient interface {
	FetchJobListEntry(ctx Context, jobNo string) (JobListEntry, error)
	// FetchLedgerEntries returns ledger entries for jobNo, in ERP order.
	// Implementations may stream; callers only need the first entry.
	FetchLedgerEntries(ctx Context, jobNo string) ([]LedgerEntry, error)
	FetchSalesQuote(ctx Context, no string) (SalesQuoteHeader, error)
	FetchSalesInvoice(ctx Context, no string) (SalesInvoiceHeader, error)
	FetchAttachmentLinks(ctx Context, jobNo string) (JobAttachmentLinks, error)
	DownloadDocument(ctx Context, url string) (DownloadedDocument, error)
}
