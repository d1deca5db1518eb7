package domain

// DocumentRenderer converts a non-image document (e.g. PDF) into one or more
// page images suitable for the LLM Client's vision input. Implementations
// that pass through already-image content types are permitted to return the
// input bytes unchanged as a single page.
//
// synthetic reports whether the returned pages are a placeholder substituted
// for a document that could not be rendered (zero-length, header-invalid,
// encrypted, or a per-page render failure). Callers must not submit a
// synthetic page to the LLM Client; classification is forced to
// UnknownDocumentType with confidence 0 instead (spec: a synthetic page is
// never sent for classification).
type DocumentRenderer interface {
	RenderPages(ctx Context, contentType string, data []byte) (pages [][]byte, synthetic bool, err error)
}
