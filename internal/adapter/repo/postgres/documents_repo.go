package postgres

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/emagero/second-check/internal/domain"
)

// DocumentRepo persists JobDocument blobs keyed by (jobNo, fileName).
type DocumentRepo struct{ Pool PgxPool }

// NewDocumentRepo constructs a DocumentRepo with the given pool.
func NewDocumentRepo(p PgxPool) *DocumentRepo { return &DocumentRepo{Pool: p} }

// Upsert inserts a new JobDocument, or if (jobNo, fileName) already exists,
// replaces documentType/documentData/contentType/sourceUrl. An existing
// non-null, non-UNCLASSIFIED classifiedDocumentType is preserved; a new
// classification is applied only when the caller supplies one and the
// existing value is empty or UNCLASSIFIED.
func (r *DocumentRepo) Upsert(ctx domain.Context, doc domain.JobDocument) (string, error) {
	tracer := otel.Tracer("repo.job_documents")
	ctx, span := tracer.Start(ctx, "job_documents.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPSERT"),
		attribute.String("db.sql.table", "job_documents"),
	)

	id := doc.ID
	if id == "" {
		id = uuid.New().String()
	}
	var newClassified *string
	if doc.ClassifiedDocumentType != nil && strings.TrimSpace(*doc.ClassifiedDocumentType) != "" {
		newClassified = doc.ClassifiedDocumentType
	}

	q := `INSERT INTO job_documents (id, job_no, document_type, classified_document_type, file_name, content_type, document_data, source_url, created_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	      ON CONFLICT (job_no, file_name) DO UPDATE SET
	        document_type = EXCLUDED.document_type,
	        document_data = EXCLUDED.document_data,
	        content_type = EXCLUDED.content_type,
	        source_url = EXCLUDED.source_url,
	        classified_document_type = CASE
	          WHEN job_documents.classified_document_type IS NOT NULL
	               AND job_documents.classified_document_type <> $10
	          THEN job_documents.classified_document_type
	          ELSE COALESCE(EXCLUDED.classified_document_type, job_documents.classified_document_type)
	        END
	      RETURNING id`
	row := r.Pool.QueryRow(ctx, q, id, doc.JobNo, doc.DocumentType, newClassified, doc.FileName, doc.ContentType,
		doc.DocumentData, doc.SourceURL, time.Now().UTC(), domain.UnclassifiedDocumentType)
	var returnedID string
	if err := row.Scan(&returnedID); err != nil {
		return "", fmt.Errorf("op=document.upsert: %w", err)
	}
	return returnedID, nil
}

// SetClassifiedType updates classifiedDocumentType for a document unless it
// is already set to a recognized (non-UNCLASSIFIED) type.
func (r *DocumentRepo) SetClassifiedType(ctx domain.Context, id string, classifiedType string) error {
	tracer := otel.Tracer("repo.job_documents")
	ctx, span := tracer.Start(ctx, "job_documents.SetClassifiedType")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "job_documents"),
	)
	q := `UPDATE job_documents SET classified_document_type=$2
	      WHERE id=$1 AND (classified_document_type IS NULL OR classified_document_type=$3)`
	if _, err := r.Pool.Exec(ctx, q, id, classifiedType, domain.UnclassifiedDocumentType); err != nil {
		return fmt.Errorf("op=document.set_classified_type: %w", err)
	}
	return nil
}

// GetLatest returns the highest-id row for jobNo whose documentType or
// classifiedDocumentType equals typeOrClassifiedType, trimmed before lookup.
func (r *DocumentRepo) GetLatest(ctx domain.Context, jobNo, typeOrClassifiedType string) (domain.JobDocument, error) {
	tracer := otel.Tracer("repo.job_documents")
	ctx, span := tracer.Start(ctx, "job_documents.GetLatest")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "job_documents"),
	)
	jobNo = strings.TrimSpace(jobNo)
	typeOrClassifiedType = strings.TrimSpace(typeOrClassifiedType)
	q := `SELECT id, job_no, document_type, classified_document_type, file_name, content_type, document_data, source_url, created_at
	      FROM job_documents
	      WHERE job_no=$1 AND (document_type=$2 OR classified_document_type=$2)
	      ORDER BY id DESC LIMIT 1`
	return scanDocument(r.Pool.QueryRow(ctx, q, jobNo, typeOrClassifiedType))
}

// ListByJob returns every JobDocument row for jobNo.
func (r *DocumentRepo) ListByJob(ctx domain.Context, jobNo string) ([]domain.JobDocument, error) {
	tracer := otel.Tracer("repo.job_documents")
	ctx, span := tracer.Start(ctx, "job_documents.ListByJob")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "job_documents"),
	)
	q := `SELECT id, job_no, document_type, classified_document_type, file_name, content_type, document_data, source_url, created_at
	      FROM job_documents WHERE job_no=$1 ORDER BY id`
	rows, err := r.Pool.Query(ctx, q, jobNo)
	if err != nil {
		return nil, fmt.Errorf("op=document.list_by_job: %w", err)
	}
	defer rows.Close()

	var docs []domain.JobDocument
	for rows.Next() {
		doc, err := scanDocumentRows(rows)
		if err != nil {
			return nil, fmt.Errorf("op=document.list_by_job.scan: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=document.list_by_job.rows: %w", err)
	}
	return docs, nil
}

func scanDocument(row pgx.Row) (domain.JobDocument, error) {
	var doc domain.JobDocument
	var classified *string
	if err := row.Scan(&doc.ID, &doc.JobNo, &doc.DocumentType, &classified, &doc.FileName, &doc.ContentType, &doc.DocumentData, &doc.SourceURL, &doc.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.JobDocument{}, fmt.Errorf("op=document.get: %w", domain.ErrNotFound)
		}
		return domain.JobDocument{}, fmt.Errorf("op=document.get: %w", err)
	}
	doc.ClassifiedDocumentType = classified
	return doc, nil
}

func scanDocumentRows(rows pgx.Rows) (domain.JobDocument, error) {
	var doc domain.JobDocument
	var classified *string
	if err := rows.Scan(&doc.ID, &doc.JobNo, &doc.DocumentType, &classified, &doc.FileName, &doc.ContentType, &doc.DocumentData, &doc.SourceURL, &doc.CreatedAt); err != nil {
		return domain.JobDocument{}, err
	}
	doc.ClassifiedDocumentType = classified
	return doc, nil
}
