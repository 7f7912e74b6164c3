package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

// DocumentRepository is the Postgres lifecycle store. Each mutation runs in a
// single transaction together with its audit log row.
type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

const documentColumns = `id, filename, fingerprint, source, sender, uploaded_by, storage_path, routed_path, status, credibility_score, error_message, created_at, updated_at`

// CreateOrGet inserts doc unless its fingerprint is already stored, in which
// case the existing record is returned with created=false.
func (r *DocumentRepository) CreateOrGet(ctx context.Context, doc *domain.Document) (*domain.Document, bool, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = domain.StatusNew
	}

	var out *domain.Document
	created := false
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
INSERT INTO documents (`+documentColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (fingerprint) DO NOTHING
`,
			doc.ID, doc.Filename, doc.Fingerprint, string(doc.Source), doc.Sender, doc.UploadedBy, doc.StoragePath,
			doc.RoutedPath, string(doc.Status), doc.CredibilityScore, doc.Error, doc.CreatedAt, doc.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert document: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert document rows affected: %w", err)
		}
		if affected == 0 {
			existing, err := scanDocument(tx.QueryRowContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE fingerprint = $1
`, doc.Fingerprint))
			if err != nil {
				return fmt.Errorf("load existing document: %w", err)
			}
			out = existing
			return nil
		}

		if err := insertLog(ctx, tx, doc.ID, domain.ActionIngested, fmt.Sprintf("Document %s ingested from %s", doc.Filename, doc.Source)); err != nil {
			return err
		}
		copyDoc := *doc
		out = &copyDoc
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	doc, err := scanDocument(r.db.QueryRowContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE id = $1
`, id))
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *DocumentRepository) RecordExtraction(ctx context.Context, documentID string, extraction domain.Extraction) error {
	pagesJSON, err := json.Marshal(extraction.Pages)
	if err != nil {
		return fmt.Errorf("marshal pages: %w", err)
	}
	metaJSON, err := json.Marshal(extraction.Metadata)
	if err != nil {
		return fmt.Errorf("marshal extraction metadata: %w", err)
	}
	if extraction.ID == "" {
		extraction.ID = uuid.NewString()
	}
	if extraction.ExtractedAt.IsZero() {
		extraction.ExtractedAt = time.Now().UTC()
	}

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := transition(ctx, tx, documentID, domain.StatusExtracted, ""); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE extractions SET active = FALSE
WHERE document_id = $1 AND active
`, documentID); err != nil {
			return fmt.Errorf("deactivate previous extraction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO extractions (id, document_id, extracted_text, pages, word_count, metadata, active, created_at)
VALUES ($1,$2,$3,$4,$5,$6,TRUE,$7)
`, extraction.ID, documentID, extraction.Text, pagesJSON, extraction.WordCount, metaJSON, extraction.ExtractedAt); err != nil {
			return fmt.Errorf("insert extraction: %w", err)
		}
		return insertLog(ctx, tx, documentID, domain.ActionExtracted,
			fmt.Sprintf("Document extracted with %d words", extraction.WordCount))
	})
}

func (r *DocumentRepository) RecordClassification(ctx context.Context, documentID string, result domain.ClassificationResult) error {
	var hintJSON any
	if result.Hint != nil {
		raw, err := json.Marshal(result.Hint)
		if err != nil {
			return fmt.Errorf("marshal rule hint: %w", err)
		}
		hintJSON = raw
	}
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := transition(ctx, tx, documentID, domain.StatusClassified, ""); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO classifications (id, document_id, classifier_type, category, confidence, rationale, rule_hint, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`, result.ID, documentID, string(result.Source), result.Category, result.Confidence, result.Rationale, hintJSON, result.CreatedAt); err != nil {
			return fmt.Errorf("insert classification: %w", err)
		}
		return insertLog(ctx, tx, documentID, domain.ActionClassified,
			fmt.Sprintf("Document classified as %s", result.Category))
	})
}

// RecordRouting appends the routing log and, on success, advances the
// document to routed and stores the routed location when one was produced.
func (r *DocumentRepository) RecordRouting(ctx context.Context, documentID string, entry domain.RoutingLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := lockDocument(ctx, tx, documentID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO routing_logs (id, document_id, rule_id, file_name, file_path, doc_type, destination, status, message, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`, entry.ID, documentID, nullableString(entry.RuleID), entry.FileName, nullableString(entry.FilePath), entry.DocType,
			nullableString(entry.Destination), string(entry.Status), entry.Message, entry.CreatedAt); err != nil {
			return fmt.Errorf("insert routing log: %w", err)
		}

		action := domain.ActionRoutingFailed
		switch entry.Status {
		case domain.RoutingSuccess:
			action = domain.ActionRouted
			if entry.FilePath != nil && *entry.FilePath != "" {
				if _, err := tx.ExecContext(ctx, `
UPDATE documents SET routed_path = $2, updated_at = $3
WHERE id = $1
`, documentID, *entry.FilePath, time.Now().UTC()); err != nil {
					return fmt.Errorf("update routed path: %w", err)
				}
			}
			if err := transition(ctx, tx, documentID, domain.StatusRouted, ""); err != nil {
				return err
			}
		case domain.RoutingNoRule:
			action = domain.ActionNoRule
		}

		message := entry.Message
		if message == "" {
			message = fmt.Sprintf("Document routed with status %s", entry.Status)
		}
		return insertLog(ctx, tx, documentID, action, message)
	})
}

func (r *DocumentRepository) MarkFailed(ctx context.Context, documentID, reason string) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := transition(ctx, tx, documentID, domain.StatusFailed, reason); err != nil {
			return err
		}
		return insertLog(ctx, tx, documentID, domain.ActionFailed, reason)
	})
}

func (r *DocumentRepository) AppendLog(ctx context.Context, documentID, action, message string) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		return insertLog(ctx, tx, documentID, action, message)
	})
}

func (r *DocumentRepository) ActiveExtraction(ctx context.Context, documentID string) (*domain.Extraction, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, document_id, extracted_text, pages, word_count, metadata, active, created_at
FROM extractions
WHERE document_id = $1 AND active
`, documentID)

	var ext domain.Extraction
	var pagesRaw, metaRaw []byte
	if err := row.Scan(&ext.ID, &ext.DocumentID, &ext.Text, &pagesRaw, &ext.WordCount, &metaRaw, &ext.Active, &ext.ExtractedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "active extraction", fmt.Errorf("document %s has no active extraction", documentID))
		}
		return nil, fmt.Errorf("scan extraction: %w", err)
	}
	if err := json.Unmarshal(pagesRaw, &ext.Pages); err != nil {
		return nil, fmt.Errorf("unmarshal pages: %w", err)
	}
	if err := json.Unmarshal(metaRaw, &ext.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal extraction metadata: %w", err)
	}
	return &ext, nil
}

func (r *DocumentRepository) LatestClassification(ctx context.Context, documentID string) (*domain.ClassificationResult, error) {
	results, err := r.queryClassifications(ctx, `
SELECT id, document_id, classifier_type, category, confidence, rationale, rule_hint, created_at
FROM classifications
WHERE document_id = $1
ORDER BY created_at DESC
LIMIT 1
`, documentID)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return &results[0], nil
}

func (r *DocumentRepository) ListClassifications(ctx context.Context, documentID string) ([]domain.ClassificationResult, error) {
	return r.queryClassifications(ctx, `
SELECT id, document_id, classifier_type, category, confidence, rationale, rule_hint, created_at
FROM classifications
WHERE document_id = $1
ORDER BY created_at ASC
`, documentID)
}

func (r *DocumentRepository) queryClassifications(ctx context.Context, query, documentID string) ([]domain.ClassificationResult, error) {
	rows, err := r.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("query classifications: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ClassificationResult, 0)
	for rows.Next() {
		var res domain.ClassificationResult
		var source string
		var hintRaw []byte
		if err := rows.Scan(&res.ID, &res.DocumentID, &source, &res.Category, &res.Confidence, &res.Rationale, &hintRaw, &res.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan classification: %w", err)
		}
		res.Source = domain.ClassifierSource(source)
		if len(hintRaw) > 0 && string(hintRaw) != "null" {
			var hint domain.RuleHint
			if err := json.Unmarshal(hintRaw, &hint); err != nil {
				return nil, fmt.Errorf("unmarshal rule hint: %w", err)
			}
			res.Hint = &hint
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate classifications: %w", err)
	}
	return out, nil
}

func (r *DocumentRepository) ListRoutingLogs(ctx context.Context, documentID string) ([]domain.RoutingLog, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, document_id, rule_id, file_name, file_path, doc_type, destination, status, message, created_at
FROM routing_logs
WHERE document_id = $1
ORDER BY created_at ASC
`, documentID)
	if err != nil {
		return nil, fmt.Errorf("query routing logs: %w", err)
	}
	defer rows.Close()

	out := make([]domain.RoutingLog, 0)
	for rows.Next() {
		var entry domain.RoutingLog
		var ruleID, filePath, destination sql.NullString
		var status string
		if err := rows.Scan(&entry.ID, &entry.DocumentID, &ruleID, &entry.FileName, &filePath, &entry.DocType,
			&destination, &status, &entry.Message, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan routing log: %w", err)
		}
		entry.RuleID = stringPtr(ruleID)
		entry.FilePath = stringPtr(filePath)
		entry.Destination = stringPtr(destination)
		entry.Status = domain.RoutingStatus(status)
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate routing logs: %w", err)
	}
	return out, nil
}

func (r *DocumentRepository) ListAudit(ctx context.Context, documentID string) ([]domain.AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, document_id, action, message, created_at
FROM logs
WHERE document_id = $1
ORDER BY created_at ASC
`, documentID)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	out := make([]domain.AuditEntry, 0)
	for rows.Next() {
		var entry domain.AuditEntry
		if err := rows.Scan(&entry.ID, &entry.DocumentID, &entry.Action, &entry.Message, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit log: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var doc domain.Document
	var source, status string
	err := row.Scan(
		&doc.ID, &doc.Filename, &doc.Fingerprint, &source, &doc.Sender, &doc.UploadedBy, &doc.StoragePath,
		&doc.RoutedPath, &status, &doc.CredibilityScore, &doc.Error, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", err)
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	doc.Source = domain.SourceKind(source)
	doc.Status = domain.DocumentStatus(status)
	return &doc, nil
}

func lockDocument(ctx context.Context, tx *sql.Tx, documentID string) (domain.DocumentStatus, error) {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = $1 FOR UPDATE`, documentID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.WrapError(domain.ErrDocumentNotFound, "lock document", fmt.Errorf("document %s", documentID))
		}
		return "", fmt.Errorf("lock document: %w", err)
	}
	return domain.DocumentStatus(status), nil
}

// transition enforces the lifecycle state machine inside tx.
func transition(ctx context.Context, tx *sql.Tx, documentID string, to domain.DocumentStatus, errMessage string) error {
	from, err := lockDocument(ctx, tx, documentID)
	if err != nil {
		return err
	}
	if !domain.CanTransition(from, to) {
		return domain.WrapError(domain.ErrInvalidTransition, "update status", fmt.Errorf("%s -> %s", from, to))
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE documents SET status = $2, error_message = $3, updated_at = $4
WHERE id = $1
`, documentID, string(to), errMessage, time.Now().UTC()); err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	return nil
}

func insertLog(ctx context.Context, tx *sql.Tx, documentID, action, message string) error {
	if _, err := tx.ExecContext(ctx, `
INSERT INTO logs (id, document_id, action, message, created_at)
VALUES ($1,$2,$3,$4,$5)
`, uuid.NewString(), documentID, action, message, time.Now().UTC()); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
