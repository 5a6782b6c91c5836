package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

// Finding is one embedded chunk of a research summary.
type Finding struct {
	ID        string         `json:"id"`
	JobID     string         `json:"job_id,omitempty"`
	Query     string         `json:"query"`
	Source    string         `json:"source,omitempty"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata"`
	Embedding []float32      `json:"embedding,omitempty"`
}

// ScoredFinding is a similarity search hit.
type ScoredFinding struct {
	Finding Finding `json:"finding"`
	Score   float64 `json:"score"`
}

// SearchOptions narrows a similarity search.
type SearchOptions struct {
	TopK   int
	JobID  string
	Source string
}

// DBTX is the subset of pgxpool.Pool the store needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// FindingStore keeps findings in a pgvector table.
type FindingStore struct {
	db        DBTX
	tableName string
}

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-zA-Z0-9_]{0,62}$`)

// IsValidTableName accepts PostgreSQL identifiers made of letters, digits and
// underscores, starting with a lowercase letter or underscore.
func IsValidTableName(name string) bool {
	return tableNamePattern.MatchString(name)
}

func NewFindingStore(db DBTX, tableName string) (*FindingStore, error) {
	if !IsValidTableName(tableName) {
		return nil, fmt.Errorf("invalid table name %q: must contain only alphanumeric characters and underscores, start with a letter or underscore, and be 1-63 characters long", tableName)
	}
	return &FindingStore{db: db, tableName: tableName}, nil
}

func (s *FindingStore) table() string {
	return pgx.Identifier{s.tableName}.Sanitize()
}

// AddFindings inserts findings in a single batch.
func (s *FindingStore) AddFindings(ctx context.Context, findings []Finding) error {
	if len(findings) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (job_id, query, source, content, metadata, embedding)
		VALUES (NULLIF($1, '')::uuid, $2, $3, $4, $5, $6)
	`, s.table())

	batch := &pgx.Batch{}
	for _, f := range findings {
		metadataJSON, err := json.Marshal(f.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		batch.Queue(query, f.JobID, f.Query, f.Source, f.Content, metadataJSON, pgvector.NewVector(f.Embedding))
	}

	br := s.db.SendBatch(ctx, batch)
	defer br.Close()
	for range findings {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert finding: %w", err)
		}
	}
	return nil
}

// SimilaritySearch ranks findings by cosine similarity to the embedding.
func (s *FindingStore) SimilaritySearch(ctx context.Context, embedding []float32, opts SearchOptions) ([]ScoredFinding, error) {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	args := []any{pgvector.NewVector(embedding)}
	var where []string
	if opts.JobID != "" {
		args = append(args, opts.JobID)
		where = append(where, fmt.Sprintf("job_id = $%d::uuid", len(args)))
	}
	if opts.Source != "" {
		args = append(args, opts.Source)
		where = append(where, fmt.Sprintf("source = $%d", len(args)))
	}
	args = append(args, opts.TopK)

	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}
	query := fmt.Sprintf(`
		SELECT id, COALESCE(job_id::text, ''), query, source, content, metadata, 1 - (embedding <=> $1) AS similarity
		FROM %s
		%s
		ORDER BY embedding <=> $1
		LIMIT $%d
	`, s.table(), clause, len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute similarity search: %w", err)
	}
	defer rows.Close()

	var results []ScoredFinding
	for rows.Next() {
		var (
			f            Finding
			metadataJSON []byte
			similarity   float64
		)
		if err := rows.Scan(&f.ID, &f.JobID, &f.Query, &f.Source, &f.Content, &metadataJSON, &similarity); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &f.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		results = append(results, ScoredFinding{Finding: f, Score: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return results, nil
}

// FindingsBySource returns every finding that cites the given URL.
func (s *FindingStore) FindingsBySource(ctx context.Context, source string) ([]Finding, error) {
	query := fmt.Sprintf(`
		SELECT id, COALESCE(job_id::text, ''), query, source, content, metadata
		FROM %s
		WHERE source = $1 OR metadata->'sources' ? $1
		ORDER BY created_at
	`, s.table())
	return s.queryFindings(ctx, query, source)
}

// FindingsByMetadata returns findings matching a JSON filter. Plain keys
// match by containment; $and, $or and $not combine sub-filters.
func (s *FindingStore) FindingsByMetadata(ctx context.Context, filter map[string]any) ([]Finding, error) {
	var args []any
	where, err := compileFilter(filter, &args)
	if err != nil {
		return nil, fmt.Errorf("failed to build metadata query: %w", err)
	}
	query := fmt.Sprintf(`
		SELECT id, COALESCE(job_id::text, ''), query, source, content, metadata
		FROM %s
		WHERE %s
		ORDER BY created_at
	`, s.table(), where)
	return s.queryFindings(ctx, query, args...)
}

// DeleteJobFindings removes a job's findings so it can be re-indexed.
func (s *FindingStore) DeleteJobFindings(ctx context.Context, jobID string) (int64, error) {
	tag, err := s.db.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE job_id = $1::uuid", s.table()), jobID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete findings for job %s: %w", jobID, err)
	}
	return tag.RowsAffected(), nil
}

func (s *FindingStore) queryFindings(ctx context.Context, query string, args ...any) ([]Finding, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var findings []Finding
	for rows.Next() {
		var (
			f            Finding
			metadataJSON []byte
		)
		if err := rows.Scan(&f.ID, &f.JobID, &f.Query, &f.Source, &f.Content, &metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &f.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		findings = append(findings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return findings, nil
}

// compileFilter turns a metadata filter into a WHERE clause, appending its
// parameters to args. Keys are visited in sorted order so placeholders are
// numbered deterministically.
func compileFilter(filter map[string]any, args *[]any) (string, error) {
	if len(filter) == 0 {
		return "TRUE", nil
	}

	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var conditions []string
	for _, key := range keys {
		value := filter[key]
		switch key {
		case "$and", "$or":
			list, ok := value.([]any)
			if !ok {
				return "", fmt.Errorf("value for %s must be a list of conditions", key)
			}
			var sub []string
			for _, item := range list {
				m, ok := item.(map[string]any)
				if !ok {
					return "", fmt.Errorf("item in %s list must be a JSON object", key)
				}
				clause, err := compileFilter(m, args)
				if err != nil {
					return "", err
				}
				sub = append(sub, "("+clause+")")
			}
			if len(sub) == 0 {
				// An empty conjunction holds; an empty disjunction never does.
				if key == "$or" {
					conditions = append(conditions, "FALSE")
				}
				continue
			}
			op := " AND "
			if key == "$or" {
				op = " OR "
			}
			conditions = append(conditions, "("+strings.Join(sub, op)+")")

		case "$not":
			m, ok := value.(map[string]any)
			if !ok {
				return "", fmt.Errorf("value for $not must be a JSON object")
			}
			clause, err := compileFilter(m, args)
			if err != nil {
				return "", err
			}
			conditions = append(conditions, "NOT ("+clause+")")

		default:
			if strings.HasPrefix(key, "$") {
				return "", fmt.Errorf("unsupported operator %s", key)
			}
			pair, err := json.Marshal(map[string]any{key: value})
			if err != nil {
				return "", fmt.Errorf("failed to marshal metadata pair: %w", err)
			}
			*args = append(*args, pair)
			conditions = append(conditions, fmt.Sprintf("metadata @> $%d", len(*args)))
		}
	}

	if len(conditions) == 0 {
		return "TRUE", nil
	}
	return strings.Join(conditions, " AND "), nil
}
