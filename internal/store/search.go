package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/axiomme/axiomme/pkg/types"
)

// UpsertSearchDocument transactionally upserts the row, replaces its tag
// rows, and re-syncs the FTS row keyed by rowid.
func (s *Store) UpsertSearchDocument(ctx context.Context, r types.IndexRecord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var rowid int64
		err := tx.QueryRowContext(ctx, `SELECT rowid FROM search_docs WHERE uri = ?`, r.URI).Scan(&rowid)
		switch {
		case err == sql.ErrNoRows:
			res, err := tx.ExecContext(ctx, `
				INSERT INTO search_docs (uri, parent_uri, is_leaf, context_type, name, abstract_text, content, depth, mime_type, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				r.URI, nullable(r.ParentURI), boolToInt(r.IsLeaf), r.ContextType, r.Name, r.AbstractText, r.Content, r.Depth, r.MimeType, r.UpdatedAt)
			if err != nil {
				return fmt.Errorf("insert search doc: %w", err)
			}
			rowid, err = res.LastInsertId()
			if err != nil {
				return err
			}
		case err != nil:
			return fmt.Errorf("lookup search doc: %w", err)
		default:
			if _, err := tx.ExecContext(ctx, `DELETE FROM search_docs_fts WHERE rowid = ?`, rowid); err != nil {
				return fmt.Errorf("delete fts row: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE search_docs SET parent_uri=?, is_leaf=?, context_type=?, name=?, abstract_text=?, content=?, depth=?, mime_type=?, updated_at=?
				WHERE rowid = ?`,
				nullable(r.ParentURI), boolToInt(r.IsLeaf), r.ContextType, r.Name, r.AbstractText, r.Content, r.Depth, r.MimeType, r.UpdatedAt, rowid); err != nil {
				return fmt.Errorf("update search doc: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM search_doc_tags WHERE doc_rowid = ?`, rowid); err != nil {
				return fmt.Errorf("delete tag rows: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO search_docs_fts (rowid, name, abstract_text, content) VALUES (?, ?, ?, ?)`,
			rowid, r.Name, r.AbstractText, r.Content); err != nil {
			return fmt.Errorf("insert fts row: %w", err)
		}

		for _, tag := range r.Tags {
			if _, err := tx.ExecContext(ctx, `INSERT INTO search_doc_tags (doc_rowid, tag) VALUES (?, ?)`, rowid, tag); err != nil {
				return fmt.Errorf("insert tag row: %w", err)
			}
		}
		return nil
	})
}

// RemoveSearchDocumentsWithPrefix matches uri = p OR uri LIKE p||'/%' and
// prunes matching rows (and their tags/FTS rows via cascade/explicit
// delete) in one transaction.
func (s *Store) RemoveSearchDocumentsWithPrefix(ctx context.Context, prefix string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT rowid FROM search_docs WHERE uri = ? OR uri LIKE ? || '/%'`, prefix, prefix)
		if err != nil {
			return fmt.Errorf("select prefix matches: %w", err)
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `DELETE FROM search_docs_fts WHERE rowid = ?`, id); err != nil {
				return fmt.Errorf("delete fts row %d: %w", id, err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM search_doc_tags WHERE doc_rowid = ?`, id); err != nil {
				return fmt.Errorf("delete tags %d: %w", id, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM search_docs WHERE uri = ? OR uri LIKE ? || '/%'`, prefix, prefix); err != nil {
			return fmt.Errorf("delete search docs: %w", err)
		}
		return nil
	})
}

// SearchDocumentsFTS tokenises query into an OR-query over FTS5, applies
// prefix/mime/tag/depth filters, and normalises bm25 rank into [0,1] as
// (max-rank)/(max-min) across the returned page.
func (s *Store) SearchDocumentsFTS(ctx context.Context, query string, filter types.Filter, limit int) ([]types.ScoredHit, error) {
	tokens := tokenizeOrQuery(query)
	if tokens == "" {
		return nil, nil
	}

	sqlQuery := `
		SELECT sd.uri, sd.depth, bm25(search_docs_fts) AS rank
		FROM search_docs_fts
		JOIN search_docs sd ON sd.rowid = search_docs_fts.rowid
		WHERE search_docs_fts MATCH ?`
	args := []any{tokens}

	if filter.TargetURI != "" {
		sqlQuery += ` AND (sd.uri = ? OR sd.uri LIKE ? || '/%')`
		args = append(args, filter.TargetURI, filter.TargetURI)
	}
	if filter.Mime != "" {
		sqlQuery += ` AND sd.mime_type = ?`
		args = append(args, filter.Mime)
	}
	if filter.MaxDepth > 0 {
		sqlQuery += ` AND sd.depth <= ?`
		args = append(args, filter.MaxDepth)
	}
	for _, tag := range filter.Tags {
		sqlQuery += ` AND EXISTS (SELECT 1 FROM search_doc_tags t WHERE t.doc_rowid = sd.rowid AND t.tag = ?)`
		args = append(args, tag)
	}
	sqlQuery += ` ORDER BY rank LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	defer rows.Close()

	type raw struct {
		uri   string
		depth int
		rank  float64
	}
	var results []raw
	minRank, maxRank := 0.0, 0.0
	first := true
	for rows.Next() {
		var r raw
		if err := rows.Scan(&r.uri, &r.depth, &r.rank); err != nil {
			return nil, fmt.Errorf("scan fts row: %w", err)
		}
		results = append(results, r)
		if first || r.rank < minRank {
			minRank = r.rank
		}
		if first || r.rank > maxRank {
			maxRank = r.rank
		}
		first = false
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hits := make([]types.ScoredHit, 0, len(results))
	spread := maxRank - minRank
	for _, r := range results {
		norm := 1.0
		if spread > 0 {
			norm = (maxRank - r.rank) / spread
		}
		hits = append(hits, types.ScoredHit{URI: r.uri, Score: norm, Depth: r.depth})
	}
	return hits, nil
}

func tokenizeOrQuery(q string) string {
	fields := strings.Fields(q)
	if len(fields) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		if f == "" {
			continue
		}
		quoted = append(quoted, `"`+f+`"`)
	}
	return strings.Join(quoted, " OR ")
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
