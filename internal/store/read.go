package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quantuminterface/qicode/internal/qicode"
)

// Build is one archived build record.
type Build struct {
	ID          string
	CreatedAt   time.Time
	Name        string
	CellCount   int
	Diagnostics []qicode.Diagnostic
	Programs    []Program
}

// Program is one archived cell program.
type Program struct {
	CellIndex   int
	Words       []uint32
	Listing     []string
	ResultOrder []string
}

// BuildSummary is the list view of a build.
type BuildSummary struct {
	ID        string
	CreatedAt time.Time
	Name      string
	CellCount int
}

// LoadBuild reads one build with all its programs back out of the
// archive.
func (s *Store) LoadBuild(ctx context.Context, id string) (*Build, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, job_name, cell_count, diagnostics_json
		FROM builds WHERE id = ?
	`, id)

	var b Build
	var createdAt, diagsJSON string
	err := row.Scan(&b.ID, &createdAt, &b.Name, &b.CellCount, &diagsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &qicode.Error{
			Code:    qicode.CodeStoreFailed,
			Message: fmt.Sprintf("build %s is not in the archive", id),
		}
	}
	if err != nil {
		return nil, fmt.Errorf("load build: %w", err)
	}
	if b.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("load build: %w", err)
	}
	if b.Diagnostics, err = unmarshalDiagnostics(diagsJSON); err != nil {
		return nil, fmt.Errorf("load build: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT cell_index, words, listing, result_order
		FROM programs WHERE build_id = ? ORDER BY cell_index
	`, id)
	if err != nil {
		return nil, fmt.Errorf("load build: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p Program
		var words []byte
		var listing, orderJSON string
		if err := rows.Scan(&p.CellIndex, &words, &listing, &orderJSON); err != nil {
			return nil, fmt.Errorf("load build: %w", err)
		}
		if p.Words, err = decodeWords(words); err != nil {
			return nil, fmt.Errorf("load build: %w", err)
		}
		if listing != "" {
			p.Listing = strings.Split(listing, "\n")
		}
		if p.ResultOrder, err = unmarshalResultOrder(orderJSON); err != nil {
			return nil, fmt.Errorf("load build: %w", err)
		}
		b.Programs = append(b.Programs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load build: %w", err)
	}
	return &b, nil
}

// ListBuilds returns the newest builds first. A non-positive limit
// returns everything.
func (s *Store) ListBuilds(ctx context.Context, limit int) ([]BuildSummary, error) {
	query := `
		SELECT id, created_at, job_name, cell_count
		FROM builds ORDER BY created_at DESC, id
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list builds: %w", err)
	}
	defer rows.Close()

	var out []BuildSummary
	for rows.Next() {
		var b BuildSummary
		var createdAt string
		if err := rows.Scan(&b.ID, &createdAt, &b.Name, &b.CellCount); err != nil {
			return nil, fmt.Errorf("list builds: %w", err)
		}
		if b.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("list builds: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list builds: %w", err)
	}
	return out, nil
}
