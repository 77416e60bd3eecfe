package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/quantuminterface/qicode/internal/compiler"
)

// SaveBuild archives one compiled job. Saving the same build twice is
// idempotent; the first record wins.
func (s *Store) SaveBuild(ctx context.Context, cj *compiler.CompiledJob) error {
	diagsJSON, err := marshalDiagnostics(cj.Diagnostics)
	if err != nil {
		return fmt.Errorf("save build: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save build: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO builds (id, created_at, job_name, cell_count, diagnostics_json)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		cj.BuildID.String(),
		cj.CreatedAt.UTC().Format(time.RFC3339Nano),
		cj.Name,
		len(cj.Programs),
		diagsJSON,
	)
	if err != nil {
		return fmt.Errorf("save build: %w", err)
	}

	for i, p := range cj.Programs {
		var order []string
		if i < len(cj.ResultOrders) {
			order = cj.ResultOrders[i]
		}
		orderJSON, err := marshalResultOrder(order)
		if err != nil {
			return fmt.Errorf("save build: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO programs (build_id, cell_index, words, listing, result_order)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(build_id, cell_index) DO NOTHING
		`,
			cj.BuildID.String(),
			p.CellIndex,
			encodeWords(p.Words()),
			strings.Join(p.Listing(), "\n"),
			orderJSON,
		)
		if err != nil {
			return fmt.Errorf("save build: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save build: %w", err)
	}
	return nil
}
