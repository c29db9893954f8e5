package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"trade-settlement-engine/internal/core/ports"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// Pool is the subset of *pgxpool.Pool the repositories use. pgxmock's pool
// satisfies it as well.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// mapWriteError translates constraint and serialization failures into the
// sentinel errors the service layer understands.
func mapWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%s: %s: %w", op, pgErr.ConstraintName, ports.ErrDuplicateKey)
		case "40001", "40P01":
			return fmt.Errorf("%s: %w", op, ports.ErrVersionConflict)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// decimalCols collects numeric columns selected as ::text and parses them
// after Scan. NUMERIC round-trips through text without float loss.
type decimalCols struct {
	raw []*string
	dst []*decimal.Decimal
}

func (c *decimalCols) col(dst *decimal.Decimal) *string {
	s := new(string)
	c.raw = append(c.raw, s)
	c.dst = append(c.dst, dst)
	return s
}

func (c *decimalCols) decode() error {
	for i, s := range c.raw {
		d, err := decimal.NewFromString(*s)
		if err != nil {
			return fmt.Errorf("parse numeric %q: %w", *s, err)
		}
		*c.dst[i] = d
	}
	return nil
}

func pageOffset(page, pageSize int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * pageSize
}

// whereBuilder accumulates numbered placeholders the way hand-written list
// queries do: conditions use %d for the argument position.
type whereBuilder struct {
	conds []string
	args  []any
}

func newWhere() *whereBuilder {
	return &whereBuilder{}
}

func (w *whereBuilder) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, len(w.args)))
}

func (w *whereBuilder) clause() string {
	if len(w.conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(w.conds, " AND ")
}

// page appends LIMIT/OFFSET arguments. Call it after the count query has run.
func (w *whereBuilder) page(page, pageSize int) string {
	w.args = append(w.args, pageSize, pageOffset(page, pageSize))
	return fmt.Sprintf("LIMIT $%d OFFSET $%d", len(w.args)-1, len(w.args))
}
