package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"lexledger/internal/core"
)

// Cases answers ownership questions from the cases table, which is written
// by the case management part of the portal.
type Cases struct {
	db DBTX
}

var _ core.CaseDirectory = (*Cases)(nil)

func NewCases(db DBTX) *Cases {
	return &Cases{db: db}
}

func (c *Cases) WithTx(tx *sql.Tx) *Cases {
	return &Cases{db: tx}
}

func (c *Cases) CaseExists(ctx context.Context, caseID int64) (bool, error) {
	_, err := c.Owner(ctx, caseID)
	if core.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

func (c *Cases) IsCaseOwnedBy(ctx context.Context, caseID, advocateID int64) (bool, error) {
	owner, err := c.Owner(ctx, caseID)
	if core.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return owner == advocateID, nil
}

// Owner returns the advocate a case belongs to.
func (c *Cases) Owner(ctx context.Context, caseID int64) (int64, error) {
	var owner int64
	err := c.db.QueryRowContext(ctx, `SELECT advocate_id FROM cases WHERE id = ?`, caseID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &core.NotFoundError{Resource: "case", ID: core.FormatID(caseID)}
	}
	if err != nil {
		return 0, fmt.Errorf("get case %d: %w", caseID, err)
	}
	return owner, nil
}
