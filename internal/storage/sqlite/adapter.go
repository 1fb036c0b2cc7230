package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/relves/vaultgate/internal/storage"
	"github.com/relves/vaultgate/pkg/types"
)

// sqlTx adapts a database transaction to storage.Tx. Records are stored as
// JSON bodies with the columns needed for lookups alongside.
type sqlTx struct {
	tx       *sql.Tx
	id       types.ResourceID
	readOnly bool
}

func (t *sqlTx) writable() error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	return nil
}

func (t *sqlTx) Resource(ctx context.Context) (*types.Resource, error) {
	var state []byte
	err := t.tx.QueryRowContext(ctx,
		`SELECT state FROM resource WHERE id = ?`, string(t.id)).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var res types.Resource
	if err := json.Unmarshal(state, &res); err != nil {
		return nil, fmt.Errorf("decode resource: %w", err)
	}
	return &res, nil
}

func (t *sqlTx) PutResource(ctx context.Context, res *types.Resource) error {
	if err := t.writable(); err != nil {
		return err
	}
	if res.ID != t.id {
		return fmt.Errorf("resource %s does not belong to store %s", res.ID, t.id)
	}
	state, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode resource: %w", err)
	}
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO resource (id, kind, state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   state = excluded.state,
		   updated_at = excluded.updated_at`,
		string(res.ID), string(res.Kind), state,
		res.CreatedAt.UTC().Format(time.RFC3339Nano), res.UpdatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (t *sqlTx) Proposal(ctx context.Context, id uint64) (*types.Proposal, error) {
	var body []byte
	err := t.tx.QueryRowContext(ctx,
		`SELECT body FROM proposals WHERE id = ?`, int64(id)).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeProposal(body)
}

func decodeProposal(body []byte) (*types.Proposal, error) {
	var p types.Proposal
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode proposal: %w", err)
	}
	return &p, nil
}

func (t *sqlTx) PutProposal(ctx context.Context, p *types.Proposal) error {
	if err := t.writable(); err != nil {
		return err
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode proposal: %w", err)
	}
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO proposals (id, status, creator, expires_at, body)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status = excluded.status,
		   body = excluded.body`,
		int64(p.ID), string(p.Status), string(p.Creator), p.ExpiresAt.UnixNano(), body)
	return err
}

func (t *sqlTx) Proposals(ctx context.Context, from uint64, limit int) ([]*types.Proposal, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := t.tx.QueryContext(ctx,
		`SELECT body FROM proposals WHERE id >= ? ORDER BY id LIMIT ?`,
		int64(from), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Proposal
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		p, err := decodeProposal(body)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *sqlTx) DeleteProposals(ctx context.Context, ids []uint64) (int, error) {
	if err := t.writable(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = int64(id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	result, err := t.tx.ExecContext(ctx,
		`DELETE FROM proposals WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

var _ storage.Tx = (*sqlTx)(nil)
