// Package postgres provides a PostgreSQL storage.ResponseStore. It uses
// pgx/v5 connection pooling and stores the Steps of a Response as JSONB.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/chatrelay/pkg/api"
	"github.com/rhuss/chatrelay/pkg/debug"
	"github.com/rhuss/chatrelay/pkg/storage"
)

// Store is a PostgreSQL-backed ResponseStore.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.ResponseStore = (*Store)(nil)

// New creates a PostgreSQL store. If MigrateOnStart is set, schema
// migrations are applied before New returns.
func New(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := cfg.poolConfig()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// SaveResponse persists a finished response.
func (s *Store) SaveResponse(ctx context.Context, resp *api.Response) error {
	stepsJSON, err := json.Marshal(resp.Steps)
	if err != nil {
		return fmt.Errorf("marshaling steps: %w", err)
	}

	usage := resp.Usage()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO responses (
			id, model, finish_reason, steps,
			prompt_tokens, completion_tokens, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		resp.ID, resp.Model, string(resp.FinishReason()), stepsJSON,
		usage.PromptTokens, usage.CompletionTokens, resp.CreatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting response: %w", err)
	}

	debug.Log("storage", "saved response", "id", resp.ID, "steps", len(resp.Steps))
	return nil
}

const selectColumns = `SELECT id, model, steps, created_at FROM responses`

// GetResponse retrieves a live response by ID.
func (s *Store) GetResponse(ctx context.Context, id string) (*api.Response, error) {
	row := s.pool.QueryRow(ctx, selectColumns+` WHERE id = $1 AND deleted_at IS NULL`, id)

	resp, err := scanResponse(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying response: %w", err)
	}
	return resp, nil
}

// ListResponses returns a page of live responses using keyset pagination
// on (created_at, id).
func (s *Store) ListResponses(ctx context.Context, opts storage.ListOptions) (*storage.ResponseList, error) {
	limit := opts.EffectiveLimit()

	var (
		conds = []string{"deleted_at IS NULL"}
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if opts.Model != "" {
		conds = append(conds, "model = "+arg(opts.Model))
	}

	// Walking backwards from a Before cursor flips the scan direction; the
	// page is reversed again after the query.
	asc := opts.Ascending()
	cursor, forward := opts.After, true
	if cursor == "" && opts.Before != "" {
		cursor, forward = opts.Before, false
	}
	scanAsc := asc == forward

	if cursor != "" {
		op := "<"
		if scanAsc {
			op = ">"
		}
		conds = append(conds, fmt.Sprintf(
			"(created_at, id) %s (SELECT created_at, id FROM responses WHERE id = %s)", op, arg(cursor)))
	}

	dir := "DESC"
	if scanAsc {
		dir = "ASC"
	}
	query := fmt.Sprintf("%s WHERE %s ORDER BY created_at %s, id %s LIMIT %s",
		selectColumns, strings.Join(conds, " AND "), dir, dir, arg(limit+1))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing responses: %w", err)
	}
	defer rows.Close()

	var matches []*api.Response
	for rows.Next() {
		resp, err := scanResponse(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning response: %w", err)
		}
		matches = append(matches, resp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing responses: %w", err)
	}

	if !forward {
		hasMore := len(matches) > limit
		if hasMore {
			matches = matches[:limit]
		}
		slices.Reverse(matches)
		page := storage.NewResponseList(matches, limit)
		page.HasMore = hasMore
		return page, nil
	}
	return storage.NewResponseList(matches, limit), nil
}

// DeleteResponse soft-deletes a response by setting deleted_at.
func (s *Store) DeleteResponse(ctx context.Context, id string) error {
	result, err := s.pool.Exec(ctx,
		"UPDATE responses SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL",
		time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("deleting response: %w", err)
	}

	if result.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanResponse(row pgx.Row) (*api.Response, error) {
	var (
		resp      api.Response
		stepsJSON []byte
	)
	if err := row.Scan(&resp.ID, &resp.Model, &stepsJSON, &resp.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(stepsJSON, &resp.Steps); err != nil {
		return nil, fmt.Errorf("unmarshaling steps: %w", err)
	}
	return &resp, nil
}

// isDuplicateKey reports a PostgreSQL unique violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
