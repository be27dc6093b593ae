package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sir_venger/drive_lite/internal/models"
)

const storagesTable = "storages"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PGStore держит реестр хранилищ в Postgres.
type PGStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres создаёт пул подключений к Postgres.
func OpenPostgres(ctx context.Context, dsn string) (*PGStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("meta dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PGStore{pool: pool}, nil
}

func selectStorages() sq.SelectBuilder {
	return psql.Select(
		"id",
		"name",
		"local_path",
		"max_file_size",
		"COALESCE(allow_extensions, '')",
		"COALESCE(block_extensions, '')",
		"disabled",
	).From(storagesTable)
}

func scanStorage(row pgx.Row) (models.StorageRoot, error) {
	var (
		r            models.StorageRoot
		allow, block string
	)
	if err := row.Scan(&r.ID, &r.Name, &r.Path, &r.Policy.MaxFileSize, &allow, &block, &r.Disabled); err != nil {
		return models.StorageRoot{}, err
	}
	r.Policy.AllowExtensions = models.ParseExtensions(allow)
	r.Policy.BlockExtensions = models.ParseExtensions(block)
	return r, nil
}

// Resolve возвращает активное хранилище по идентификатору.
func (s *PGStore) Resolve(ctx context.Context, id string) (models.StorageRoot, error) {
	if strings.TrimSpace(id) == "" {
		return models.StorageRoot{}, fmt.Errorf("%w: storage id is empty", models.ErrNotFound)
	}

	sqlStr, args, err := selectStorages().
		Where(sq.Eq{"id": id, "disabled": false}).
		Limit(1).
		ToSql()
	if err != nil {
		return models.StorageRoot{}, fmt.Errorf("build select: %w", err)
	}

	root, err := scanStorage(s.pool.QueryRow(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.StorageRoot{}, fmt.Errorf("%w: storage %q", models.ErrNotFound, id)
		}
		return models.StorageRoot{}, fmt.Errorf("scan storage row: %w", err)
	}
	return root, nil
}

// List возвращает все хранилища.
func (s *PGStore) List(ctx context.Context) ([]models.StorageRoot, error) {
	sqlStr, args, err := selectStorages().OrderBy("id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query storages: %w", err)
	}
	defer rows.Close()

	var out []models.StorageRoot
	for rows.Next() {
		r, err := scanStorage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan storage row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Save записывает (или обновляет) описание хранилища.
func (s *PGStore) Save(ctx context.Context, root models.StorageRoot) error {
	if strings.TrimSpace(root.ID) == "" {
		return fmt.Errorf("%w: storage id is empty", models.ErrInvalidArgument)
	}

	sqlStr, args, err := psql.
		Insert(storagesTable).
		Columns("id", "name", "local_path", "max_file_size", "allow_extensions", "block_extensions", "disabled").
		Values(
			root.ID,
			root.Name,
			root.Path,
			root.Policy.MaxFileSize,
			strings.Join(root.Policy.AllowExtensions, ","),
			strings.Join(root.Policy.BlockExtensions, ","),
			root.Disabled,
		).
		Suffix(`
			ON CONFLICT (id) DO UPDATE
			SET name             = EXCLUDED.name,
				local_path       = EXCLUDED.local_path,
				max_file_size    = EXCLUDED.max_file_size,
				allow_extensions = EXCLUDED.allow_extensions,
				block_extensions = EXCLUDED.block_extensions,
				disabled         = EXCLUDED.disabled,
				updated_at       = now()`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert sql: %w", err)
	}

	if _, err := s.pool.Exec(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("exec upsert: %w", err)
	}
	return nil
}

// Close освобождает подключения пула.
func (s *PGStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
