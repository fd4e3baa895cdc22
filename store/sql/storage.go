package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const DefaultNamespace = "default"

// Storage persists state keys as rows of paygrants_state_entries.
type Storage struct {
	db        *bun.DB
	repo      repository.Repository[*entryRecord]
	namespace string
	now       func() time.Time
}

func NewStorage(db *bun.DB, namespace string) (*Storage, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*entryRecord](db, entryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid state entry repository wiring: %w", err)
		}
	}
	ns := strings.TrimSpace(namespace)
	if ns == "" {
		ns = DefaultNamespace
	}
	return &Storage{db: db, repo: repo, namespace: ns, now: time.Now}, nil
}

// EnsureSchema creates the state table and its unique key index.
func (s *Storage) EnsureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: storage is not configured")
	}
	if _, err := s.db.NewCreateTable().
		Model((*entryRecord)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("sqlstore: create state table: %w", err)
	}
	if _, err := s.db.NewCreateIndex().
		Model((*entryRecord)(nil)).
		Index("paygrants_state_entries_namespace_key_uq").
		Unique().
		Column("namespace", "entry_key").
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("sqlstore: create state index: %w", err)
	}
	return nil
}

func (s *Storage) Namespace() string {
	if s == nil {
		return ""
	}
	return s.namespace
}

func (s *Storage) Get(ctx context.Context, keys ...string) (map[string][]byte, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: storage is not configured")
	}
	wanted := normalizeKeys(keys)
	out := make(map[string][]byte, len(wanted))
	if len(wanted) == 0 {
		return out, nil
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("namespace", "=", s.namespace),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.entry_key IN (?)", bun.In(wanted))
		}),
	)
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		out[record.EntryKey] = append([]byte(nil), record.Value...)
	}
	return out, nil
}

func (s *Storage) Set(ctx context.Context, values map[string][]byte) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: storage is not configured")
	}
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("sqlstore: state key is required")
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	now := s.now().UTC()

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, key := range keys {
			value := append([]byte{}, values[key]...)
			record, err := s.findTx(ctx, tx, key)
			if err != nil {
				return err
			}
			if record == nil {
				record = &entryRecord{
					ID:        uuid.NewString(),
					Namespace: s.namespace,
					EntryKey:  strings.TrimSpace(key),
					Value:     value,
					CreatedAt: now,
					UpdatedAt: now,
				}
				if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
					return fmt.Errorf("sqlstore: insert %s: %w", key, err)
				}
				continue
			}
			record.Value = value
			record.UpdatedAt = now
			if _, err := tx.NewUpdate().
				Model(record).
				Column("value", "updated_at").
				Where("id = ?", record.ID).
				Exec(ctx); err != nil {
				return fmt.Errorf("sqlstore: update %s: %w", key, err)
			}
		}
		return nil
	})
}

func (s *Storage) Delete(ctx context.Context, keys ...string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: storage is not configured")
	}
	wanted := normalizeKeys(keys)
	if len(wanted) == 0 {
		return nil
	}
	_, err := s.db.NewDelete().
		Model((*entryRecord)(nil)).
		Where("namespace = ?", s.namespace).
		Where("entry_key IN (?)", bun.In(wanted)).
		Exec(ctx)
	return err
}

func (s *Storage) Clear(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: storage is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*entryRecord)(nil)).
		Where("namespace = ?", s.namespace).
		Exec(ctx)
	return err
}

func (s *Storage) findTx(ctx context.Context, tx bun.Tx, key string) (*entryRecord, error) {
	record := &entryRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.namespace = ?", s.namespace).
		Where("?TableAlias.entry_key = ?", strings.TrimSpace(key)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func normalizeKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		trimmed := strings.TrimSpace(key)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
