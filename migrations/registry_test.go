package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"time"

	paygrants "github.com/goliatone/go-paygrants"
	"github.com/goliatone/go-paygrants/core"
	sqlstore "github.com/goliatone/go-paygrants/store/sql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

func TestFilesystems_ReturnsPostgresAndSQLite(t *testing.T) {
	filesystems, err := Filesystems()
	if err != nil {
		t.Fatalf("filesystems: %v", err)
	}
	if len(filesystems) != 2 {
		t.Fatalf("expected 2 filesystems, got %d", len(filesystems))
	}
	if filesystems[0].Dialect != DialectPostgres || filesystems[1].Dialect != DialectSQLite {
		t.Fatalf("unexpected dialect order %q, %q", filesystems[0].Dialect, filesystems[1].Dialect)
	}
}

func TestRegister_FiltersDialects(t *testing.T) {
	var calls []string
	reg, err := Register(context.Background(), func(_ context.Context, dialect string, label string, _ fs.FS) error {
		calls = append(calls, dialect+":"+label)
		return nil
	}, WithDialects("SQLite3"), WithSourceLabel("wallet-app"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(calls) != 1 || calls[0] != "sqlite:wallet-app" {
		t.Fatalf("unexpected registration calls %v", calls)
	}
	if reg.SourceLabel != "wallet-app" {
		t.Fatalf("expected source label override, got %q", reg.SourceLabel)
	}
}

func TestRegister_RequiresFunction(t *testing.T) {
	if _, err := Register(context.Background(), nil); err == nil {
		t.Fatalf("expected missing register function error")
	}
}

func TestForDialect_RejectsUnknown(t *testing.T) {
	if _, err := ForDialect("mysql"); err == nil {
		t.Fatalf("expected unsupported dialect error")
	}
	spec, err := ForDialect("sqlite3")
	if err != nil {
		t.Fatalf("for dialect: %v", err)
	}
	if spec.Dialect != DialectSQLite {
		t.Fatalf("expected sqlite spec, got %q", spec.Dialect)
	}
}

func TestStateEntriesMigrationPair_ExistsForBothDialects(t *testing.T) {
	root := paygrants.GetMigrationsFS()
	paths := []string{
		"data/sql/migrations/00001_paygrants_state_entries.up.sql",
		"data/sql/migrations/00001_paygrants_state_entries.down.sql",
		"data/sql/migrations/sqlite/00001_paygrants_state_entries.up.sql",
		"data/sql/migrations/sqlite/00001_paygrants_state_entries.down.sql",
	}
	for _, migrationPath := range paths {
		content, err := fs.ReadFile(root, migrationPath)
		if err != nil {
			t.Fatalf("read migration %s: %v", migrationPath, err)
		}
		if strings.TrimSpace(string(content)) == "" {
			t.Fatalf("expected migration %s to have SQL content", migrationPath)
		}
	}
}

func TestSQLiteStateEntriesMigration_MatchesStorageModel(t *testing.T) {
	ctx := context.Background()
	dsn := fmt.Sprintf("file:migrations-state-%d?mode=memory&cache=shared", time.Now().UnixNano())
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	db := bun.NewDB(sqlDB, sqlitedialect.New())
	defer func() { _ = db.Close() }()

	spec, err := ForDialect(DialectSQLite)
	if err != nil {
		t.Fatalf("for dialect: %v", err)
	}
	if err := execSQLMigration(ctx, sqlDB, spec.FS, "00001_paygrants_state_entries.up.sql"); err != nil {
		t.Fatalf("apply up migration: %v", err)
	}

	storage, err := sqlstore.NewStorage(db, "migrated")
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	if err := storage.Set(ctx, map[string][]byte{core.StorageKeyRateOfPay: []byte("60")}); err != nil {
		t.Fatalf("set: %v", err)
	}
	values, err := storage.Get(ctx, core.StorageKeyRateOfPay)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(values[core.StorageKeyRateOfPay]) != "60" {
		t.Fatalf("unexpected stored value %q", values[core.StorageKeyRateOfPay])
	}

	if _, err := sqlDB.ExecContext(ctx,
		`INSERT INTO paygrants_state_entries (id, namespace, entry_key, value) VALUES (?, ?, ?, ?)`,
		"dup", "migrated", core.StorageKeyRateOfPay, []byte("90"),
	); err == nil {
		t.Fatalf("expected unique index to reject duplicate namespace/key")
	}

	if err := execSQLMigration(ctx, sqlDB, spec.FS, "00001_paygrants_state_entries.down.sql"); err != nil {
		t.Fatalf("apply down migration: %v", err)
	}
	var count int
	if err := sqlDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'paygrants_state_entries'`,
	).Scan(&count); err != nil {
		t.Fatalf("count tables: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected down migration to drop the state table")
	}
}

func execSQLMigration(ctx context.Context, db *sql.DB, fsys fs.FS, filename string) error {
	content, err := fs.ReadFile(fsys, filepath.Clean(filename))
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, string(content))
	return err
}
