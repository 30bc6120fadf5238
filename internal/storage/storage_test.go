package storage

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"
)

// fakeDialect renders ANSI-ish SQL with "?" placeholders.
type fakeDialect struct{}

func (fakeDialect) Placeholder(int) string { return "?" }
func (fakeDialect) Ident(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
func (fakeDialect) ColumnType(logical string) string {
	switch logical {
	case "int":
		return "INTEGER"
	case "text":
		return "TEXT"
	default:
		return logical
	}
}
func (fakeDialect) CreateTableIfMissing(table, defs string) string {
	return "CREATE TABLE IF NOT EXISTS " + table + " (" + defs + ")"
}
func (fakeDialect) Savepoint(name string) string           { return "SAVEPOINT " + name }
func (fakeDialect) RollbackToSavepoint(name string) string { return "ROLLBACK TO SAVEPOINT " + name }
func (fakeDialect) ReleaseSavepoint(name string) string    { return "RELEASE SAVEPOINT " + name }
func (fakeDialect) IsUniqueViolation(error) bool           { return false }

func boolPtr(v bool) *bool { return &v }

func dsnFromEndpoint(e Endpoint) string { return e.Database }

func TestRegister_PanicsOnDuplicateAndIncomplete(t *testing.T) {
	Register("fake-dup", Backend{DriverName: "fake", Dialect: fakeDialect{}, DSN: dsnFromEndpoint})

	assertPanics := func(name string, fn func()) {
		t.Helper()
		defer func() {
			if recover() == nil {
				t.Fatalf("%s: expected panic", name)
			}
		}()
		fn()
	}

	assertPanics("duplicate", func() {
		Register("fake-dup", Backend{DriverName: "fake", Dialect: fakeDialect{}, DSN: dsnFromEndpoint})
	})
	assertPanics("empty kind", func() {
		Register("", Backend{DriverName: "fake", Dialect: fakeDialect{}, DSN: dsnFromEndpoint})
	})
	assertPanics("missing dialect", func() {
		Register("fake-nodialect", Backend{DriverName: "fake", DSN: dsnFromEndpoint})
	})
}

func TestResolveDSN_PrefersExplicitDSN(t *testing.T) {
	Register("fake-dsn", Backend{DriverName: "fake", Dialect: fakeDialect{}, DSN: dsnFromEndpoint})

	got, err := ResolveDSN(Config{Kind: "fake-dsn", DSN: "explicit", Endpoint: Endpoint{Database: "built"}})
	if err != nil {
		t.Fatalf("ResolveDSN: %v", err)
	}
	if got != "explicit" {
		t.Fatalf("got %q want explicit", got)
	}

	got, err = ResolveDSN(Config{Kind: "fake-dsn", Endpoint: Endpoint{Database: "built"}})
	if err != nil {
		t.Fatalf("ResolveDSN: %v", err)
	}
	if got != "built" {
		t.Fatalf("got %q want built", got)
	}
}

func TestOpen_RejectsUnknownKind(t *testing.T) {
	if _, err := Open(context.Background(), Config{Kind: "no-such-backend"}); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty kind")
	}
	if _, err := DialectFor("no-such-backend"); err == nil {
		t.Fatalf("expected error for unknown dialect")
	}
}

func TestSQLBuilders(t *testing.T) {
	t.Parallel()
	d := fakeDialect{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{
			name: "select by composite natural key",
			got:  SelectByColumnsSQL(d, "condutor", "idcondutor", []string{"nome", "certificacao"}),
			want: `SELECT "idcondutor" FROM "condutor" WHERE "nome" = ? AND "certificacao" = ?`,
		},
		{
			name: "max",
			got:  MaxSQL(d, "dbo.viagens", "idviagens"),
			want: `SELECT MAX("idviagens") FROM "dbo"."viagens"`,
		},
		{
			name: "insert",
			got:  InsertSQL(d, "tipo_viagem", []string{"idtipoviagem", "tipo"}),
			want: `INSERT INTO "tipo_viagem" ("idtipoviagem", "tipo") VALUES (?, ?)`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Fatalf("got  %q\nwant %q", tt.got, tt.want)
			}
		})
	}
}

func TestBuildCreateSQL(t *testing.T) {
	t.Parallel()

	spec := TableSpec{
		Name:       "localizacao",
		PrimaryKey: &PrimaryKeySpec{Name: "idlocalizacao"},
		Columns: []ColumnSpec{
			{Name: "cidade", Type: "text", Nullable: boolPtr(false)},
			{Name: "pais", Type: "text", Nullable: boolPtr(false)},
		},
		Constraints: []ConstraintSpec{{Kind: "unique", Columns: []string{"cidade", "pais"}}},
	}

	got, err := BuildCreateSQL(fakeDialect{}, spec)
	if err != nil {
		t.Fatalf("BuildCreateSQL: %v", err)
	}
	want := `CREATE TABLE IF NOT EXISTS localizacao ("idlocalizacao" INTEGER NOT NULL PRIMARY KEY, ` +
		`"cidade" TEXT NOT NULL, "pais" TEXT NOT NULL, UNIQUE ("cidade", "pais"))`
	if got != want {
		t.Fatalf("got  %q\nwant %q", got, want)
	}

	bad := spec
	bad.Constraints = []ConstraintSpec{{Kind: "check", Columns: []string{"pais"}}}
	if _, err := BuildCreateSQL(fakeDialect{}, bad); err == nil {
		t.Fatalf("expected error for unsupported constraint kind")
	}

	if _, err := BuildCreateSQL(fakeDialect{}, TableSpec{}); err == nil {
		t.Fatalf("expected error for empty table name")
	}
}

type recordingQuerier struct {
	stmts []string
}

func (r *recordingQuerier) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	r.stmts = append(r.stmts, query)
	return nil, nil
}

func (r *recordingQuerier) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return nil
}

func TestEnsureTables_ExecutesOneStatementPerTable(t *testing.T) {
	q := &recordingQuerier{}
	tables := []TableSpec{
		{Name: "a", PrimaryKey: &PrimaryKeySpec{Name: "ida"}},
		{Name: "b", PrimaryKey: &PrimaryKeySpec{Name: "idb"}},
	}
	if err := EnsureTables(context.Background(), q, fakeDialect{}, tables); err != nil {
		t.Fatalf("EnsureTables: %v", err)
	}
	if len(q.stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(q.stmts))
	}
}

func TestCompositeKey(t *testing.T) {
	t.Parallel()

	if CompositeKey([]any{"a b", "c"}) == CompositeKey([]any{"a", "b c"}) {
		t.Fatalf("composite keys collided")
	}
	if got := CompositeKey([]any{" Lisboa "}); got != "Lisboa" {
		t.Fatalf("single part not normalized: %q", got)
	}
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if got := NormalizeKey(day); got != "2024-03-01" {
		t.Fatalf("NormalizeKey(time) = %q", got)
	}
}
