package dialect

import (
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		typ     DialectType
		want    string
		wantErr bool
	}{
		{SQLite, "sqlite", false},
		{Postgres, "postgres", false},
		{DialectType("mysql"), "", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			d, err := New(tt.typ)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New(%q) error = %v, wantErr %v", tt.typ, err, tt.wantErr)
			}
			if err == nil && d.Name() != tt.want {
				t.Errorf("Name() = %q, want %q", d.Name(), tt.want)
			}
		})
	}
}

func TestFromDriverName(t *testing.T) {
	tests := []struct {
		driver     string
		wantName   string
		wantDriver string
		wantErr    bool
	}{
		{"sqlite", "sqlite", "sqlite", false},
		{"SQLite3", "sqlite", "sqlite", false},
		{"postgres", "postgres", "pgx", false},
		{"postgresql", "postgres", "pgx", false},
		{"pgx", "postgres", "pgx", false},
		{"mysql", "", "", true},
		{"", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			d, err := FromDriverName(tt.driver)
			if (err != nil) != tt.wantErr {
				t.Fatalf("FromDriverName(%q) error = %v, wantErr %v", tt.driver, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if d.Name() != tt.wantName || d.DriverName() != tt.wantDriver {
				t.Errorf("got %s/%s, want %s/%s", d.Name(), d.DriverName(), tt.wantName, tt.wantDriver)
			}
		})
	}
}

func TestRebind(t *testing.T) {
	const query = "UPDATE requests SET status = ? WHERE id = ? AND status IN (?, ?)"

	tests := []struct {
		typ  DialectType
		want string
	}{
		{SQLite, query},
		{Postgres, "UPDATE requests SET status = $1 WHERE id = $2 AND status IN ($3, $4)"},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			d, _ := New(tt.typ)
			if got := d.Rebind(query); got != tt.want {
				t.Errorf("Rebind() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSchemaTypes(t *testing.T) {
	tests := []struct {
		typ       DialectType
		autoInc   string
		timestamp string
		maxConns  int
	}{
		{SQLite, "INTEGER PRIMARY KEY AUTOINCREMENT", "TIMESTAMP", 1},
		{Postgres, "BIGSERIAL PRIMARY KEY", "TIMESTAMPTZ", 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			d, _ := New(tt.typ)
			if d.AutoIncrementClause() != tt.autoInc {
				t.Errorf("AutoIncrementClause() = %q, want %q", d.AutoIncrementClause(), tt.autoInc)
			}
			if d.TimestampType() != tt.timestamp {
				t.Errorf("TimestampType() = %q, want %q", d.TimestampType(), tt.timestamp)
			}
			if d.TextType() != "TEXT" {
				t.Errorf("TextType() = %q, want TEXT", d.TextType())
			}
			if d.MaxOpenConns() != tt.maxConns {
				t.Errorf("MaxOpenConns() = %d, want %d", d.MaxOpenConns(), tt.maxConns)
			}
		})
	}
}

func TestPragmaStatements(t *testing.T) {
	sqlite, _ := New(SQLite)
	pragmas := sqlite.PragmaStatements()
	if len(pragmas) == 0 || !strings.Contains(strings.Join(pragmas, ";"), "journal_mode=WAL") {
		t.Errorf("sqlite pragmas = %v, want WAL journal", pragmas)
	}

	// Callers get a copy.
	pragmas[0] = "mutated"
	if sqlite.PragmaStatements()[0] == "mutated" {
		t.Error("PragmaStatements() exposed internal slice")
	}

	pg, _ := New(Postgres)
	if got := pg.PragmaStatements(); len(got) != 0 {
		t.Errorf("postgres pragmas = %v, want none", got)
	}
}
