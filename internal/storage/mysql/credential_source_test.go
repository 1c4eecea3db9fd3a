package mysql

import (
	"database/sql"
	"testing"
	"testing/fstest"
	"time"

	"a2a-agent/internal/credential"
)

func TestNewCredentialSourceValidation(t *testing.T) {
	if _, err := NewCredentialSource(Config{}); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
	if _, err := NewCredentialSource(Config{DSN: "u:p@tcp(localhost:3306)/a2a", Table: "creds; DROP TABLE x"}); err == nil {
		t.Fatalf("expected error for unsafe table name")
	}
	src, err := NewCredentialSource(Config{DSN: "u:p@tcp(localhost:3306)/a2a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src.cfg.Table != defaultCredentialTable {
		t.Fatalf("default table not applied: %s", src.cfg.Table)
	}
}

func TestCredentialRowMapping(t *testing.T) {
	expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	row := credentialRow{
		name:      "svc",
		keyHash:   sql.NullString{String: "$2a$10$hash", Valid: true},
		keyID:     sql.NullString{String: "svc01", Valid: true},
		mode:      sql.NullString{String: "sync", Valid: true},
		timeout:   sql.NullFloat64{Float64: 2.5, Valid: true},
		expiresAt: sql.NullTime{Time: expires, Valid: true},
	}
	cred := row.credential()
	if cred.Name != "svc" || cred.Key != "" || cred.KeyHash == "" || cred.KeyID != "svc01" || cred.Mode != credential.ModeSync {
		t.Fatalf("unexpected credential: %+v", cred)
	}
	if cred.TimeoutSeconds != 2.5 || cred.NotBefore != nil || cred.ExpiresAt == nil || !cred.ExpiresAt.Equal(expires) {
		t.Fatalf("unexpected validity fields: %+v", cred)
	}
}

func TestLoadMigrationFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_b.sql": {Data: []byte("-- comment\nCREATE TABLE b (id INT);\n")},
		"0001_a.sql": {Data: []byte("CREATE TABLE a (id INT);\nINSERT INTO a VALUES (1);")},
		"README.md":  {Data: []byte("ignored")},
	}
	files, err := loadMigrationFiles(fsys)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(files) != 2 || files[0].version != "0001" || files[1].version != "0002" {
		t.Fatalf("unexpected migration order: %+v", files)
	}
	if len(files[0].statements) != 2 {
		t.Fatalf("expected two statements, got %v", files[0].statements)
	}
	if files[1].statements[0] != "CREATE TABLE b (id INT)" {
		t.Fatalf("comments must be stripped: %q", files[1].statements[0])
	}
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	files, err := loadMigrationFiles(embeddedMigrations)
	if err != nil {
		t.Fatalf("load embedded: %v", err)
	}
	if len(files) == 0 {
		t.Fatalf("expected embedded credential migration")
	}
}
