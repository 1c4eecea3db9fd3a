package credential

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	xerrors "a2a-agent/internal/errors"
)

func TestNewStoreCorrectsInvalidSettings(t *testing.T) {
	store, err := NewStore([]Credential{
		{Name: "a", Key: "ka", Mode: "turbo", TimeoutSeconds: -5},
		{Name: "b", Key: "kb", Mode: "SYNC", TimeoutSeconds: 0.01},
		{Name: "c", Key: "kc"},
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	a, _ := store.Lookup("a")
	if a.Mode != ModeAsync || a.TimeoutSeconds != DefaultTimeoutSeconds {
		t.Fatalf("invalid settings must be corrected: %+v", a)
	}
	b, _ := store.Lookup("b")
	if b.Mode != ModeSync || b.Timeout() != 10*time.Millisecond {
		t.Fatalf("valid settings must be kept: %+v (timeout %s)", b, b.Timeout())
	}
	c, _ := store.Lookup("c")
	if c.Mode != DefaultMode || c.TimeoutSeconds != DefaultTimeoutSeconds {
		t.Fatalf("defaults not applied: %+v", c)
	}
}

func TestNewStoreRejectsBadEntries(t *testing.T) {
	if _, err := NewStore([]Credential{{Key: "k"}}); xerrors.CodeOf(err) != xerrors.CodeInvalidParams {
		t.Fatalf("expected invalid params for missing name, got %v", err)
	}
	if _, err := NewStore([]Credential{{Name: "x"}, {Name: "x"}}); xerrors.CodeOf(err) != xerrors.CodeConflict {
		t.Fatalf("expected conflict for duplicate names, got %v", err)
	}
}

func TestAuthenticateAPIKey(t *testing.T) {
	hash, err := HashKey("svc01.hashed-secret")
	if err != nil {
		t.Fatalf("hash key: %v", err)
	}
	store, err := NewStore([]Credential{
		{Name: "plain", Key: "plain-secret"},
		{Name: "hashed", KeyHash: hash, KeyID: "svc01"},
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	cred, err := store.Authenticate(ctx, "plain-secret")
	if err != nil || cred.Name != "plain" {
		t.Fatalf("plain key: %+v %v", cred, err)
	}
	cred, err = store.Authenticate(ctx, "svc01.hashed-secret")
	if err != nil || cred.Name != "hashed" {
		t.Fatalf("hashed key: %+v %v", cred, err)
	}
	if _, err := store.Authenticate(ctx, "svc01.wrong"); xerrors.CodeOf(err) != xerrors.CodeUnauthenticated {
		t.Fatalf("expected unauthenticated for wrong secret, got %v", err)
	}
	if _, err := store.Authenticate(ctx, "nope"); xerrors.CodeOf(err) != xerrors.CodeUnauthenticated {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	if _, err := store.Authenticate(ctx, " "); err != ErrMissingCredential {
		t.Fatalf("expected missing credential, got %v", err)
	}
}

func TestHashedKeysRequireKeyID(t *testing.T) {
	if _, err := NewStore([]Credential{{Name: "h", KeyHash: "$2a$10$x"}}); xerrors.CodeOf(err) != xerrors.CodeInvalidParams {
		t.Fatalf("expected invalid params without key_id, got %v", err)
	}
	if _, err := NewStore([]Credential{{Name: "h", KeyHash: "$2a$10$x", KeyID: "a.b"}}); xerrors.CodeOf(err) != xerrors.CodeInvalidParams {
		t.Fatalf("expected invalid params for dotted key_id, got %v", err)
	}
	_, err := NewStore([]Credential{
		{Name: "a", KeyHash: "$2a$10$x", KeyID: "k1"},
		{Name: "b", KeyHash: "$2a$10$y", KeyID: "k1"},
	})
	if xerrors.CodeOf(err) != xerrors.CodeConflict {
		t.Fatalf("expected conflict for reused key_id, got %v", err)
	}
}

// 未知前缀与无前缀的错误 key 都不会触发 bcrypt 比较。
func TestUnknownKeyIDSkipsHashComparison(t *testing.T) {
	var creds []Credential
	for i := 0; i < 20; i++ {
		// cost 14 的摘要单次比较约需一秒。
		creds = append(creds, Credential{Name: fmt.Sprintf("svc%d", i), KeyHash: "$2a$14$" + strings.Repeat("a", 53), KeyID: fmt.Sprintf("k%d", i)})
	}
	store, err := NewStore(creds)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	start := time.Now()
	for _, key := range []string{"nope", "zz.secret", "no-prefix-at-all"} {
		if _, err := store.Authenticate(context.Background(), key); xerrors.CodeOf(err) != xerrors.CodeUnauthenticated {
			t.Fatalf("expected unauthenticated for %q, got %v", key, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("rejecting unknown keys took %s", elapsed)
	}
}

func TestKeyID(t *testing.T) {
	cases := map[string]string{"svc01.secret": "svc01", "a.b.c": "a"}
	for key, want := range cases {
		if got, ok := KeyID(key); !ok || got != want {
			t.Fatalf("KeyID(%q) = %q,%v want %q", key, got, ok, want)
		}
	}
	for _, key := range []string{"plain", ".secret", "id."} {
		if _, ok := KeyID(key); ok {
			t.Fatalf("KeyID(%q) should be absent", key)
		}
	}
}

func TestValidityWindow(t *testing.T) {
	now := time.Date(2025, 9, 21, 12, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)
	earlier := now.Add(-time.Hour)
	store, err := NewStore([]Credential{
		{Name: "future", Key: "f", NotBefore: &later},
		{Name: "expired", Key: "e", ExpiresAt: &now},
		{Name: "active", Key: "a", NotBefore: &earlier, ExpiresAt: &later},
	}, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	if _, err := store.Authenticate(ctx, "f"); err != ErrCredentialInactive {
		t.Fatalf("expected inactive for not-yet-valid credential, got %v", err)
	}
	if _, err := store.Authenticate(ctx, "e"); err != ErrCredentialInactive {
		t.Fatalf("expected inactive for expired credential, got %v", err)
	}
	if _, err := store.Authenticate(ctx, "a"); err != nil {
		t.Fatalf("active credential rejected: %v", err)
	}
}

func TestAuthenticateRequestWithJWT(t *testing.T) {
	store, err := NewStore([]Credential{{Name: "svc", Key: "svc-key", Mode: ModeSync}},
		WithJWTSecret("s3cret", "a2a-agent"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	token, err := IssueToken("s3cret", "a2a-agent", "svc", time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	cred, err := store.AuthenticateRequest(ctx, "", "Bearer "+token)
	if err != nil || cred.Name != "svc" || !cred.Sync() {
		t.Fatalf("jwt auth: %+v %v", cred, err)
	}

	forged, _ := IssueToken("other", "a2a-agent", "svc", time.Minute)
	if _, err := store.AuthenticateRequest(ctx, "", "Bearer "+forged); err != ErrInvalidCredential {
		t.Fatalf("expected invalid credential for forged token, got %v", err)
	}
	unknown, _ := IssueToken("s3cret", "a2a-agent", "ghost", time.Minute)
	if _, err := store.AuthenticateRequest(ctx, "", "Bearer "+unknown); err != ErrInvalidCredential {
		t.Fatalf("expected invalid credential for unknown subject, got %v", err)
	}

	if cred, err := store.AuthenticateRequest(ctx, "", "Bearer svc-key"); err != nil || cred.Name != "svc" {
		t.Fatalf("bearer api key: %+v %v", cred, err)
	}
	if cred, err := store.AuthenticateRequest(ctx, "svc-key", "Bearer garbage"); err != nil || cred.Name != "svc" {
		t.Fatalf("x-api-key must take precedence: %+v %v", cred, err)
	}
	if _, err := store.AuthenticateRequest(ctx, "", "Basic abc"); err != ErrInvalidCredential {
		t.Fatalf("expected invalid credential for basic auth, got %v", err)
	}
	if _, err := store.AuthenticateRequest(ctx, "", ""); err != ErrMissingCredential {
		t.Fatalf("expected missing credential, got %v", err)
	}
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.yaml")
	content := `credentials:
  - name: batch
    key: batch-key
    mode: async
  - name: interactive
    key: interactive-key
    mode: sync
    timeout_seconds: 5
    expires_at: 2030-01-01T00:00:00Z
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	store, err := Load(context.Background(), []Source{FileSource{Path: path}, StaticSource{{Name: "inline", Key: "k"}}})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if store.Len() != 3 {
		t.Fatalf("expected 3 credentials, got %d", store.Len())
	}
	interactive, ok := store.Lookup("interactive")
	if !ok || !interactive.Sync() || interactive.Timeout() != 5*time.Second || interactive.ExpiresAt == nil {
		t.Fatalf("unexpected credential: %+v", interactive)
	}

	if _, err := (FileSource{Path: filepath.Join(dir, "missing.yaml")}).Load(context.Background()); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestContextRoundTrip(t *testing.T) {
	if FromContext(context.Background()) != nil {
		t.Fatalf("empty context must not carry a credential")
	}
	ctx := WithCredential(context.Background(), &Credential{Name: "x"})
	if got := FromContext(ctx); got == nil || got.Name != "x" {
		t.Fatalf("unexpected credential %+v", got)
	}
}
