package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"a2a-agent/internal/credential"
	xerrors "a2a-agent/internal/errors"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected address: %s", cfg.Server.Address)
	}
	if cfg.Queue.Driver != QueueMemory || cfg.Queue.Workers != 4 {
		t.Fatalf("unexpected queue defaults: %+v", cfg.Queue)
	}
	if cfg.LLM.Provider != ProviderMock {
		t.Fatalf("unexpected provider: %s", cfg.LLM.Provider)
	}
	if cfg.Router.HardTimeout() != 60*time.Second {
		t.Fatalf("unexpected router timeout: %s", cfg.Router.HardTimeout())
	}
}

func TestLoadFileResolvesPathsAndSecrets(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TEST_A2A_JWT", "s3cret")
	t.Setenv("TEST_A2A_GEMINI", "gkey")

	content := `
server:
  address: ":9090"
  rate_limit:
    rps: 5
credentials:
  file: creds.yaml
  inline:
    - name: alice
      key: alice-key
      mode: sync
      timeout_seconds: 0.5
  jwt:
    secret_env: TEST_A2A_JWT
queue:
  driver: Redis
  redis:
    address: localhost:6379
llm:
  provider: gemini
  gemini:
    api_key_env: TEST_A2A_GEMINI
logging:
  audit:
    enabled: true
`
	path := filepath.Join(dir, "agent.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":9090" || cfg.Server.RateLimit.Burst != 6 {
		t.Fatalf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Credentials.File != filepath.Join(dir, "creds.yaml") {
		t.Fatalf("expected credentials file resolved against config dir, got %s", cfg.Credentials.File)
	}
	if cfg.Logging.Audit.Path != filepath.Join(dir, "logs/audit.log") {
		t.Fatalf("unexpected audit path: %s", cfg.Logging.Audit.Path)
	}
	if cfg.Credentials.JWT.Secret != "s3cret" {
		t.Fatalf("expected jwt secret from env")
	}
	if cfg.LLM.Gemini.APIKey != "gkey" {
		t.Fatalf("expected gemini key from env")
	}
	if cfg.Queue.Driver != QueueRedis {
		t.Fatalf("expected normalized driver, got %s", cfg.Queue.Driver)
	}
	if len(cfg.Credentials.Inline) != 1 {
		t.Fatalf("expected one inline credential")
	}
	inline := cfg.Credentials.Inline[0]
	if inline.Mode != credential.ModeSync || inline.Timeout() != 500*time.Millisecond {
		t.Fatalf("unexpected inline credential: %+v", inline)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"unknown queue":    "queue:\n  driver: kafka\n",
		"redis no address": "queue:\n  driver: redis\n",
		"rabbit no url":    "queue:\n  driver: rabbitmq\n",
		"unknown provider": "llm:\n  provider: claude\n",
		"openai no key":    "llm:\n  provider: openai\n  openai:\n    api_key_env: TEST_A2A_UNSET_KEY\n",
		"bad webhook kind": "alerting:\n  webhooks:\n    - url: http://x\n      kind: pager\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(content), "")
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if xerrors.CodeOf(err) != xerrors.CodeInvalidParams {
				t.Fatalf("expected invalid params, got %s", xerrors.CodeOf(err))
			}
		})
	}
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	if _, err := Parse([]byte("server: [unclosed"), ""); err == nil {
		t.Fatalf("expected parse error")
	}
}
