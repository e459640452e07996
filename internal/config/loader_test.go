package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
models:
  - alias: fast
    model: openai/gpt-4o-mini
    api_key: os.environ/OPENAI_API_KEY
    input_cost_per_mtok: 0.15
    output_cost_per_mtok: 0.60
  - alias: smart
    model: anthropic/claude-sonnet-4
    temperature: 0.7
    timeout: 300
`)
	snap, err := Load(path, Defaults{})
	if err != nil {
		t.Fatal(err)
	}
	if snap.Len() != 2 {
		t.Fatalf("profiles = %d", snap.Len())
	}
	fast, ok := snap.Profile("fast")
	if !ok || fast.InputCostPerMTok != 0.15 {
		t.Errorf("fast = %+v", fast)
	}
	smart, _ := snap.Profile("smart")
	if smart.Temperature == nil || *smart.Temperature != 0.7 {
		t.Errorf("smart temperature = %v", smart.Temperature)
	}
	if smart.EffectiveTimeout(DefaultTimeout) != 300*time.Second {
		t.Errorf("smart timeout = %v", smart.EffectiveTimeout(DefaultTimeout))
	}
}

func TestLoadJWCCAllowsCommentsAndTrailingCommas(t *testing.T) {
	path := writeFile(t, "config.json", `{
  // the fleet
  "models": [
    {"alias": "fast", "model": "openai/gpt-4o-mini",},
  ],
}`)
	snap, err := Load(path, Defaults{})
	if err != nil {
		t.Fatal(err)
	}
	if snap.Len() != 1 {
		t.Errorf("profiles = %d", snap.Len())
	}
}

func TestLoadSkipsInvalidProfiles(t *testing.T) {
	path := writeFile(t, "config.yaml", `
models:
  - alias: good
    model: openai/gpt-4o
  - alias: ""
    model: openai/broken
  - alias: badkey
    model: openai/gpt-4o
    api_key: sk-literal-secret
`)
	snap, err := Load(path, Defaults{})
	if err != nil {
		t.Fatal(err)
	}
	if snap.Len() != 1 {
		t.Errorf("profiles = %d, invalid ones should be skipped", snap.Len())
	}
	if _, ok := snap.Profile("good"); !ok {
		t.Error("valid profile should survive")
	}
}

func TestLoadOptionalMissingFile(t *testing.T) {
	snap, err := LoadOptional(filepath.Join(t.TempDir(), "absent.yaml"), Defaults{})
	if err != nil {
		t.Fatal(err)
	}
	if snap.Len() != 0 {
		t.Errorf("profiles = %d", snap.Len())
	}
}

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("TEST_PROVIDER_KEY", "sk-from-env")
	p := &ModelProfile{APIKey: "os.environ/TEST_PROVIDER_KEY"}
	if got := p.ResolveAPIKey(); got != "sk-from-env" {
		t.Errorf("key = %q", got)
	}
	p = &ModelProfile{APIKey: "os.environ/UNSET_VAR_FOR_TEST"}
	if got := p.ResolveAPIKey(); got != "" {
		t.Errorf("unset var should resolve empty, got %q", got)
	}
	p = &ModelProfile{}
	if got := p.ResolveAPIKey(); got != "" {
		t.Errorf("empty ref = %q", got)
	}
}

func TestStoreReloadKeepsPreviousOnParseFailure(t *testing.T) {
	path := writeFile(t, "config.yaml", "models:\n  - alias: m\n    model: openai/gpt-4o\n")
	store, err := NewStore(path, Defaults{})
	if err != nil {
		t.Fatal(err)
	}
	if store.Snapshot().Len() != 1 {
		t.Fatalf("initial profiles = %d", store.Snapshot().Len())
	}

	if err := os.WriteFile(path, []byte("models: [not: valid: yaml"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := store.Reload(); err == nil {
		t.Error("reload of a broken file should report the error")
	}
	if store.Snapshot().Len() != 1 {
		t.Error("previous snapshot should remain in effect after a failed reload")
	}
}
