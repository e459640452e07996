// Package config owns the model profile catalog. Profiles are loaded from a
// YAML or JWCC file into an immutable snapshot that is swapped atomically on
// reload; nothing mutates a published snapshot in place.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

// Defaults are the system fallbacks applied when neither the client request
// nor the profile specifies a value.
type Defaults struct {
	Timeout time.Duration
	Retries int
}

// DefaultTimeout and DefaultRetries match the CLI defaults.
const (
	DefaultTimeout = 120 * time.Second
	DefaultRetries = 3
)

// ModelProfile describes how to invoke one upstream model. A profile is
// immutable after load; reload replaces the whole snapshot.
type ModelProfile struct {
	// Alias is the client-facing model name.
	Alias string `yaml:"alias" json:"alias"`

	// Model is the upstream identifier, usually "provider/model".
	Model string `yaml:"model" json:"model"`

	// APIKey is an environment reference in the form "os.environ/VAR".
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// BaseURL overrides the provider endpoint.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	// Timeout and Retries override the system defaults for this model.
	Timeout *int `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Retries *int `yaml:"retries,omitempty" json:"retries,omitempty"`

	// Default tunables forwarded upstream unless the client overrides them.
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	MaxTokens   *int     `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`

	// Params holds additional tunables forwarded verbatim (top_p, stop, ...).
	Params map[string]any `yaml:"params,omitempty" json:"params,omitempty"`

	// Cost rates in dollars per million tokens. Bookkeeping only; these are
	// stripped before the request is forwarded upstream.
	InputCostPerMTok  float64 `yaml:"input_cost_per_mtok,omitempty" json:"input_cost_per_mtok,omitempty"`
	OutputCostPerMTok float64 `yaml:"output_cost_per_mtok,omitempty" json:"output_cost_per_mtok,omitempty"`

	// Enabled allows hiding a profile without deleting it. Default true.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// IsEnabled reports whether the profile accepts traffic.
func (p *ModelProfile) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// ResolveAPIKey dereferences the os.environ/VAR reference at call time.
// A missing variable yields an empty key; the upstream call then fails with
// an authentication error rather than a config error.
func (p *ModelProfile) ResolveAPIKey() string {
	ref := p.APIKey
	if ref == "" {
		return ""
	}
	if strings.HasPrefix(ref, "os.environ/") {
		return os.Getenv(strings.TrimPrefix(ref, "os.environ/"))
	}
	return ref
}

// EffectiveTimeout returns the profile timeout or the given default.
func (p *ModelProfile) EffectiveTimeout(def time.Duration) time.Duration {
	if p.Timeout != nil && *p.Timeout > 0 {
		return time.Duration(*p.Timeout) * time.Second
	}
	return def
}

// EffectiveRetries returns the profile retry count or the given default.
func (p *ModelProfile) EffectiveRetries(def int) int {
	if p.Retries != nil && *p.Retries >= 0 {
		return *p.Retries
	}
	return def
}

func (p *ModelProfile) validate() error {
	if p.Alias == "" {
		return fmt.Errorf("profile missing alias")
	}
	if p.Model == "" {
		return fmt.Errorf("profile %q missing model", p.Alias)
	}
	if p.APIKey != "" && !strings.HasPrefix(p.APIKey, "os.environ/") {
		return fmt.Errorf("profile %q: api_key must use the os.environ/VAR form", p.Alias)
	}
	if p.Timeout != nil && *p.Timeout <= 0 {
		return fmt.Errorf("profile %q: timeout must be positive", p.Alias)
	}
	if p.Retries != nil && *p.Retries < 0 {
		return fmt.Errorf("profile %q: retries must be non-negative", p.Alias)
	}
	if p.InputCostPerMTok < 0 || p.OutputCostPerMTok < 0 {
		return fmt.Errorf("profile %q: cost rates must be non-negative", p.Alias)
	}
	return nil
}

// Snapshot is an immutable view of the loaded profiles.
type Snapshot struct {
	profiles map[string]*ModelProfile
	aliases  []string
	defaults Defaults
}

// NewSnapshot builds a snapshot from validated profiles.
func NewSnapshot(profiles []*ModelProfile, defaults Defaults) *Snapshot {
	if defaults.Timeout <= 0 {
		defaults.Timeout = DefaultTimeout
	}
	if defaults.Retries < 0 {
		defaults.Retries = DefaultRetries
	}
	byAlias := make(map[string]*ModelProfile, len(profiles))
	aliases := make([]string, 0, len(profiles))
	for _, p := range profiles {
		if !p.IsEnabled() {
			continue
		}
		byAlias[p.Alias] = p
		aliases = append(aliases, p.Alias)
	}
	sort.Strings(aliases)
	return &Snapshot{profiles: byAlias, aliases: aliases, defaults: defaults}
}

// Profile looks up a profile by alias.
func (s *Snapshot) Profile(alias string) (*ModelProfile, bool) {
	p, ok := s.profiles[alias]
	return p, ok
}

// Aliases returns the sorted client-facing model names.
func (s *Snapshot) Aliases() []string { return s.aliases }

// Defaults returns the system fallbacks bound to this snapshot.
func (s *Snapshot) Defaults() Defaults { return s.defaults }

// Len reports how many enabled profiles are loaded.
func (s *Snapshot) Len() int { return len(s.profiles) }
