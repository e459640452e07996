// Package resolver merges a client chat request with its configured model
// profile into a ready-to-send upstream invocation. The merge operates on
// the raw JSON body so unknown tunables pass through untouched.
package resolver

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/pborenstein/apantli/internal/apperr"
	"github.com/pborenstein/apantli/internal/config"
	"github.com/pborenstein/apantli/internal/provider"
)

// Resolved is the resolver output: routing data, the merged body, and the
// snapshot captured before any transformation for audit logging.
type Resolved struct {
	// Alias is the client-facing model name as requested.
	Alias string

	// Profile is the matched configuration. Immutable.
	Profile *config.ModelProfile

	// Provider is inferred from the profile's upstream identifier.
	Provider string

	// Invocation is the prepared upstream call.
	Invocation provider.Invocation

	// Snapshot is the client request body exactly as received, captured
	// before the merge. The ledger stores this at full fidelity.
	Snapshot []byte

	// Timeout and Retries are the effective execution bounds.
	Timeout time.Duration
	Retries int

	// Streaming reflects the request's stream flag.
	Streaming bool
}

// Resolve matches the request body's model alias against the snapshot and
// merges profile defaults into the body. Field precedence per tunable:
// explicit non-null client value, then profile value, then system default.
func Resolve(snap *config.Snapshot, body []byte) (*Resolved, error) {
	alias := gjson.GetBytes(body, "model").String()
	if alias == "" {
		return nil, apperr.New(apperr.KindValidation, "model is required")
	}

	prof, ok := snap.Profile(alias)
	if !ok {
		msg := "Model '" + alias + "' not found in configuration."
		if aliases := snap.Aliases(); len(aliases) > 0 {
			msg += " Available models: " + strings.Join(aliases, ", ")
		}
		return nil, apperr.New(apperr.KindModelNotFound, msg)
	}

	snapshot := make([]byte, len(body))
	copy(snapshot, body)

	merged, err := mergeBody(body, prof)
	if err != nil {
		return nil, apperr.Newf(apperr.KindValidation, "malformed request body: %v", err)
	}

	providerName := provider.Infer(prof.Model)
	baseURL := prof.BaseURL
	if baseURL == "" {
		baseURL, _ = provider.DefaultBaseURL(providerName)
	}

	defaults := snap.Defaults()
	return &Resolved{
		Alias:    alias,
		Profile:  prof,
		Provider: providerName,
		Invocation: provider.Invocation{
			Body:     merged,
			Provider: providerName,
			BaseURL:  baseURL,
			APIKey:   prof.ResolveAPIKey(),
		},
		Snapshot:  snapshot,
		Timeout:   prof.EffectiveTimeout(defaults.Timeout),
		Retries:   prof.EffectiveRetries(defaults.Retries),
		Streaming: gjson.GetBytes(body, "stream").Bool(),
	}, nil
}

// mergeBody rewrites the model to the bare upstream name and fills profile
// tunables where the client left them absent or null. Bookkeeping profile
// fields (cost rates, enable flag, credential reference, timeout, retries)
// never reach the body; forwarding them causes provider rejection.
func mergeBody(body []byte, prof *config.ModelProfile) ([]byte, error) {
	merged, err := sjson.SetBytes(body, "model", provider.UpstreamModel(prof.Model))
	if err != nil {
		return nil, err
	}

	// Clients occasionally try to smuggle credentials in the body.
	for _, key := range []string{"api_key", "api_base"} {
		if gjson.GetBytes(merged, key).Exists() {
			if merged, err = sjson.DeleteBytes(merged, key); err != nil {
				return nil, err
			}
		}
	}

	set := func(key string, value any) error {
		existing := gjson.GetBytes(merged, key)
		if existing.Exists() && existing.Type != gjson.Null {
			return nil
		}
		merged, err = sjson.SetBytes(merged, key, value)
		return err
	}

	if prof.Temperature != nil {
		if err := set("temperature", *prof.Temperature); err != nil {
			return nil, err
		}
	}
	if prof.MaxTokens != nil {
		if err := set("max_tokens", *prof.MaxTokens); err != nil {
			return nil, err
		}
	}
	for key, value := range prof.Params {
		if err := set(key, value); err != nil {
			return nil, err
		}
	}
	return merged, nil
}
