package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"

	log "github.com/pborenstein/apantli/internal/logging"
)

// fileSchema is the on-disk shape of the config file.
type fileSchema struct {
	Models []*ModelProfile `yaml:"models" json:"models"`
}

// Load reads and validates the profile catalog from path. YAML is the
// primary format; .json and .hujson files are parsed as JWCC so comments
// and trailing commas are allowed.
func Load(path string, defaults Defaults) (*Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var schema fileSchema
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".hujson":
		std, err := hujson.Standardize(raw)
		if err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		if err := sonic.Unmarshal(std, &schema); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	valid := make([]*ModelProfile, 0, len(schema.Models))
	for _, p := range schema.Models {
		if p == nil {
			continue
		}
		if err := p.validate(); err != nil {
			log.Warnf("config: skipping invalid profile: %v", err)
			continue
		}
		if ref, ok := strings.CutPrefix(p.APIKey, "os.environ/"); ok {
			if _, set := os.LookupEnv(ref); !set {
				log.Warnf("config: profile %q references unset env var %s; requests will fail authentication", p.Alias, ref)
			}
		}
		valid = append(valid, p)
	}

	return NewSnapshot(valid, defaults), nil
}

// LoadOptional behaves like Load, except a missing file returns an empty
// snapshot so the server can start and report ModelNotFound per request.
func LoadOptional(path string, defaults Defaults) (*Snapshot, error) {
	snap, err := Load(path, defaults)
	if err != nil {
		if os.IsNotExist(err) || strings.Contains(err.Error(), "no such file") {
			log.Warnf("config: %s not found, starting with no models", path)
			return NewSnapshot(nil, defaults), nil
		}
		return nil, err
	}
	return snap, nil
}
