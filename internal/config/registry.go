package config

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/emperorhan/wallet-history/internal/domain/model"
)

//go:embed chains.default.yaml
var defaultRegistryYAML []byte

type chainFile struct {
	Chains []chainEntry `yaml:"chains"`
}

type chainEntry struct {
	Name          string `yaml:"name"`
	DisplayName   string `yaml:"display_name"`
	Token         string `yaml:"token"`
	Decimals      int32  `yaml:"decimals"`
	AddressPrefix uint16 `yaml:"address_prefix"`
	SubscanURL    string `yaml:"subscan_url"`
	Governance    bool   `yaml:"governance"`
	// GovernanceModule overrides SUBSCAN_GOVERNANCE_MODULE for this chain.
	GovernanceModule string `yaml:"governance_module"`
}

// Registry resolves chain names to their metadata.
type Registry struct {
	byName map[model.Chain]model.ChainInfo
}

// LoadRegistry reads a chain registry YAML file. An empty path selects the
// built-in registry.
func LoadRegistry(path string) (*Registry, error) {
	data := defaultRegistryYAML
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read chain registry %s: %w", path, err)
		}
		data = raw
	}
	return ParseRegistry(data)
}

func ParseRegistry(data []byte) (*Registry, error) {
	var file chainFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse chain registry: %w", err)
	}
	if len(file.Chains) == 0 {
		return nil, fmt.Errorf("chain registry is empty")
	}

	r := &Registry{byName: make(map[model.Chain]model.ChainInfo, len(file.Chains))}
	for i, e := range file.Chains {
		info, err := e.validate()
		if err != nil {
			return nil, fmt.Errorf("chain registry entry %d: %w", i, err)
		}
		if _, dup := r.byName[info.Chain]; dup {
			return nil, fmt.Errorf("chain registry entry %d: duplicate chain %q", i, info.Chain)
		}
		r.byName[info.Chain] = info
	}
	return r, nil
}

func (e chainEntry) validate() (model.ChainInfo, error) {
	name := strings.ToLower(strings.TrimSpace(e.Name))
	if name == "" {
		return model.ChainInfo{}, fmt.Errorf("name is required")
	}
	if e.Token == "" {
		return model.ChainInfo{}, fmt.Errorf("%s: token is required", name)
	}
	if e.Decimals < 0 || e.Decimals > 30 {
		return model.ChainInfo{}, fmt.Errorf("%s: decimals %d out of range [0, 30]", name, e.Decimals)
	}
	u, err := url.Parse(e.SubscanURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return model.ChainInfo{}, fmt.Errorf("%s: subscan_url %q must be an absolute http(s) URL", name, e.SubscanURL)
	}
	module := strings.ToLower(strings.TrimSpace(e.GovernanceModule))
	if strings.ContainsAny(module, " \t/") {
		return model.ChainInfo{}, fmt.Errorf("%s: governance_module %q is not a pallet name", name, e.GovernanceModule)
	}
	display := e.DisplayName
	if display == "" {
		display = name
	}
	return model.ChainInfo{
		Chain:             model.Chain(name),
		DisplayName:       display,
		Token:             e.Token,
		Decimals:          e.Decimals,
		AddressPrefix:     e.AddressPrefix,
		SubscanURL:        strings.TrimRight(e.SubscanURL, "/"),
		GovernanceEnabled: e.Governance,
		GovernanceModule:  module,
	}, nil
}

func (r *Registry) Lookup(chain model.Chain) (model.ChainInfo, bool) {
	info, ok := r.byName[model.Chain(strings.ToLower(strings.TrimSpace(chain.String())))]
	return info, ok
}

// List returns every chain ordered by name.
func (r *Registry) List() []model.ChainInfo {
	out := make([]model.ChainInfo, 0, len(r.byName))
	for _, info := range r.byName {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Chain < out[j].Chain })
	return out
}
