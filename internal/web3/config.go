package web3

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the structure of configs/chains.yaml.
type ChainDefinitions struct {
	Default string                     `yaml:"default"`
	Chains  map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single chain endpoint definition.
type ChainDefinition struct {
	Type        string `yaml:"type"`
	RPCURL      string `yaml:"rpc_url"`
	BatchRPCURL string `yaml:"batch_rpc_url"`
	Description string `yaml:"description"`
}

// LoadChainDefinitions parses the YAML file containing chain metadata. An
// empty path yields an empty set.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	if err := defs.Validate(); err != nil {
		return ChainDefinitions{}, err
	}
	return defs, nil
}

// Validate checks that every chain has an endpoint and that the default chain,
// when named, exists.
func (d ChainDefinitions) Validate() error {
	for _, name := range d.Names() {
		def := d.Chains[name]
		if strings.TrimSpace(def.RPCURL) == "" {
			return fmt.Errorf("链 %s 未配置 rpc_url", name)
		}
		switch strings.ToLower(strings.TrimSpace(def.Type)) {
		case "", "evm":
		default:
			return fmt.Errorf("链 %s 使用了不支持的类型 %s", name, def.Type)
		}
	}
	if d.Default != "" {
		if _, ok := d.Chains[d.Default]; !ok {
			return fmt.Errorf("默认链 %s 未在配置中找到", d.Default)
		}
	}
	return nil
}

// Names returns the chain names in lexical order.
func (d ChainDefinitions) Names() []string {
	names := make([]string, 0, len(d.Chains))
	for name := range d.Chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
