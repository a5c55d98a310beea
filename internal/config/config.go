// Package config loads the executor's chain, provider and token configuration.
//
// The file is YAML. ${VAR} references are expanded from the environment before
// parsing so provider URLs can carry API keys without committing them.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/archon-research/stl-trade/internal/domain/entity"
)

// Config is the root of the executor configuration file.
type Config struct {
	DefaultChainID int64   `yaml:"defaultChainId"`
	Chains         []Chain `yaml:"chains"`
}

// Chain describes one chain the executor trades on.
type Chain struct {
	ChainID   int64      `yaml:"chainId"`
	Name      string     `yaml:"name"`
	Router    string     `yaml:"router"`
	Providers []Provider `yaml:"providers"`
	Tokens    []Token    `yaml:"tokens"`
	// CallTimeout bounds each provider call. Zero uses the pool default.
	CallTimeout time.Duration `yaml:"callTimeout"`
}

// Provider is a JSON-RPC endpoint. Order in the list is failover priority.
type Provider struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Token is a tradable ERC20 token.
type Token struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Decimals uint8  `yaml:"decimals"`
}

// Load reads, expands and validates the configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse expands environment references in raw and decodes it.
func Parse(raw []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(raw))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.DefaultChainID == 0 && len(cfg.Chains) > 0 {
		cfg.DefaultChainID = cfg.Chains[0].ChainID
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for missing or inconsistent values.
func (c *Config) Validate() error {
	if len(c.Chains) == 0 {
		return errors.New("at least one chain must be configured")
	}

	var ids []int64
	for i, chain := range c.Chains {
		if chain.ChainID <= 0 {
			return fmt.Errorf("chains[%d]: chainId must be positive, got %d", i, chain.ChainID)
		}
		if slices.Contains(ids, chain.ChainID) {
			return fmt.Errorf("chains[%d]: duplicate chainId %d", i, chain.ChainID)
		}
		ids = append(ids, chain.ChainID)

		if !common.IsHexAddress(chain.Router) {
			return fmt.Errorf("chain %d: router %q is not a valid address", chain.ChainID, chain.Router)
		}
		if len(chain.Providers) == 0 {
			return fmt.Errorf("chain %d: at least one provider is required", chain.ChainID)
		}
		var names []string
		for j, p := range chain.Providers {
			if p.Name == "" {
				return fmt.Errorf("chain %d: providers[%d]: name is required", chain.ChainID, j)
			}
			if slices.Contains(names, p.Name) {
				return fmt.Errorf("chain %d: duplicate provider name %q", chain.ChainID, p.Name)
			}
			names = append(names, p.Name)
			u, err := url.Parse(p.URL)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return fmt.Errorf("chain %d: provider %q: url must be http(s)", chain.ChainID, p.Name)
			}
		}
		for j, t := range chain.Tokens {
			if !common.IsHexAddress(t.Address) {
				return fmt.Errorf("chain %d: tokens[%d] (%s): invalid address %q", chain.ChainID, j, t.Symbol, t.Address)
			}
		}
	}

	if !slices.Contains(ids, c.DefaultChainID) {
		return fmt.Errorf("defaultChainId %d is not a configured chain", c.DefaultChainID)
	}
	return nil
}

// RouterAddresses returns the swap router per chain.
func (c *Config) RouterAddresses() map[int64]common.Address {
	routers := make(map[int64]common.Address, len(c.Chains))
	for _, chain := range c.Chains {
		routers[chain.ChainID] = common.HexToAddress(chain.Router)
	}
	return routers
}

// TokenRegistry builds the registry of every configured token.
func (c *Config) TokenRegistry() (*entity.TokenRegistry, error) {
	var tokens []*entity.Token
	for _, chain := range c.Chains {
		for _, t := range chain.Tokens {
			token, err := entity.NewToken(chain.ChainID, t.Symbol, common.HexToAddress(t.Address), t.Decimals)
			if err != nil {
				return nil, fmt.Errorf("chain %d: %w", chain.ChainID, err)
			}
			tokens = append(tokens, token)
		}
	}
	return entity.NewTokenRegistry(tokens)
}
