package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/holiman/uint256"
	"github.com/kysee/zkpool/zk-pool/chain"
	"github.com/kysee/zkpool/zk-pool/types"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log      LogConfig      `yaml:"log"`
	RPC      RPCConfig      `yaml:"rpc"`
	Pool     PoolConfig     `yaml:"pool"`
	Confirm  ConfirmConfig  `yaml:"confirm"`
	Batch    BatchConfig    `yaml:"batch"`
	Services ServicesConfig `yaml:"services"`
	Wallet   WalletConfig   `yaml:"wallet"`
	Store    StoreConfig    `yaml:"store"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type RPCConfig struct {
	Endpoints         []string      `yaml:"endpoints"`
	Websocket         string        `yaml:"websocket"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	MaxInFlight       int           `yaml:"max_in_flight"`
	Cooldown          time.Duration `yaml:"cooldown"`
	MaxCooldown       time.Duration `yaml:"max_cooldown"`
}

type PoolConfig struct {
	ID              string          `yaml:"id"`
	ProgramID       types.Address   `yaml:"program_id"`
	State           types.Address   `yaml:"state"`
	Vault           types.Address   `yaml:"vault"`
	VerificationKey types.Address   `yaml:"verification_key"`
	Shards          []types.Address `yaml:"shards"`
	Denomination    uint64          `yaml:"denomination"`
	RingCapacity    uint64          `yaml:"ring_capacity"`
	ShardCapacity   uint64          `yaml:"shard_capacity"`
	TreeDepth       int             `yaml:"tree_depth"`
}

type ConfirmConfig struct {
	Commitment   string        `yaml:"commitment"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	Concurrency  int           `yaml:"concurrency"`
}

type BatchConfig struct {
	ProofDelay time.Duration `yaml:"proof_delay"`
}

type ServicesConfig struct {
	Prover   string        `yaml:"prover"`
	Recovery string        `yaml:"recovery"`
	Relay    string        `yaml:"relay"`
	Timeout  time.Duration `yaml:"timeout"`
}

type WalletConfig struct {
	// Keypair is a JSON array of the 64-byte ed25519 private key.
	Keypair string `yaml:"keypair"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Pretty: true},
		RPC: RPCConfig{
			RequestsPerSecond: 8,
			Burst:             8,
			MaxInFlight:       4,
			Cooldown:          10 * time.Second,
			MaxCooldown:       60 * time.Second,
		},
		Pool: PoolConfig{TreeDepth: 20},
		Confirm: ConfirmConfig{
			Commitment:   chain.CommitmentFinalized,
			PollInterval: 2 * time.Second,
			Timeout:      90 * time.Second,
			CacheTTL:     10 * time.Minute,
			Concurrency:  1,
		},
		Batch:    BatchConfig{ProofDelay: 3 * time.Second},
		Services: ServicesConfig{Timeout: 2 * time.Minute},
		Store:    StoreConfig{Path: "notes.db"},
		Metrics:  MetricsConfig{Listen: "127.0.0.1:9464"},
	}
}

// LoadConfig reads path over the defaults. Keys missing from the file keep
// their default value.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	bz, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(bz, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.RPC.Endpoints) == 0 {
		return errors.New("rpc.endpoints must list at least one endpoint")
	}
	if c.RPC.RequestsPerSecond <= 0 {
		return errors.New("rpc.requests_per_second must be positive")
	}
	if c.RPC.MaxInFlight <= 0 {
		return errors.New("rpc.max_in_flight must be positive")
	}
	if c.Confirm.Concurrency <= 0 {
		return errors.New("confirm.concurrency must be positive")
	}
	switch c.Confirm.Commitment {
	case chain.CommitmentConfirmed, chain.CommitmentFinalized:
	default:
		return fmt.Errorf("confirm.commitment %q is not confirmed or finalized", c.Confirm.Commitment)
	}
	if c.Pool.ProgramID.IsZero() || c.Pool.State.IsZero() || c.Pool.Vault.IsZero() {
		return errors.New("pool program_id, state and vault are required")
	}
	if err := c.Pool.Config().Validate(); err != nil {
		return err
	}
	if c.Services.Prover == "" {
		return errors.New("services.prover is required")
	}
	return nil
}

// Config converts the yaml form into the immutable pool description.
func (p PoolConfig) Config() *types.PoolConfig {
	return &types.PoolConfig{
		ID:              p.ID,
		ProgramID:       p.ProgramID,
		State:           p.State,
		Vault:           p.Vault,
		VerificationKey: p.VerificationKey,
		Shards:          append([]types.Address(nil), p.Shards...),
		Denomination:    uint256.NewInt(p.Denomination),
		RingCapacity:    p.RingCapacity,
		ShardCapacity:   p.ShardCapacity,
		TreeDepth:       p.TreeDepth,
	}
}

func (c *Config) ExecutorConfig() chain.ExecutorConfig {
	ec := chain.DefaultExecutorConfig(c.RPC.Endpoints...)
	ec.RequestsPerSecond = c.RPC.RequestsPerSecond
	ec.Burst = c.RPC.Burst
	ec.MaxInFlight = c.RPC.MaxInFlight
	ec.Cooldown = c.RPC.Cooldown
	ec.MaxCooldown = c.RPC.MaxCooldown
	return ec
}
