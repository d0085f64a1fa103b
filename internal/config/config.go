// Package config loads service configuration from a TOML file with
// environment overrides for deploy-time secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"vaultcore/internal/math"
)

// Duration parses TOML duration strings like "30s" or "15m".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Service struct {
	HTTPAddr    string `toml:"http_addr"`
	MetricsAddr string `toml:"metrics_addr"`
}

type Database struct {
	URL             string   `toml:"url"`
	MaxOpenConns    int      `toml:"max_open_conns"`
	MigrationsDir   string   `toml:"migrations_dir"`
	RunMigrations   bool     `toml:"run_migrations"`
	SnapshotEvery   Duration `toml:"snapshot_every"`
	PersistBatch    int      `toml:"persist_batch"`
	PersistFlushDur Duration `toml:"persist_flush_interval"`
}

type NATS struct {
	URL        string `toml:"url"`
	StreamName string `toml:"stream_name"`
	Durable    string `toml:"durable_name"`
}

type Chain struct {
	ChainID       int64  `toml:"chain_id"`
	FinalityDepth uint64 `toml:"finality_depth"`
	ReorgWindow   int    `toml:"reorg_window"`
}

type Target struct {
	Strategy  string `toml:"strategy"`
	TargetBps int64  `toml:"target_bps"`
}

type Vault struct {
	ID            string   `toml:"id"`
	ChainID       int64    `toml:"chain_id"`
	AssetDecimals int32    `toml:"asset_decimals"`
	Targets       []Target `toml:"targets"`
}

type Planner struct {
	DriftToleranceBps int64    `toml:"drift_tolerance_bps"`
	MaxSlippageBps    int64    `toml:"max_slippage_bps"`
	Validity          Duration `toml:"validity"`
}

type Oracle struct {
	// Valuation collector URL. Empty disables the pull loop; valuations
	// then arrive only over NATS.
	Endpoint string `toml:"endpoint"`

	Interval     Duration `toml:"interval"`
	FetchTimeout Duration `toml:"fetch_timeout"`
}

type Config struct {
	Service  Service  `toml:"service"`
	Database Database `toml:"database"`
	NATS     NATS     `toml:"nats"`
	Chains   []Chain  `toml:"chains"`
	Vaults   []Vault  `toml:"vaults"`
	Planner  Planner  `toml:"planner"`
	Oracle   Oracle   `toml:"oracle"`
}

// Load reads the TOML file at path, applies VAULT_* environment overrides
// and validates the result. A .env file in the working directory is loaded
// first if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Service: Service{
			HTTPAddr:    ":8080",
			MetricsAddr: ":9091",
		},
		Database: Database{
			MaxOpenConns:    10,
			MigrationsDir:   "migrations",
			PersistBatch:    100,
			PersistFlushDur: Duration(200 * time.Millisecond),
			SnapshotEvery:   Duration(time.Minute),
		},
		NATS: NATS{
			StreamName: "VAULT_EVENTS",
			Durable:    "vaultcore",
		},
		Planner: Planner{
			DriftToleranceBps: 100,
			MaxSlippageBps:    50,
			Validity:          Duration(15 * time.Minute),
		},
		Oracle: Oracle{
			Interval:     Duration(30 * time.Second),
			FetchTimeout: Duration(10 * time.Second),
		},
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("VAULT_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("VAULT_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("VAULT_HTTP_ADDR"); v != "" {
		cfg.Service.HTTPAddr = v
	}
	if v := os.Getenv("VAULT_METRICS_ADDR"); v != "" {
		cfg.Service.MetricsAddr = v
	}
	if v := os.Getenv("VAULT_ORACLE_ENDPOINT"); v != "" {
		cfg.Oracle.Endpoint = v
	}
}

func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("config: database.url is required")
	}
	if c.NATS.URL == "" {
		return fmt.Errorf("config: nats.url is required")
	}
	if len(c.Chains) == 0 {
		return fmt.Errorf("config: at least one chain is required")
	}
	if len(c.Vaults) == 0 {
		return fmt.Errorf("config: at least one vault is required")
	}

	chains := make(map[int64]bool, len(c.Chains))
	for _, ch := range c.Chains {
		if ch.FinalityDepth == 0 {
			return fmt.Errorf("config: chain %d finality_depth must be positive", ch.ChainID)
		}
		if ch.ReorgWindow <= 0 {
			return fmt.Errorf("config: chain %d reorg_window must be positive", ch.ChainID)
		}
		if uint64(ch.ReorgWindow) <= ch.FinalityDepth {
			return fmt.Errorf("config: chain %d reorg_window must exceed finality_depth", ch.ChainID)
		}
		if chains[ch.ChainID] {
			return fmt.Errorf("config: chain %d defined twice", ch.ChainID)
		}
		chains[ch.ChainID] = true
	}

	vaults := make(map[string]bool, len(c.Vaults))
	for _, v := range c.Vaults {
		if v.ID == "" {
			return fmt.Errorf("config: vault id is required")
		}
		if vaults[v.ID] {
			return fmt.Errorf("config: vault %s defined twice", v.ID)
		}
		vaults[v.ID] = true
		if !chains[v.ChainID] {
			return fmt.Errorf("config: vault %s references unknown chain %d", v.ID, v.ChainID)
		}
		var sum int64
		for _, t := range v.Targets {
			if t.TargetBps < 0 {
				return fmt.Errorf("config: vault %s strategy %s has negative target", v.ID, t.Strategy)
			}
			sum += t.TargetBps
		}
		if sum > math.FullBps {
			return fmt.Errorf("config: vault %s targets sum to %d bps", v.ID, sum)
		}
	}

	if c.Planner.DriftToleranceBps < 0 || c.Planner.MaxSlippageBps < 0 || c.Planner.Validity <= 0 {
		return fmt.Errorf("config: invalid planner section")
	}
	return nil
}

// VaultChain returns the chain config a vault lives on.
func (c *Config) VaultChain(vaultID string) (Chain, bool) {
	for _, v := range c.Vaults {
		if v.ID == vaultID {
			for _, ch := range c.Chains {
				if ch.ChainID == v.ChainID {
					return ch, true
				}
			}
		}
	}
	return Chain{}, false
}
