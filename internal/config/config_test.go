package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleConfig = `
[service]
http_addr = ":8085"

[database]
url = "postgres://localhost/vaultcore?sslmode=disable"
run_migrations = true

[nats]
url = "nats://localhost:4222"

[[chains]]
chain_id = 1
finality_depth = 12
reorg_window = 64

[[vaults]]
id = "vault-1"
chain_id = 1
asset_decimals = 6

  [[vaults.targets]]
  strategy = "aave"
  target_bps = 6000

  [[vaults.targets]]
  strategy = "compound"
  target_bps = 3000

[planner]
drift_tolerance_bps = 150
max_slippage_bps = 40
validity = "10m"

[oracle]
interval = "45s"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vaultcore.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Service.HTTPAddr != ":8085" {
		t.Errorf("http addr got %s, want :8085", cfg.Service.HTTPAddr)
	}
	if cfg.Service.MetricsAddr != ":9091" {
		t.Errorf("metrics addr default got %s, want :9091", cfg.Service.MetricsAddr)
	}
	if len(cfg.Vaults) != 1 || len(cfg.Vaults[0].Targets) != 2 {
		t.Fatalf("vaults got %+v, want one vault with two targets", cfg.Vaults)
	}
	if cfg.Planner.Validity.Std() != 10*time.Minute {
		t.Errorf("validity got %s, want 10m", cfg.Planner.Validity.Std())
	}
	if cfg.Oracle.Interval.Std() != 45*time.Second {
		t.Errorf("oracle interval got %s, want 45s", cfg.Oracle.Interval.Std())
	}
	if cfg.Oracle.FetchTimeout.Std() != 10*time.Second {
		t.Errorf("fetch timeout default got %s, want 10s", cfg.Oracle.FetchTimeout.Std())
	}

	chain, ok := cfg.VaultChain("vault-1")
	if !ok || chain.FinalityDepth != 12 {
		t.Errorf("vault chain got %+v ok=%v, want finality 12", chain, ok)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("VAULT_DATABASE_URL", "postgres://prod/vaultcore")
	t.Setenv("VAULT_HTTP_ADDR", ":9000")
	t.Setenv("VAULT_ORACLE_ENDPOINT", "http://collector:9100/values")

	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.URL != "postgres://prod/vaultcore" {
		t.Errorf("database url got %s, want env override", cfg.Database.URL)
	}
	if cfg.Service.HTTPAddr != ":9000" {
		t.Errorf("http addr got %s, want :9000", cfg.Service.HTTPAddr)
	}
	if cfg.Oracle.Endpoint != "http://collector:9100/values" {
		t.Errorf("oracle endpoint got %s, want env override", cfg.Oracle.Endpoint)
	}
}

func TestLoadRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{
			name:    "overfull targets",
			mutate:  func(s string) string { return strings.Replace(s, "target_bps = 6000", "target_bps = 8000", 1) },
			wantErr: "targets sum",
		},
		{
			name: "missing database",
			mutate: func(s string) string {
				return strings.Replace(s, "url = \"postgres://localhost/vaultcore?sslmode=disable\"", "", 1)
			},
			wantErr: "database.url",
		},
		{
			name: "unknown chain",
			mutate: func(s string) string {
				return strings.Replace(s, "chain_id = 1\nasset_decimals", "chain_id = 5\nasset_decimals", 1)
			},
			wantErr: "unknown chain",
		},
		{
			name:    "window below finality",
			mutate:  func(s string) string { return strings.Replace(s, "reorg_window = 64", "reorg_window = 4", 1) },
			wantErr: "reorg_window",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, c.mutate(sampleConfig)))
			if err == nil || !strings.Contains(err.Error(), c.wantErr) {
				t.Errorf("got err %v, want containing %q", err, c.wantErr)
			}
		})
	}
}
