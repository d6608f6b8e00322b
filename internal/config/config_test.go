package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != 8080 {
		t.Errorf("default server port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Backtest.CommissionRate != 0.0003 {
		t.Errorf("default commission rate = %v, want 0.0003", cfg.Backtest.CommissionRate)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
app:
  name: aquant
  env: production
server:
  port: 9000
backtest:
  initial_capital: 500000
  commission_rate: 0.0005
sweep:
  workers: 8
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("server port = %d, want 9000", cfg.Server.Port)
	}
	if !cfg.IsProduction() {
		t.Error("expected production mode")
	}
	if cfg.Backtest.InitialCapital != 500000 {
		t.Errorf("initial capital = %v, want 500000", cfg.Backtest.InitialCapital)
	}
	if cfg.Sweep.Workers != 8 {
		t.Errorf("sweep workers = %d, want 8", cfg.Sweep.Workers)
	}
	// 未覆盖的字段保持默认值
	if cfg.Backtest.SellLevyRate != 0.001 {
		t.Errorf("sell levy rate = %v, want default 0.001", cfg.Backtest.SellLevyRate)
	}
}

func TestEnvOverlay(t *testing.T) {
	t.Setenv("QUANT_SERVER_PORT", "9090")
	t.Setenv("QUANT_DATABASE_HOST", "db.example.com")
	t.Setenv("QUANT_JWT_DURATION", "2h")

	cfg := Default()
	cfg.ApplyEnv(NewEnvManager("", ""))

	if cfg.Server.Port != 9090 {
		t.Errorf("server port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Database.Host != "db.example.com" {
		t.Errorf("database host = %q, want db.example.com", cfg.Database.Host)
	}
	if cfg.JWT.Duration != 2*time.Hour {
		t.Errorf("jwt duration = %v, want 2h", cfg.JWT.Duration)
	}
}

func TestEncryptedEnvRoundTrip(t *testing.T) {
	em := NewEnvManager("test-key", "QUANT_TEST_")

	if err := em.SetEncryptedString("SECRET", "p@ssw0rd"); err != nil {
		t.Fatalf("SetEncryptedString: %v", err)
	}
	defer os.Unsetenv("QUANT_TEST_SECRET")

	raw := os.Getenv("QUANT_TEST_SECRET")
	if raw == "p@ssw0rd" {
		t.Fatal("secret stored in plaintext")
	}
	got := em.GetEncryptedString("SECRET", "")
	if got != "p@ssw0rd" {
		t.Errorf("decrypted secret = %q, want p@ssw0rd", got)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"zero workers", func(c *Config) { c.Sweep.Workers = 0 }},
		{"bad backtest", func(c *Config) { c.Backtest.InitialCapital = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
