package daemon

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDiscoverConfigPathFrom_FirstMatchWins(t *testing.T) {
	cwd := t.TempDir()
	home := t.TempDir()

	projectConfig := filepath.Join(cwd, "rootstock.yaml")
	if err := os.WriteFile(projectConfig, []byte("primary: true"), 0o600); err != nil {
		t.Fatalf("WriteFile(project config) error = %v", err)
	}

	homeConfigDir := filepath.Join(home, ".rootstock")
	if err := os.MkdirAll(homeConfigDir, 0o755); err != nil {
		t.Fatalf("MkdirAll(home config dir) error = %v", err)
	}
	homeConfig := filepath.Join(homeConfigDir, "config.yaml")
	if err := os.WriteFile(homeConfig, []byte("primary: true"), 0o600); err != nil {
		t.Fatalf("WriteFile(home config) error = %v", err)
	}

	got, found, err := DiscoverConfigPathFrom("", cwd, home)
	if err != nil {
		t.Fatalf("DiscoverConfigPathFrom() error = %v", err)
	}
	if !found {
		t.Fatal("found = false, want true")
	}
	if got != projectConfig {
		t.Fatalf("path = %q, want %q", got, projectConfig)
	}
}

func TestDiscoverConfigPathFrom_HomeFallback(t *testing.T) {
	cwd := t.TempDir()
	home := t.TempDir()

	homeConfigDir := filepath.Join(home, ".rootstock")
	if err := os.MkdirAll(homeConfigDir, 0o755); err != nil {
		t.Fatalf("MkdirAll(home config dir) error = %v", err)
	}
	homeConfig := filepath.Join(homeConfigDir, "config.yaml")
	if err := os.WriteFile(homeConfig, []byte("primary: true"), 0o600); err != nil {
		t.Fatalf("WriteFile(home config) error = %v", err)
	}

	got, found, err := DiscoverConfigPathFrom("", cwd, home)
	if err != nil {
		t.Fatalf("DiscoverConfigPathFrom() error = %v", err)
	}
	if !found {
		t.Fatal("found = false, want true")
	}
	if got != homeConfig {
		t.Fatalf("path = %q, want %q", got, homeConfig)
	}
}

func TestDiscoverConfigPathFrom_ExplicitNotFound(t *testing.T) {
	_, found, err := DiscoverConfigPathFrom("/tmp/does-not-exist.yaml", t.TempDir(), t.TempDir())
	if err == nil {
		t.Fatal("expected error for missing explicit config path")
	}
	if found {
		t.Fatal("found = true, want false")
	}
}

func TestDiscoverConfigPathFrom_NoneFound(t *testing.T) {
	got, found, err := DiscoverConfigPathFrom("", t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatalf("DiscoverConfigPathFrom() error = %v", err)
	}
	if found {
		t.Fatalf("found = true with path %q, want false", got)
	}
}

func TestLoadConfig_FillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rootstock.yaml")
	content := `
instance_id: node-a
primary: false
sqlite_path: /var/lib/rootstock/rootstock.db
bus:
  queue_size: 128
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile(config) error = %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.InstanceID != "node-a" {
		t.Fatalf("InstanceID = %q, want %q", cfg.InstanceID, "node-a")
	}
	if cfg.Primary {
		t.Fatal("Primary = true, want false")
	}
	if cfg.Listen != DefaultConfig().Listen {
		t.Fatalf("Listen = %q, want default %q", cfg.Listen, DefaultConfig().Listen)
	}
	if cfg.Bus.QueueSize != 128 {
		t.Fatalf("Bus.QueueSize = %d, want 128", cfg.Bus.QueueSize)
	}
	if cfg.Bus.MaxConcurrent != 0 {
		t.Fatalf("Bus.MaxConcurrent = %d, want 0", cfg.Bus.MaxConcurrent)
	}
}

func TestLoadConfig_RejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rootstock.yaml")
	if err := os.WriteFile(path, []byte("listen: [::bad"), 0o600); err != nil {
		t.Fatalf("WriteFile(config) error = %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "default ok", cfg: DefaultConfig()},
		{
			name:    "empty listen",
			cfg:     Config{},
			wantErr: "listen address",
		},
		{
			name:    "negative queue size",
			cfg:     Config{Listen: ":0", Bus: BusConfig{QueueSize: -1}},
			wantErr: "queue_size",
		},
		{
			name:    "negative max concurrent",
			cfg:     Config{Listen: ":0", Bus: BusConfig{MaxConcurrent: -4}},
			wantErr: "max_concurrent",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
