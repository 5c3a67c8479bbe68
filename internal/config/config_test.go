package config

import (
	"path/filepath"
	"strings"
	"testing"
)

func testConfigPath(t *testing.T) string {
	t.Helper()

	// Get the project root by going up from internal/config
	projectRoot, err := filepath.Abs("../../")
	if err != nil {
		t.Fatalf("failed to get project root: %v", err)
	}

	return filepath.Join(projectRoot, "etc") + string(filepath.Separator)
}

func TestReadConfig(t *testing.T) {
	cfg, err := ReadConfig(testConfigPath(t))
	if err != nil {
		t.Fatalf("ReadConfig() error = %v", err)
	}

	// Test basic config fields
	if cfg.Title == "" {
		t.Error("Config.Title should not be empty")
	}

	// Test DB config
	if cfg.DB.Host == "" {
		t.Error("DB.Host should not be empty")
	}

	if cfg.DB.GormEngine == "" {
		t.Error("DB.GormEngine should not be empty")
	}

	// Defaults must be filled in by validate.
	if cfg.Lock.Backend == "" {
		t.Error("Lock.Backend should be defaulted")
	}

	if cfg.Sync.SchedulerIntervalSeconds == 0 {
		t.Error("Sync.SchedulerIntervalSeconds should be defaulted")
	}

	if cfg.Sync.TaskCeilingHours == 0 {
		t.Error("Sync.TaskCeilingHours should be defaulted")
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:    "empty lock backend defaults to memory",
			config:  Config{},
			wantErr: false,
		},
		{
			name: "redis backend with address",
			config: Config{
				Lock: Lock{Backend: "redis", RedisAddr: "127.0.0.1:6379"},
			},
			wantErr: false,
		},
		{
			name: "redis backend without address",
			config: Config{
				Lock: Lock{Backend: "redis"},
			},
			wantErr: true,
		},
		{
			name: "unknown lock backend",
			config: Config{
				Lock: Lock{Backend: "zookeeper"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate(&tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateFillsDefaults(t *testing.T) {
	cfg := Config{}

	if err := validate(&cfg); err != nil {
		t.Fatalf("validate() error = %v", err)
	}

	if cfg.Lock.Backend != "memory" {
		t.Errorf("Lock.Backend = %v, want memory", cfg.Lock.Backend)
	}

	if cfg.Sync.SchedulerIntervalSeconds != 60 {
		t.Errorf("Sync.SchedulerIntervalSeconds = %v, want 60", cfg.Sync.SchedulerIntervalSeconds)
	}

	if cfg.Sync.ReapIntervalSeconds != 3600 {
		t.Errorf("Sync.ReapIntervalSeconds = %v, want 3600", cfg.Sync.ReapIntervalSeconds)
	}

	if cfg.Sync.TaskCeilingHours != 24 {
		t.Errorf("Sync.TaskCeilingHours = %v, want 24", cfg.Sync.TaskCeilingHours)
	}

	if cfg.Sync.LockTTLMinutes != 120 {
		t.Errorf("Sync.LockTTLMinutes = %v, want 120", cfg.Sync.LockTTLMinutes)
	}
}

func TestReadConfigWithJSONOverride(t *testing.T) {
	// Set JSON override environment variable
	jsonOverride := `{"Title":"Test Override","Sync":{"TaskCeilingHours":48}}`
	t.Setenv("BK_USER_SYNC_CONFIG_JSON", jsonOverride)

	cfg, err := ReadConfig(testConfigPath(t))
	if err != nil {
		t.Fatalf("ReadConfig() error = %v", err)
	}

	if cfg.Title != "Test Override" {
		t.Errorf("Title = %v, want %v", cfg.Title, "Test Override")
	}

	if cfg.Sync.TaskCeilingHours != 48 {
		t.Errorf("Sync.TaskCeilingHours = %v, want %v", cfg.Sync.TaskCeilingHours, 48)
	}
}

func TestDumpConfig(t *testing.T) {
	cfg := Config{
		Title:   "Test",
		DevMode: true,
		Lock: Lock{
			Backend: "memory",
		},
	}

	tomlStr, err := DumpConfig(&cfg)
	if err != nil {
		t.Fatalf("DumpConfig() error = %v", err)
	}

	if tomlStr == "" {
		t.Error("DumpConfig() returned empty string")
	}

	// Check if output contains expected values
	if !strings.Contains(tomlStr, "Test") {
		t.Error("DumpConfig() output should contain Title")
	}
}

func TestDumpConfigJSON(t *testing.T) {
	cfg := Config{
		Title:   "Test",
		DevMode: true,
	}

	jsonStr, err := DumpConfigJSON(&cfg)
	if err != nil {
		t.Fatalf("DumpConfigJSON() error = %v", err)
	}

	if jsonStr == "" {
		t.Error("DumpConfigJSON() returned empty string")
	}

	// Check if output is valid JSON by checking for expected fields
	if !strings.Contains(jsonStr, "Test") {
		t.Error("DumpConfigJSON() output should contain Title")
	}
}
