package config

import (
	"testing"
)

func validConfig() Config {
	return Config{
		Server:  GatewayServerConfig{Port: 8787},
		Session: SessionConfig{MaxConcurrent: 10, WarningHours: 20, TimeoutHours: 24},
		Queue:   QueueConfig{TTLHours: 24},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := validConfig()
	if err := validate(&cfg); err != nil {
		t.Fatalf("expected a default-shaped config to validate, got %v", err)
	}
}

func TestValidateRejectsOutOfRangePort(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 70000
	if err := validate(&cfg); err == nil {
		t.Fatal("expected an out-of-range port to fail validation")
	}
}

func TestValidateRejectsWarningHoursAtOrAboveTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.Session.WarningHours = 24
	cfg.Session.TimeoutHours = 24
	if err := validate(&cfg); err == nil {
		t.Fatal("expected warningHours >= timeoutHours to fail validation")
	}
}

func TestValidateRejectsUnknownSandbox(t *testing.T) {
	cfg := validConfig()
	cfg.AgentCLI.Sandbox = "vm"
	if err := validate(&cfg); err == nil {
		t.Fatal("expected an unrecognized sandbox value to fail validation")
	}
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "verbose"
	if err := validate(&cfg); err == nil {
		t.Fatal("expected an unrecognized log level to fail validation")
	}
}

func TestLoadWithPathAppliesDefaultsWithoutAConfigFile(t *testing.T) {
	cfg, err := LoadWithPath(t.TempDir())
	if err != nil {
		t.Fatalf("expected defaults alone to satisfy validation, got %v", err)
	}
	if cfg.Server.Port != 8787 {
		t.Fatalf("expected default port 8787, got %d", cfg.Server.Port)
	}
	if cfg.Session.TimeoutHours != 24 || cfg.Session.WarningHours != 20 {
		t.Fatalf("expected default session timeouts, got %+v", cfg.Session)
	}
}

func TestLoadWithPathHonorsEnvOverride(t *testing.T) {
	t.Setenv("AGENTGATE_SERVER_PORT", "9999")
	cfg, err := LoadWithPath(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Fatalf("expected env override to set port=9999, got %d", cfg.Server.Port)
	}
}

func TestSessionConfigDurationHelpers(t *testing.T) {
	s := SessionConfig{TimeoutHours: 2, WarningHours: 1}
	if s.Timeout().Hours() != 2 {
		t.Fatalf("expected Timeout()=2h, got %v", s.Timeout())
	}
	if s.WarningAt().Hours() != 1 {
		t.Fatalf("expected WarningAt()=1h, got %v", s.WarningAt())
	}
}
