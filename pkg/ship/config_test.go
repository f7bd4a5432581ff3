package ship

import (
	"errors"
	"testing"
	"time"

	"github.com/shipproto/ship-go/pkg/trust"
	"github.com/shipproto/ship-go/pkg/wire"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Role: RoleInitiator, Trust: trust.AllowAll()}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.HelloMaxWait != DefaultHelloMaxWait {
		t.Errorf("HelloMaxWait = %v, want %v", cfg.HelloMaxWait, DefaultHelloMaxWait)
	}
	if cfg.GateLevel != wire.GateNone {
		t.Errorf("GateLevel = %v, want none", cfg.GateLevel)
	}
	if len(cfg.Formats) == 0 {
		t.Error("Formats should default")
	}
	if cfg.Clock == nil || cfg.Logger == nil {
		t.Error("Clock and Logger should default")
	}
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		cfg := DefaultConfig()
		cfg.Role = RoleResponder
		cfg.Trust = trust.AllowAll()
		return cfg
	}

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"missing role", func(c *Config) { c.Role = 0 }},
		{"missing trust", func(c *Config) { c.Trust = nil }},
		{"bad format", func(c *Config) { c.Formats = []wire.Format{{}} }},
		{"too many formats", func(c *Config) { c.Formats = make([]wire.Format, wire.MaxFormats+1) }},
		{"prolong not below peer wait", func(c *Config) { c.HelloProlongInterval = c.HelloPeerWait }},
		{"peer wait above max wait", func(c *Config) { c.HelloPeerWait = c.HelloMaxWait + time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
			}
		})
	}

	cfg := valid()
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config: Validate() error = %v", err)
	}
}
