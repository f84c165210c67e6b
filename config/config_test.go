package config

import (
	"testing"
	"time"

	"pathscan/internal/transport"
)

// ── ParseTunnelSpec ──────────────────────────────────────────────────

func TestParseTunnelSpec(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantUser string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{"full", "admin@bastion.example.com:2222", "admin", "bastion.example.com", 2222, false},
		{"no port", "root@gateway", "root", "gateway", 22, false},
		{"no user", "jump-host:2200", "", "jump-host", 2200, false},
		{"host only", "gateway.local", "", "gateway.local", 22, false},
		{"bad port", "user@host:999999", "", "", 0, true},
		{"empty", "", "", "", 0, true},
		{"colon only", ":", "", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, host, port, err := ParseTunnelSpec(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr = %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if user != tt.wantUser || host != tt.wantHost || port != tt.wantPort {
				t.Errorf("got (%q, %q, %d), want (%q, %q, %d)",
					user, host, port, tt.wantUser, tt.wantHost, tt.wantPort)
			}
		})
	}
}

// ── Validate ─────────────────────────────────────────────────────────

func validConfig() *Config {
	cfg := Default()
	cfg.TCPSpec = "80,443,8000-8002"
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.CommandServer != DefaultCommandServer {
		t.Errorf("CommandServer = %q", cfg.CommandServer)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", cfg.Timeout)
	}
	if cfg.StartAttempts != DefaultStartAttempts || cfg.Format != "text" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestValidate_ResolvesPorts(t *testing.T) {
	cfg := validConfig()
	cfg.UDPSpec = "53, 123"
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if got := cfg.TCPPorts.String(); got != "80,443,8000-8002" {
		t.Errorf("TCPPorts = %q", got)
	}
	if got := cfg.UDPPorts.Size(); got != 2 {
		t.Errorf("UDPPorts size = %d, want 2", got)
	}

	scans := cfg.Ports()
	if len(scans) != 2 || scans[0].Kind != transport.TCP || scans[1].Kind != transport.UDP {
		t.Errorf("Ports() = %+v, want TCP then UDP", scans)
	}
}

func TestValidate_UDPOnly(t *testing.T) {
	cfg := Default()
	cfg.UDPSpec = "53"
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.TCPPorts != nil {
		t.Error("TCPPorts should stay nil")
	}
	if scans := cfg.Ports(); len(scans) != 1 || scans[0].Kind != transport.UDP {
		t.Errorf("Ports() = %+v", scans)
	}
}

func TestValidate_Tunnel(t *testing.T) {
	cfg := validConfig()
	cfg.TunnelSpec = "ops@bastion:2222"
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if !cfg.TunnelEnabled || cfg.TunnelUser != "ops" || cfg.TunnelHost != "bastion" || cfg.TunnelPort != 2222 {
		t.Errorf("tunnel not resolved: %+v", cfg)
	}
}

func TestValidate_VerifyCredentialsNeedsNoPorts(t *testing.T) {
	cfg := Default()
	cfg.VerifyCredentials = true
	cfg.Username = "alice"
	cfg.Password = "s3cret"
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
}
