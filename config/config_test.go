package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"SIGNALING_BROADCAST", "RECOVERY_DISCONNECT_CHECK", "RECOVERY_MAX_ATTEMPTS", "RECOVERY_RELAY_ONLY_AFTER", "WEBRTC_ICE_URLS", "DIAGNOSTICS_CAPACITY"} {
		t.Setenv(key, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Signaling.Broadcast != "memory" {
		t.Errorf("broadcast = %q", cfg.Signaling.Broadcast)
	}
	if cfg.Recovery.DisconnectCheckDelay != 1500*time.Millisecond {
		t.Errorf("disconnect check = %v", cfg.Recovery.DisconnectCheckDelay)
	}
	if cfg.Recovery.MaxAttempts != 10 || cfg.Recovery.RelayOnlyAfter != 3 {
		t.Errorf("recovery = %+v", cfg.Recovery)
	}
	if len(cfg.WebRTC.ICEUrls) != 1 || cfg.WebRTC.ICEUrls[0] != "stun:stun.l.google.com:19302" {
		t.Errorf("ice urls = %v", cfg.WebRTC.ICEUrls)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SIGNALING_BROADCAST", "Redis")
	t.Setenv("SIGNALING_CONNECT_TIMEOUT", "250")
	t.Setenv("RECOVERY_RECONNECT_DELAY", "2s")
	t.Setenv("RECOVERY_MAX_ATTEMPTS", "0")
	t.Setenv("WEBRTC_ICE_URLS", " stun:a:3478 , turn:b:3478 ,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Signaling.Broadcast != "redis" {
		t.Errorf("broadcast = %q", cfg.Signaling.Broadcast)
	}
	if cfg.Signaling.ConnectTimeout != 250*time.Millisecond {
		t.Errorf("connect timeout = %v", cfg.Signaling.ConnectTimeout)
	}
	if cfg.Recovery.ReconnectDelay != 2*time.Second {
		t.Errorf("reconnect delay = %v", cfg.Recovery.ReconnectDelay)
	}
	if cfg.Recovery.MaxAttempts != 0 {
		t.Errorf("max attempts = %d", cfg.Recovery.MaxAttempts)
	}
	want := []string{"stun:a:3478", "turn:b:3478"}
	if len(cfg.WebRTC.ICEUrls) != len(want) {
		t.Fatalf("ice urls = %v", cfg.WebRTC.ICEUrls)
	}
	for i := range want {
		if cfg.WebRTC.ICEUrls[i] != want[i] {
			t.Errorf("ice url %d = %q, want %q", i, cfg.WebRTC.ICEUrls[i], want[i])
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"ok", func(*Config) {}, false},
		{"unknown broadcast", func(c *Config) { c.Signaling.Broadcast = "carrier-pigeon" }, true},
		{"negative attempts", func(c *Config) { c.Recovery.MaxAttempts = -1 }, true},
		{"empty ring", func(c *Config) { c.Diagnostics.Capacity = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{
				Signaling:   SignalingConfig{Broadcast: "memory"},
				Diagnostics: DiagnosticsConfig{Capacity: 100},
			}
			tt.mutate(c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
