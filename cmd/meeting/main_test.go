package main

import (
	"testing"

	"go.uber.org/zap"

	"github.com/aura-webinar/meshmeet/config"
	"github.com/aura-webinar/meshmeet/internal/auth"
	"github.com/aura-webinar/meshmeet/internal/models"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"create", []string{"--create", "Math", "--camera"}, false},
		{"join", []string{"--join", "m1", "--name", "Bob"}, false},
		{"neither", []string{"--name", "Bob"}, true},
		{"both", []string{"--create", "Math", "--join", "m1"}, true},
		{"unknown flag", []string{"--create", "Math", "--bogus"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFlags(tt.args)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseFlags(%v) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			}
		})
	}
}

func TestFlagsOverrideConfig(t *testing.T) {
	opts, err := parseFlags([]string{"--join", "m1", "--name", "Bob", "--signaling-url", "ws://relay/ws", "--diagnostics-addr", ":9999"})
	if err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{}
	cfg.Identity.Name = "env name"
	cfg.Diagnostics.Addr = "127.0.0.1:8090"
	opts.apply(cfg)

	if cfg.Identity.Name != "Bob" {
		t.Errorf("name = %q", cfg.Identity.Name)
	}
	if cfg.Signaling.RelayURL != "ws://relay/ws" {
		t.Errorf("relay url = %q", cfg.Signaling.RelayURL)
	}
	if cfg.Diagnostics.Addr != ":9999" {
		t.Errorf("diagnostics addr = %q", cfg.Diagnostics.Addr)
	}
}

func TestIdentityFromToken(t *testing.T) {
	cfg := &config.Config{}
	cfg.JWT.Secret = "s3cret"
	cfg.JWT.ExpireHours = 1
	token, err := auth.NewJWTService(cfg.JWT.Secret, 1).Generate("u-42", "Ada", "")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Identity.Token = token

	p, err := newIdentity(cfg)
	if err != nil {
		t.Fatal(err)
	}
	id, err := p.Current()
	if err != nil || id.ID != "u-42" || id.Name != "Ada" {
		t.Errorf("Current() = %+v, %v", id, err)
	}

	cfg.Identity.Token = token + "x"
	if _, err := newIdentity(cfg); err == nil {
		t.Error("expected error for tampered token")
	}
}

func TestIdentityWithoutToken(t *testing.T) {
	cfg := &config.Config{}
	cfg.Identity.Name = "Bob"
	p, err := newIdentity(cfg)
	if err != nil {
		t.Fatal(err)
	}
	id, err := p.Current()
	if err != nil || id.ID == "" || id.Name != "Bob" {
		t.Errorf("Current() = %+v, %v", id, err)
	}
}

func TestLogEventDoesNotPanicOnPayloads(t *testing.T) {
	l := logEvent(zap.NewNop())
	l(models.Event{Type: models.EventChatMessage, Data: models.ChatMessage{Message: "hi", SenderName: "A"}})
	l(models.Event{Type: models.EventConnectionState, Data: "failed"})
	l(models.Event{Type: models.EventMeetingEnded})
}
