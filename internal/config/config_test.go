package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Synth.DefaultVoice != "Joanna" {
		t.Fatalf("expected default voice Joanna, got %q", cfg.Synth.DefaultVoice)
	}
	if cfg.Speech.Policy != "queue" {
		t.Fatalf("expected default policy queue, got %q", cfg.Speech.Policy)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VOXD_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("VOXD_BUS_USERNAME", "alice")
	t.Setenv("VOXD_BUS_PASSWORD", "secret")
	t.Setenv("VOXD_CACHE_PATH", "./tmp.db")
	t.Setenv("VOXD_CACHE_MAX_BYTES", "12345")
	t.Setenv("VOXD_SYNTH_ENGINE", "exec")
	t.Setenv("VOXD_SYNTH_COMMAND", "piper --json")
	t.Setenv("VOXD_SYNTH_DEFAULT_VOICE", "Amy")
	t.Setenv("VOXD_SPEECH_POLICY", "preempt")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if cfg.Cache.Path != "./tmp.db" {
		t.Fatalf("expected cache path override")
	}
	if cfg.Cache.MaxBytes != 12345 {
		t.Fatalf("expected cache max bytes override, got %d", cfg.Cache.MaxBytes)
	}
	if cfg.Synth.Engine != "exec" {
		t.Fatalf("expected engine override")
	}
	if cfg.Synth.DefaultVoice != "Amy" {
		t.Fatalf("expected voice override")
	}
	if cfg.Speech.Policy != "preempt" {
		t.Fatalf("expected policy override")
	}
}

func TestValidateRejectsBadEngine(t *testing.T) {
	t.Setenv("VOXD_SYNTH_ENGINE", "festival")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unknown engine")
	}
}

func TestValidateRejectsExecWithoutCommand(t *testing.T) {
	t.Setenv("VOXD_SYNTH_ENGINE", "exec")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for exec engine without command")
	}
}

func TestValidateRejectsBadPolicy(t *testing.T) {
	t.Setenv("VOXD_SPEECH_POLICY", "lifo")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}
