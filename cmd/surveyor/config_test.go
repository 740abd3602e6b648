package main

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/censys/radio-survey/pkg/processing"
	"github.com/censys/radio-survey/pkg/upload"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(nil)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.TickInterval != 10*time.Second || cfg.MovementThreshold != 20 || cfg.UploadDelay != time.Second {
		t.Fatalf("unexpected cadence defaults: %+v", cfg)
	}
	if cfg.UploadURL != upload.DefaultURL || cfg.DenylistSource != sourceHTTP {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.WifiScanWindow != 5*time.Second || cfg.BTScanWindow != 5*time.Second {
		t.Fatalf("unexpected scan windows: %+v", cfg)
	}
	if cfg.timestamps != processing.TimestampMillis || cfg.staticPosition != nil {
		t.Fatalf("unexpected derived values: %+v", cfg)
	}
	if cfg.OTLPEndpoint != "" || cfg.TraceSampleRatio != 1 {
		t.Fatalf("unexpected tracing defaults: %+v", cfg)
	}
}

func TestLoadConfigEnvAndFlags(t *testing.T) {
	t.Setenv("SURVEY_TICK_INTERVAL", "2500")
	t.Setenv("SURVEY_MOVEMENT_THRESHOLD_M", "35.5")
	t.Setenv("THINGSPEAK_WIFI_API_KEY", "env-key")
	t.Setenv("FILTER_API_URL", "https://filter.example/list")

	cfg, err := loadConfig([]string{"--wifi-api-key", "flag-key", "--position", "52.5,13.4", "--timestamp-format", "rfc3339"})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.TickInterval != 2500*time.Millisecond {
		t.Fatalf("tick interval from bare millis = %s", cfg.TickInterval)
	}
	if cfg.MovementThreshold != 35.5 {
		t.Fatalf("threshold = %v", cfg.MovementThreshold)
	}
	if cfg.WifiAPIKey != "flag-key" {
		t.Fatalf("flag should override env, got %q", cfg.WifiAPIKey)
	}
	if cfg.DenylistURL != "https://filter.example/list" {
		t.Fatalf("denylist url = %q", cfg.DenylistURL)
	}
	if cfg.staticPosition == nil || cfg.staticPosition.Latitude != 52.5 {
		t.Fatalf("static position = %v", cfg.staticPosition)
	}
	if cfg.timestamps != processing.TimestampRFC3339 {
		t.Fatalf("timestamps = %q", cfg.timestamps)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"negative threshold", []string{"--movement-threshold=-1"}, "movement-threshold"},
		{"zero tick", []string{"--tick-interval=0s"}, "tick-interval"},
		{"unknown source", []string{"--denylist-source=redis"}, "denylist-source"},
		{"postgres without url", []string{"--denylist-source=postgres"}, "database-url"},
		{"bad position", []string{"--position=north"}, "--position"},
		{"bad timestamp", []string{"--timestamp-format=unix"}, "timestamp-format"},
		{"topic without project", []string{"--dlq-topic=dead"}, "pubsub-project"},
		{"sample ratio above one", []string{"--trace-sample-ratio=2"}, "trace-sample-ratio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(tt.args)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadConfigHelp(t *testing.T) {
	if _, err := loadConfig([]string{"--help"}); !errors.Is(err, pflag.ErrHelp) {
		t.Fatalf("expected pflag.ErrHelp, got %v", err)
	}
}
