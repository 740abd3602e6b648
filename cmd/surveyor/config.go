package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/censys/radio-survey/pkg/geo"
	"github.com/censys/radio-survey/pkg/processing"
	"github.com/censys/radio-survey/pkg/radio"
	"github.com/censys/radio-survey/pkg/scheduler"
	"github.com/censys/radio-survey/pkg/upload"
)

const (
	sourceHTTP     = "http"
	sourcePostgres = "postgres"
)

type config struct {
	TickInterval      time.Duration
	MovementThreshold float64
	UploadDelay       time.Duration
	UploadURL         string
	WifiAPIKey        string
	BluetoothAPIKey   string
	DenylistURL       string
	DenylistAPIKey    string
	DenylistSource    string
	DatabaseURL       string
	WifiScanWindow    time.Duration
	BTScanWindow      time.Duration
	Position          string
	DeviceID          string
	MetricsAddr       string
	PubSubProject     string
	ResultsTopic      string
	DLQTopic          string
	TimestampFormat   string
	OTLPEndpoint      string
	TraceSampleRatio  float64

	// derived by validate
	staticPosition *geo.Position
	timestamps     processing.TimestampFormat
}

func loadConfig(args []string) (config, error) {
	var cfg config
	fs := pflag.NewFlagSet("surveyor", pflag.ContinueOnError)

	fs.DurationVar(&cfg.TickInterval, "tick-interval", getEnvDuration("SURVEY_TICK_INTERVAL", scheduler.DefaultInterval), "how often the position is checked")
	fs.Float64Var(&cfg.MovementThreshold, "movement-threshold", getEnvFloat("SURVEY_MOVEMENT_THRESHOLD_M", scheduler.DefaultThreshold), "meters moved before a new scan")
	fs.DurationVar(&cfg.UploadDelay, "upload-delay", getEnvDuration("SURVEY_UPLOAD_DELAY", time.Second), "pause between consecutive uploads")
	fs.StringVar(&cfg.UploadURL, "upload-url", getEnv("SURVEY_UPLOAD_URL", upload.DefaultURL), "channel update endpoint")
	fs.StringVar(&cfg.WifiAPIKey, "wifi-api-key", getEnv("THINGSPEAK_WIFI_API_KEY", ""), "write key of the Wi-Fi channel")
	fs.StringVar(&cfg.BluetoothAPIKey, "bt-api-key", getEnv("THINGSPEAK_BT_API_KEY", ""), "write key of the Bluetooth channel")
	fs.StringVar(&cfg.DenylistURL, "denylist-url", getEnv("FILTER_API_URL", ""), "denylist endpoint (empty disables filtering)")
	fs.StringVar(&cfg.DenylistAPIKey, "denylist-api-key", getEnv("FILTER_API_KEY", ""), "x-api-key sent to the denylist endpoint")
	fs.StringVar(&cfg.DenylistSource, "denylist-source", getEnv("SURVEY_DENYLIST_SOURCE", sourceHTTP), "where the denylist is loaded from: http or postgres")
	fs.StringVar(&cfg.DatabaseURL, "database-url", getEnv("DATABASE_URL", ""), "PostgreSQL URL for --denylist-source=postgres")
	fs.DurationVar(&cfg.WifiScanWindow, "wifi-scan-window", getEnvDuration("SURVEY_WIFI_SCAN_WINDOW", radio.DefaultScanWindow), "Wi-Fi scan duration")
	fs.DurationVar(&cfg.BTScanWindow, "bt-scan-window", getEnvDuration("SURVEY_BT_SCAN_WINDOW", radio.DefaultScanWindow), "BLE scan duration")
	fs.StringVar(&cfg.Position, "position", getEnv("SURVEY_POSITION", ""), "fixed \"lat,lon\" instead of GeoClue")
	fs.StringVar(&cfg.DeviceID, "device-id", getEnv("DEVICE_ID", ""), "device identifier override")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", getEnv("SURVEY_METRICS_ADDR", ":9090"), "listen address for /metrics and /results (empty disables)")
	fs.StringVar(&cfg.PubSubProject, "pubsub-project", getEnv("PUBSUB_PROJECT_ID", ""), "Pub/Sub project for reports and dead letters")
	fs.StringVar(&cfg.ResultsTopic, "results-topic", getEnv("PUBSUB_RESULTS_TOPIC", ""), "topic receiving one report per cycle")
	fs.StringVar(&cfg.DLQTopic, "dlq-topic", getEnv("PUBSUB_DLQ_TOPIC", ""), "topic receiving failed uploads")
	fs.StringVar(&cfg.TimestampFormat, "timestamp-format", getEnv("SURVEY_TIMESTAMP_FORMAT", string(processing.TimestampMillis)), "millis or rfc3339")

	fs.StringVar(&cfg.OTLPEndpoint, "otlp-endpoint", getEnv("SURVEY_OTLP_ENDPOINT", ""), "OTLP/gRPC collector for cycle traces (empty disables)")
	fs.Float64Var(&cfg.TraceSampleRatio, "trace-sample-ratio", getEnvFloat("SURVEY_TRACE_SAMPLE_RATIO", 1), "fraction of cycles traced")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c *config) validate() error {
	var errs []error
	for name, d := range map[string]time.Duration{
		"tick-interval":    c.TickInterval,
		"wifi-scan-window": c.WifiScanWindow,
		"bt-scan-window":   c.BTScanWindow,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("--%s must be positive, got %s", name, d))
		}
	}
	if c.UploadDelay < 0 {
		errs = append(errs, fmt.Errorf("--upload-delay must not be negative, got %s", c.UploadDelay))
	}
	if c.MovementThreshold < 0 {
		errs = append(errs, fmt.Errorf("--movement-threshold must not be negative, got %g", c.MovementThreshold))
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		errs = append(errs, fmt.Errorf("--trace-sample-ratio must be within [0,1], got %g", c.TraceSampleRatio))
	}
	if c.UploadURL == "" {
		errs = append(errs, errors.New("--upload-url is required"))
	}

	c.DenylistSource = strings.ToLower(strings.TrimSpace(c.DenylistSource))
	switch c.DenylistSource {
	case sourceHTTP:
	case sourcePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("--database-url is required with --denylist-source=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown --denylist-source %q", c.DenylistSource))
	}

	if c.Position != "" {
		p, err := geo.ParsePosition(c.Position)
		if err != nil {
			errs = append(errs, fmt.Errorf("--position: %w", err))
		} else {
			c.staticPosition = &p
		}
	}

	ts, err := processing.ParseTimestampFormat(c.TimestampFormat)
	if err != nil {
		errs = append(errs, fmt.Errorf("--timestamp-format: %w", err))
	}
	c.timestamps = ts

	if (c.ResultsTopic != "" || c.DLQTopic != "") && c.PubSubProject == "" {
		errs = append(errs, errors.New("--pubsub-project is required when a topic is set"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil && f >= 0 {
			return f
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("1500ms") and bare milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if d, err := time.ParseDuration(val); err == nil && d > 0 {
		return d
	}
	if ms, err := strconv.Atoi(val); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
