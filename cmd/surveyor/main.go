package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/spf13/pflag"

	"github.com/censys/radio-survey/internal/logging"
	"github.com/censys/radio-survey/internal/observability"
	"github.com/censys/radio-survey/pkg/denylist"
	"github.com/censys/radio-survey/pkg/identity"
	"github.com/censys/radio-survey/pkg/position"
	"github.com/censys/radio-survey/pkg/processing"
	"github.com/censys/radio-survey/pkg/radio"
	"github.com/censys/radio-survey/pkg/scanning"
	"github.com/censys/radio-survey/pkg/scheduler"
	"github.com/censys/radio-survey/pkg/sink"
	pgstore "github.com/censys/radio-survey/pkg/storage/postgres"
	"github.com/censys/radio-survey/pkg/upload"
)

func main() {
	log := logging.NewFromEnv()

	cfg, err := loadConfig(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		log.Error(context.Background(), "invalid configuration", logging.Error(err))
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error(ctx, "surveyor stopped", logging.Error(err))
		os.Exit(1)
	}
	log.Info(context.Background(), "surveyor stopped")
}

func run(ctx context.Context, cfg config, log logging.Logger) error {
	shutdownTracing, err := observability.StartTracing(ctx, observability.Tracing{
		Endpoint:    cfg.OTLPEndpoint,
		SampleRatio: cfg.TraceSampleRatio,
	}, log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewSurveyCollector(nil)
	if err != nil {
		return err
	}
	results := sink.NewResults()

	srv := serveHTTP(cfg.MetricsAddr, collector, results, log)
	defer func() {
		if srv == nil {
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	source, closeSource, err := denylistSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSource()

	filter := denylist.NewFilter(source, log, collector)
	go func() {
		if err := filter.Refresh(ctx); err != nil {
			log.Warn(ctx, "denylist unavailable; filtering nothing", logging.Error(err))
			return
		}
		log.Debug(ctx, "denylist entries", logging.Strings("addresses", filter.Snapshot()))
	}()

	dlq, reports, closePubSub, err := publishers(ctx, cfg)
	if err != nil {
		return err
	}
	defer closePubSub()

	var wifi scanning.Scanner[scanning.WifiRecord]
	if ws, err := radio.NewWifiScanner(cfg.WifiScanWindow, log); err != nil {
		log.Warn(ctx, "wifi scanning disabled", logging.Error(err))
	} else {
		defer ws.Close()
		wifi = ws
	}
	bt := radio.NewBluetoothScanner(cfg.BTScanWindow, log)

	if cfg.WifiAPIKey == "" || cfg.BluetoothAPIKey == "" {
		log.Warn(ctx, "upload api key missing; the endpoint will reject those records")
	}

	aggregator := scanning.NewAggregator(wifi, bt, results, log, scanning.WithMetrics(collector))
	pipeline := processing.NewPipeline(
		processing.Config{
			WifiChannel:      upload.Channel{Name: "wifi", APIKey: cfg.WifiAPIKey},
			BluetoothChannel: upload.Channel{Name: "bluetooth", APIKey: cfg.BluetoothAPIKey},
			UploadDelay:      cfg.UploadDelay,
			TimestampFormat:  cfg.timestamps,
		},
		aggregator,
		filter,
		upload.NewClient(cfg.UploadURL, nil),
		results,
		identity.NewProvider(cfg.DeviceID),
		log,
		processing.WithDeadLetters(dlq),
		processing.WithReports(reports),
		processing.WithMetrics(collector),
	)

	positions, closePositions := positionProvider(ctx, cfg, log)
	defer closePositions()

	sched := scheduler.New(
		scheduler.Config{Interval: cfg.TickInterval, Threshold: cfg.MovementThreshold},
		positions,
		pipeline,
		log,
		scheduler.WithMetrics(collector),
	)
	return sched.Run(ctx)
}

func denylistSource(ctx context.Context, cfg config) (denylist.Source, func(), error) {
	if cfg.DenylistSource == sourcePostgres {
		pool, err := pgstore.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := pgstore.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		repo := pgstore.NewRepository(pool)
		return repo.Source(), repo.Close, nil
	}
	if cfg.DenylistURL == "" {
		return nil, func() {}, nil
	}
	return denylist.NewHTTPSource(cfg.DenylistURL, cfg.DenylistAPIKey, nil), func() {}, nil
}

func publishers(ctx context.Context, cfg config) (processing.DeadLetterPublisher, processing.ReportPublisher, func(), error) {
	if cfg.PubSubProject == "" {
		return &processing.NoopDeadLetterPublisher{}, &processing.NoopReportPublisher{}, func() {}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSubProject)
	if err != nil {
		return nil, nil, nil, err
	}
	var (
		dlq     processing.DeadLetterPublisher = &processing.NoopDeadLetterPublisher{}
		reports processing.ReportPublisher     = &processing.NoopReportPublisher{}
		topics  []*pubsub.Topic
	)
	if cfg.DLQTopic != "" {
		t := client.Topic(cfg.DLQTopic)
		topics = append(topics, t)
		dlq = processing.NewPubSubDeadLetterPublisher(t)
	}
	if cfg.ResultsTopic != "" {
		t := client.Topic(cfg.ResultsTopic)
		topics = append(topics, t)
		reports = processing.NewPubSubReportPublisher(t)
	}
	return dlq, reports, func() {
		for _, t := range topics {
			t.Stop()
		}
		client.Close()
	}, nil
}

func positionProvider(ctx context.Context, cfg config, log logging.Logger) (scheduler.PositionProvider, func()) {
	if cfg.staticPosition != nil {
		log.Info(ctx, "using fixed position", logging.String("position", cfg.staticPosition.String()))
		return position.NewStatic(*cfg.staticPosition), func() {}
	}
	gc, err := position.NewGeoClue(ctx, log)
	if err != nil {
		log.Warn(ctx, "geolocation unavailable; scans will not start", logging.Error(err))
		return position.Unavailable{Reason: err}, func() {}
	}
	updates, unsubscribe := gc.Subscribe()
	go func() {
		for p := range updates {
			log.Debug(ctx, "position changed", logging.String("position", p.String()))
		}
	}()
	return gc, func() {
		unsubscribe()
		_ = gc.Close()
	}
}

func serveHTTP(addr string, collector *observability.SurveyCollector, results *sink.Results, log logging.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	mux.Handle("/results", results.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Error(err))
		}
	}()
	log.Info(context.Background(), "serving metrics and results", logging.String("addr", addr))
	return srv
}
