// Package processing turns one cycle's scan results into filtered
// observations and per-device uploads.
package processing

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/censys/radio-survey/internal/logging"
	"github.com/censys/radio-survey/pkg/geo"
	"github.com/censys/radio-survey/pkg/scanning"
	"github.com/censys/radio-survey/pkg/upload"
)

var tracer = otel.Tracer("github.com/censys/radio-survey/pkg/processing")

// Filter decides whether a hardware address is denylisted.
type Filter interface {
	IsFiltered(addr string) bool
}

// Uploader sends one record to a channel.
type Uploader interface {
	Post(ctx context.Context, ch upload.Channel, rec upload.Record) error
}

// Aggregator produces the raw results of a cycle.
type Aggregator interface {
	Run(ctx context.Context, pos geo.Position) scanning.Results
}

// IdentityProvider supplies the stable device identifier.
type IdentityProvider interface {
	DeviceID() string
}

// Metrics records filter and upload outcomes.
type Metrics interface {
	ObserveFiltered(radio scanning.Radio, kept, dropped int)
	ObserveUpload(channel string, err error)
}

type noopMetrics struct{}

func (noopMetrics) ObserveFiltered(scanning.Radio, int, int) {}
func (noopMetrics) ObserveUpload(string, error)              {}

// Config holds the per-deployment upload settings.
type Config struct {
	WifiChannel      upload.Channel
	BluetoothChannel upload.Channel
	UploadDelay      time.Duration
	TimestampFormat  TimestampFormat
}

// Pipeline runs the filter and upload stages of a cycle.
type Pipeline struct {
	cfg        Config
	aggregator Aggregator
	filter     Filter
	uploader   Uploader
	sink       scanning.Publisher
	identity   IdentityProvider
	dlq        DeadLetterPublisher
	reports    ReportPublisher
	metrics    Metrics
	log        logging.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option customises a Pipeline.
type Option func(*Pipeline)

func WithDeadLetters(d DeadLetterPublisher) Option {
	return func(p *Pipeline) {
		if d != nil {
			p.dlq = d
		}
	}
}

func WithReports(r ReportPublisher) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.reports = r
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithSleep replaces the inter-upload wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Pipeline) { p.sleep = sleep }
}

// NewPipeline wires the stages of a cycle. A nil filter keeps everything and
// a nil sink skips publishing.
func NewPipeline(cfg Config, aggregator Aggregator, filter Filter, uploader Uploader, sink scanning.Publisher, identity IdentityProvider, log logging.Logger, opts ...Option) *Pipeline {
	if log == nil {
		log = logging.Noop()
	}
	if cfg.TimestampFormat == "" {
		cfg.TimestampFormat = TimestampMillis
	}
	p := &Pipeline{
		cfg:        cfg,
		aggregator: aggregator,
		filter:     filter,
		uploader:   uploader,
		sink:       sink,
		identity:   identity,
		dlq:        &NoopDeadLetterPublisher{},
		reports:    &NoopReportPublisher{},
		metrics:    noopMetrics{},
		log:        log,
		now:        time.Now,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunCycle scans at pos, filters and uploads. Only cancellation is returned
// as an error; radio and upload failures are logged and counted.
func (p *Pipeline) RunCycle(ctx context.Context, pos geo.Position) error {
	ctx, log := logging.WithCycleLogger(ctx, p.log)
	ctx, span := tracer.Start(ctx, "cycle")
	defer span.End()
	span.SetAttributes(
		attribute.Float64("position.latitude", pos.Latitude),
		attribute.Float64("position.longitude", pos.Longitude),
	)

	start := p.now()
	log.Info(ctx, "cycle started", logging.String("position", pos.String()))

	res := p.aggregator.Run(ctx, pos)
	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "cancelled")
		return err
	}

	report, err := p.Process(ctx, pos, res)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := p.reports.PublishReport(ctx, report); err != nil {
		log.Warn(ctx, "publish cycle report", logging.Error(err))
	}
	log.Info(ctx, "cycle finished",
		logging.Int("uploaded", report.Uploaded),
		logging.Int("failed", report.Failed),
		logging.Int("filtered", report.Filtered),
		logging.Duration("elapsed", p.now().Sub(start)),
	)
	return nil
}

// Process filters res, publishes the kept lists and uploads every kept
// observation, Wi-Fi first. It returns ctx.Err() if cancelled mid-upload.
func (p *Pipeline) Process(ctx context.Context, pos geo.Position, res scanning.Results) (CycleReport, error) {
	log := logging.FromContext(ctx, p.log)

	_, fspan := tracer.Start(ctx, "filter")
	wifi, droppedWifi := filterObservations(p.filter, res.Wifi)
	bt, droppedBT := filterObservations(p.filter, res.Bluetooth)
	fspan.SetAttributes(attribute.Int("filter.dropped", droppedWifi+droppedBT))
	fspan.End()
	p.metrics.ObserveFiltered(scanning.RadioWifi, len(wifi), droppedWifi)
	p.metrics.ObserveFiltered(scanning.RadioBluetooth, len(bt), droppedBT)

	if p.sink != nil {
		p.sink.PublishWifi(wifi)
		p.sink.PublishBluetooth(bt)
	}

	deviceID := ""
	if p.identity != nil {
		deviceID = p.identity.DeviceID()
	}
	ts := p.cfg.TimestampFormat.Format(p.now())

	report := CycleReport{
		CycleID:   logging.CycleIDFromContext(ctx),
		DeviceID:  deviceID,
		Timestamp: ts,
		Position:  pos,
		Wifi:      wifi,
		Bluetooth: bt,
		Filtered:  droppedWifi + droppedBT,
	}

	type job struct {
		ch  upload.Channel
		rec upload.Record
	}
	jobs := make([]job, 0, len(wifi)+len(bt))
	for _, o := range wifi {
		jobs = append(jobs, job{p.cfg.WifiChannel, wifiRecord(o, pos, ts, deviceID)})
	}
	for _, o := range bt {
		jobs = append(jobs, job{p.cfg.BluetoothChannel, bluetoothRecord(o, pos, ts, deviceID)})
	}

	ctx, uspan := tracer.Start(ctx, "upload")
	defer uspan.End()
	for i, j := range jobs {
		if i > 0 {
			if err := p.sleep(ctx, p.cfg.UploadDelay); err != nil {
				return report, err
			}
		}
		err := p.post(ctx, j.ch, j.rec)
		if err != nil && ctx.Err() != nil {
			return report, ctx.Err()
		}
		p.metrics.ObserveUpload(j.ch.Name, err)
		if err != nil {
			report.Failed++
			log.Warn(ctx, "upload failed",
				logging.String("channel", j.ch.Name),
				logging.String("address", j.rec.Address),
				logging.Error(err),
			)
			if derr := p.dlq.Publish(ctx, j.ch.Name, j.rec, failureReason(err)); derr != nil {
				log.Warn(ctx, "publish dead letter", logging.Error(derr))
			}
			continue
		}
		report.Uploaded++
	}
	uspan.SetAttributes(
		attribute.Int("upload.ok", report.Uploaded),
		attribute.Int("upload.failed", report.Failed),
	)
	return report, nil
}

func (p *Pipeline) post(ctx context.Context, ch upload.Channel, rec upload.Record) (err error) {
	if p.uploader == nil {
		return upload.ErrUpload
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.Join(upload.ErrUpload, errors.New("uploader panic"))
		}
	}()
	return p.uploader.Post(ctx, ch, rec)
}

func filterObservations[T scanning.Observation](f Filter, in []T) ([]T, int) {
	out := make([]T, 0, len(in))
	if f == nil {
		return append(out, in...), 0
	}
	for _, o := range in {
		if f.IsFiltered(o.HardwareAddress()) {
			continue
		}
		out = append(out, o)
	}
	return out, len(in) - len(out)
}

func failureReason(err error) string {
	var se *upload.StatusError
	if errors.As(err, &se) {
		return "http_status"
	}
	return "transport_error"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
