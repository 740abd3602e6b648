package scanning

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/censys/radio-survey/internal/logging"
	"github.com/censys/radio-survey/pkg/geo"
)

var tracer = otel.Tracer("github.com/censys/radio-survey/pkg/scanning")

// Publisher receives result lists for observers. The Aggregator publishes
// empty lists before scanning; the pipeline publishes the filtered lists.
type Publisher interface {
	PublishWifi([]WifiObservation)
	PublishBluetooth([]BluetoothObservation)
}

// Metrics records per-radio scan outcomes.
type Metrics interface {
	ObserveScan(radio Radio, found int, err error)
}

type noopMetrics struct{}

func (noopMetrics) ObserveScan(Radio, int, error) {}

// Aggregator runs both radio scans for one cycle and stamps the results with
// the cycle position.
type Aggregator struct {
	wifi      Scanner[WifiRecord]
	bluetooth Scanner[BluetoothRecord]
	sink      Publisher
	metrics   Metrics
	log       logging.Logger
}

// AggregatorOption customises an Aggregator.
type AggregatorOption func(*Aggregator)

// WithMetrics records scan outcomes on m.
func WithMetrics(m Metrics) AggregatorOption {
	return func(a *Aggregator) {
		if m != nil {
			a.metrics = m
		}
	}
}

// NewAggregator builds an Aggregator. A nil scanner behaves like a radio
// that is not present; a nil sink skips the interim publish.
func NewAggregator(wifi Scanner[WifiRecord], bluetooth Scanner[BluetoothRecord], sink Publisher, log logging.Logger, opts ...AggregatorOption) *Aggregator {
	if log == nil {
		log = logging.Noop()
	}
	a := &Aggregator{
		wifi:      wifi,
		bluetooth: bluetooth,
		sink:      sink,
		metrics:   noopMetrics{},
		log:       log,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run scans both radios concurrently at pos. A failing radio contributes an
// empty list; Run itself never fails. Callers check ctx.Err() to tell a
// cancelled cycle from an empty one.
func (a *Aggregator) Run(ctx context.Context, pos geo.Position) Results {
	log := logging.FromContext(ctx, a.log)

	if a.sink != nil {
		a.sink.PublishWifi([]WifiObservation{})
		a.sink.PublishBluetooth([]BluetoothObservation{})
	}

	var res Results
	var g errgroup.Group
	g.Go(func() error {
		res.Wifi = collect(ctx, a, log, RadioWifi, a.wifi, pos, stampWifi)
		return nil
	})
	g.Go(func() error {
		res.Bluetooth = collect(ctx, a, log, RadioBluetooth, a.bluetooth, pos, stampBluetooth)
		return nil
	})
	_ = g.Wait()

	log.Info(ctx, "scan complete",
		logging.Int("wifi", len(res.Wifi)),
		logging.Int("bluetooth", len(res.Bluetooth)),
	)
	return res
}

func collect[R, T any](ctx context.Context, a *Aggregator, log logging.Logger, radio Radio, s Scanner[R], pos geo.Position, stamp func(R, geo.Position) T) []T {
	ctx, span := tracer.Start(ctx, "scan."+string(radio))
	defer span.End()

	records, err := safeScan(ctx, s, pos)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() == nil {
			log.Warn(ctx, "radio scan failed; continuing without it",
				logging.String("radio", string(radio)),
				logging.Error(err),
			)
		}
		a.metrics.ObserveScan(radio, 0, err)
		return []T{}
	}

	out := make([]T, 0, len(records))
	for _, r := range records {
		out = append(out, stamp(r, pos))
	}
	span.SetAttributes(attribute.Int("scan.found", len(out)))
	a.metrics.ObserveScan(radio, len(out), nil)
	return out
}

// safeScan converts a missing scanner and a panicking driver into errors.
func safeScan[R any](ctx context.Context, s Scanner[R], pos geo.Position) (records []R, err error) {
	if s == nil {
		return nil, ErrCapabilityUnavailable
	}
	defer func() {
		if r := recover(); r != nil {
			records = nil
			err = fmt.Errorf("scanner panic: %v", r)
		}
	}()
	records, err = s.Scan(ctx, pos)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		// a driver-level timeout is a capability problem, not a cancelled cycle
		err = fmt.Errorf("%w: %v", ErrCapabilityUnavailable, err)
	}
	return records, err
}
