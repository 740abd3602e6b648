package radio

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/censys/radio-survey/internal/logging"
	"github.com/censys/radio-survey/pkg/geo"
	"github.com/censys/radio-survey/pkg/scanning"
)

// advertisement is the part of a BLE scan result the agent keeps.
type advertisement struct {
	Address string
	Name    string
	RSSI    int16
}

// bleAdapter is the host adapter surface used by BluetoothScanner.
type bleAdapter interface {
	Enable() error
	Scan(onResult func(advertisement)) error
	StopScan() error
}

type tinygoAdapter struct {
	a *bluetooth.Adapter
}

func (t tinygoAdapter) Enable() error   { return t.a.Enable() }
func (t tinygoAdapter) StopScan() error { return t.a.StopScan() }

func (t tinygoAdapter) Scan(onResult func(advertisement)) error {
	return t.a.Scan(func(_ *bluetooth.Adapter, r bluetooth.ScanResult) {
		onResult(advertisement{
			Address: r.Address.String(),
			Name:    r.LocalName(),
			RSSI:    r.RSSI,
		})
	})
}

// BluetoothScanner runs a passive BLE discovery for a fixed window.
type BluetoothScanner struct {
	adapter   bleAdapter
	window    time.Duration
	stopGrace time.Duration
	log       logging.Logger

	// the adapter supports one scan at a time; scanMu also guards enabled
	// and inflight
	scanMu  sync.Mutex
	enabled bool
	// inflight is set when a scan outlived a failed StopScan
	inflight <-chan error
}

// NewBluetoothScanner uses the default host adapter.
func NewBluetoothScanner(window time.Duration, log logging.Logger) *BluetoothScanner {
	return newBluetoothScanner(tinygoAdapter{a: bluetooth.DefaultAdapter}, window, log)
}

func newBluetoothScanner(adapter bleAdapter, window time.Duration, log logging.Logger) *BluetoothScanner {
	if window <= 0 {
		window = DefaultScanWindow
	}
	if log == nil {
		log = logging.Noop()
	}
	return &BluetoothScanner{adapter: adapter, window: window, stopGrace: defaultStopGrace, log: log}
}

// Scan implements scanning.Scanner. Devices seen more than once are
// reported once with their strongest signal. A failed Enable is retried on
// the next call.
func (s *BluetoothScanner) Scan(ctx context.Context, _ geo.Position) ([]scanning.BluetoothRecord, error) {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	if !s.enabled {
		if err := s.adapter.Enable(); err != nil {
			return nil, fmt.Errorf("%w: enable adapter: %v", scanning.ErrCapabilityUnavailable, err)
		}
		s.enabled = true
	}
	if s.inflight != nil {
		t := time.NewTimer(s.stopGrace)
		select {
		case <-s.inflight:
			t.Stop()
			s.inflight = nil
		case <-t.C:
			return nil, fmt.Errorf("%w: previous ble scan still running", scanning.ErrCapabilityUnavailable)
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		}
	}

	seen := newDeviceSet()
	done := make(chan error, 1)
	go func() {
		done <- s.adapter.Scan(seen.add)
	}()

	t := time.NewTimer(s.window)
	defer t.Stop()

	var scanErr error
	select {
	case scanErr = <-done:
		// ended before the window; only an error is interesting
	case <-t.C:
		scanErr = s.stop(ctx, done)
	case <-ctx.Done():
		_ = s.stop(ctx, done)
		return nil, ctx.Err()
	}
	if scanErr != nil {
		return nil, fmt.Errorf("%w: ble scan: %v", scanning.ErrCapabilityUnavailable, scanErr)
	}
	return seen.records(), nil
}

// defaultStopGrace bounds the wait for a scan goroutine after StopScan fails.
const defaultStopGrace = 2 * time.Second

// stop ends the running scan and waits for its goroutine. Called with scanMu
// held. If StopScan fails and the goroutine outlives the grace period, it is
// parked in inflight so the next Scan does not overlap it.
func (s *BluetoothScanner) stop(ctx context.Context, done <-chan error) error {
	stopErr := s.adapter.StopScan()
	if stopErr == nil {
		return <-done
	}
	s.log.Warn(ctx, "ble stop scan failed", logging.Error(stopErr))

	t := time.NewTimer(s.stopGrace)
	defer t.Stop()
	select {
	case err := <-done:
		return err
	case <-t.C:
		s.inflight = done
		return stopErr
	}
}

type deviceSet struct {
	mu    sync.Mutex
	order []string
	byKey map[string]scanning.BluetoothRecord
}

func newDeviceSet() *deviceSet {
	return &deviceSet{byKey: make(map[string]scanning.BluetoothRecord)}
}

func (d *deviceSet) add(a advertisement) {
	addr := strings.ToUpper(strings.TrimSpace(a.Address))
	name := strings.TrimSpace(a.Name)
	d.mu.Lock()
	defer d.mu.Unlock()
	prev, ok := d.byKey[addr]
	if !ok {
		d.order = append(d.order, addr)
		d.byKey[addr] = scanning.BluetoothRecord{Name: name, Address: addr, Signal: int(a.RSSI)}
		return
	}
	if int(a.RSSI) > prev.Signal {
		prev.Signal = int(a.RSSI)
	}
	if prev.Name == "" {
		prev.Name = name
	}
	d.byKey[addr] = prev
}

func (d *deviceSet) records() []scanning.BluetoothRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]scanning.BluetoothRecord, 0, len(d.order))
	for _, k := range d.order {
		out = append(out, d.byKey[k])
	}
	return out
}
