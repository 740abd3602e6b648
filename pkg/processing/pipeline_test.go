package processing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/censys/radio-survey/pkg/denylist"
	"github.com/censys/radio-survey/pkg/geo"
	"github.com/censys/radio-survey/pkg/scanning"
	"github.com/censys/radio-survey/pkg/sink"
	"github.com/censys/radio-survey/pkg/upload"
)

type listSource []string

func (l listSource) Fetch(ctx context.Context) ([]string, error) { return l, nil }

func TestPipeline_DenylistCaseInsensitiveEndToEnd(t *testing.T) {
	ctx := context.Background()
	filter := denylist.NewFilter(listSource{" aa:bb:cc:dd:ee:ff "}, nil, nil)
	if err := filter.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	var mu sync.Mutex
	var posted []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		mu.Lock()
		posted = append(posted, r.PostForm.Get("field2"))
		mu.Unlock()
		w.Write([]byte("1"))
	}))
	defer srv.Close()

	wifi := scanning.ScannerFunc[scanning.WifiRecord](func(ctx context.Context, pos geo.Position) ([]scanning.WifiRecord, error) {
		return []scanning.WifiRecord{
			{SSID: "blocked", BSSID: "AA:BB:CC:DD:EE:FF", Signal: -40},
			{SSID: "open", BSSID: "11:22:33:44:55:66", Signal: -60},
		}, nil
	})
	results := sink.NewResults()
	agg := scanning.NewAggregator(wifi, nil, results, nil)

	p := NewPipeline(
		Config{WifiChannel: wifiCh, BluetoothChannel: btCh},
		agg, filter, upload.NewClient(srv.URL, srv.Client()), results, staticID("dev"), nil,
		WithSleep(func(ctx context.Context, d time.Duration) error { return nil }),
	)
	if err := p.RunCycle(ctx, geo.Position{}); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	latest, ok := results.Wifi.Latest()
	if !ok || len(latest) != 1 || latest[0].BSSID != "11:22:33:44:55:66" {
		t.Fatalf("unexpected sink contents: %+v", latest)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(posted) != 1 || posted[0] != "11:22:33:44:55:66" {
		t.Fatalf("unexpected uploads: %v", posted)
	}
}

func TestPipeline_ServerErrorOnFirstRecord(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Write([]byte("2"))
	}))
	defer srv.Close()

	res := scanning.Results{Bluetooth: []scanning.BluetoothObservation{
		{Address: "00:00:00:00:00:01"},
		{Address: "00:00:00:00:00:02"},
	}}
	dlq := &stubDLQ{}
	p := NewPipeline(
		Config{WifiChannel: wifiCh, BluetoothChannel: btCh},
		stubAggregator{res: res}, nil, upload.NewClient(srv.URL, srv.Client()), nil, staticID("dev"), nil,
		WithSleep(func(ctx context.Context, d time.Duration) error { return nil }),
		WithDeadLetters(dlq),
	)
	if err := p.RunCycle(context.Background(), geo.Position{}); err != nil {
		t.Fatalf("RunCycle should succeed overall, got %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Fatalf("expected both records attempted, got %d", calls)
	}
	if dlq.called != 1 {
		t.Fatalf("expected the failed record dead-lettered once, got %d", dlq.called)
	}
}
