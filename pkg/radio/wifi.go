// Package radio implements the scan capabilities on Linux: Wi-Fi through
// NetworkManager on the system bus and BLE through the host adapter.
package radio

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/godbus/dbus/v5"

	"github.com/censys/radio-survey/internal/logging"
	"github.com/censys/radio-survey/pkg/geo"
	"github.com/censys/radio-survey/pkg/scanning"
)

const (
	nmService       = "org.freedesktop.NetworkManager"
	nmPath          = "/org/freedesktop/NetworkManager"
	nmDeviceIface   = nmService + ".Device"
	nmWirelessIface = nmService + ".Device.Wireless"
	nmAPIface       = nmService + ".AccessPoint"

	nmDeviceTypeWifi = 2
)

// DefaultScanWindow is how long a scan waits for results.
const DefaultScanWindow = 5 * time.Second

// WifiScanner asks NetworkManager for a fresh scan on every wireless device
// and reads the access points it reports after the scan window.
type WifiScanner struct {
	conn   *dbus.Conn
	window time.Duration
	log    logging.Logger
}

// NewWifiScanner connects to the system bus.
func NewWifiScanner(window time.Duration, log logging.Logger) (*WifiScanner, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("%w: system bus: %v", scanning.ErrCapabilityUnavailable, err)
	}
	if window <= 0 {
		window = DefaultScanWindow
	}
	if log == nil {
		log = logging.Noop()
	}
	return &WifiScanner{conn: conn, window: window, log: log}, nil
}

// Scan implements scanning.Scanner.
func (s *WifiScanner) Scan(ctx context.Context, _ geo.Position) ([]scanning.WifiRecord, error) {
	devices, err := s.wirelessDevices(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: no wireless device", scanning.ErrCapabilityUnavailable)
	}

	for _, dev := range devices {
		// NetworkManager rate-limits scans; a refused request still leaves
		// the cached list readable.
		if call := dev.CallWithContext(ctx, nmWirelessIface+".RequestScan", 0, map[string]dbus.Variant{}); call.Err != nil {
			s.log.Debug(ctx, "wifi scan request refused", logging.String("device", string(dev.Path())), logging.Error(call.Err))
		}
	}

	t := time.NewTimer(s.window)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.C:
	}

	var out []scanning.WifiRecord
	for _, dev := range devices {
		var aps []dbus.ObjectPath
		if err := dev.CallWithContext(ctx, nmWirelessIface+".GetAllAccessPoints", 0).Store(&aps); err != nil {
			return nil, fmt.Errorf("list access points: %w", err)
		}
		for _, ap := range aps {
			rec, err := s.accessPoint(ap)
			if err != nil {
				s.log.Debug(ctx, "access point vanished", logging.String("path", string(ap)), logging.Error(err))
				continue
			}
			out = append(out, rec)
		}
	}
	return dedupeWifi(out), nil
}

// Close releases the bus connection.
func (s *WifiScanner) Close() error { return s.conn.Close() }

func (s *WifiScanner) wirelessDevices(ctx context.Context) ([]dbus.BusObject, error) {
	var paths []dbus.ObjectPath
	nm := s.conn.Object(nmService, nmPath)
	if err := nm.CallWithContext(ctx, nmService+".GetDevices", 0).Store(&paths); err != nil {
		return nil, fmt.Errorf("%w: NetworkManager: %v", scanning.ErrCapabilityUnavailable, err)
	}
	var out []dbus.BusObject
	for _, p := range paths {
		dev := s.conn.Object(nmService, p)
		v, err := dev.GetProperty(nmDeviceIface + ".DeviceType")
		if err != nil {
			continue
		}
		if t, ok := v.Value().(uint32); ok && t == nmDeviceTypeWifi {
			out = append(out, dev)
		}
	}
	return out, nil
}

func (s *WifiScanner) accessPoint(path dbus.ObjectPath) (scanning.WifiRecord, error) {
	ap := s.conn.Object(nmService, path)
	ssid, err := ap.GetProperty(nmAPIface + ".Ssid")
	if err != nil {
		return scanning.WifiRecord{}, err
	}
	hw, err := ap.GetProperty(nmAPIface + ".HwAddress")
	if err != nil {
		return scanning.WifiRecord{}, err
	}
	strength, err := ap.GetProperty(nmAPIface + ".Strength")
	if err != nil {
		return scanning.WifiRecord{}, err
	}
	raw, _ := ssid.Value().([]byte)
	addr, _ := hw.Value().(string)
	pct, _ := strength.Value().(byte)
	return scanning.WifiRecord{
		SSID:   decodeSSID(raw),
		BSSID:  strings.ToUpper(addr),
		Signal: strengthToDBm(pct),
	}, nil
}

// strengthToDBm maps NetworkManager's 0-100 quality back to an approximate
// RSSI, the inverse of its own dBm-to-percent conversion.
func strengthToDBm(pct byte) int {
	if pct > 100 {
		pct = 100
	}
	return int(pct)/2 - 100
}

// decodeSSID renders raw SSID octets. Non-UTF-8 names are hex-escaped.
func decodeSSID(raw []byte) string {
	if utf8.Valid(raw) {
		return strings.TrimRight(string(raw), "\x00")
	}
	var b strings.Builder
	for _, c := range raw {
		if c >= 0x20 && c < 0x7f {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "\\x%02x", c)
	}
	return b.String()
}

// dedupeWifi keeps one record per BSSID, preferring the strongest signal.
// Order of first appearance is preserved.
func dedupeWifi(in []scanning.WifiRecord) []scanning.WifiRecord {
	idx := make(map[string]int, len(in))
	out := make([]scanning.WifiRecord, 0, len(in))
	for _, r := range in {
		if i, ok := idx[r.BSSID]; ok {
			if r.Signal > out[i].Signal {
				out[i] = r
			}
			continue
		}
		idx[r.BSSID] = len(out)
		out = append(out, r)
	}
	return out
}
