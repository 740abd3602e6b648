// Package scanning defines the observations produced by one scan cycle and
// the radio capability that produces them.
package scanning

import (
	"context"
	"errors"

	"github.com/censys/radio-survey/pkg/geo"
)

// ErrCapabilityUnavailable reports a missing radio, adapter or permission.
// Scanners may return it (wrapped) instead of an empty list; the Aggregator
// treats both the same way.
var ErrCapabilityUnavailable = errors.New("scan capability unavailable")

// Radio identifies the kind of device an observation came from.
type Radio string

const (
	RadioWifi      Radio = "wifi"
	RadioBluetooth Radio = "bluetooth"
)

// Scanner is a bounded-duration radio scan at a position. Implementations
// must return once ctx is done.
type Scanner[R any] interface {
	Scan(ctx context.Context, pos geo.Position) ([]R, error)
}

// ScannerFunc adapts a function to Scanner.
type ScannerFunc[R any] func(ctx context.Context, pos geo.Position) ([]R, error)

func (f ScannerFunc[R]) Scan(ctx context.Context, pos geo.Position) ([]R, error) {
	return f(ctx, pos)
}

// WifiRecord is a raw access point as reported by the radio.
type WifiRecord struct {
	SSID   string
	BSSID  string
	Signal int // dBm
}

// BluetoothRecord is a raw BLE advertiser. Name is empty when the device did
// not advertise one.
type BluetoothRecord struct {
	Name    string
	Address string
	Signal  int // dBm
}

// WifiObservation is an access point tagged with the scan position. SSID is
// empty for hidden networks.
type WifiObservation struct {
	SSID     string        `json:"ssid"`
	BSSID    string        `json:"bssid"`
	Signal   int           `json:"rssi"`
	Position *geo.Position `json:"position,omitempty"`
}

func (o WifiObservation) Radio() Radio            { return RadioWifi }
func (o WifiObservation) HardwareAddress() string { return o.BSSID }

// BluetoothObservation is a BLE device tagged with the scan position.
type BluetoothObservation struct {
	Name     string        `json:"name,omitempty"`
	Address  string        `json:"address"`
	Signal   int           `json:"rssi"`
	Position *geo.Position `json:"position,omitempty"`
}

func (o BluetoothObservation) Radio() Radio            { return RadioBluetooth }
func (o BluetoothObservation) HardwareAddress() string { return o.Address }

// Observation is what the filter and upload stages need from either radio.
type Observation interface {
	Radio() Radio
	HardwareAddress() string
}

// Results holds the observations of one cycle.
type Results struct {
	Wifi      []WifiObservation
	Bluetooth []BluetoothObservation
}

func stampWifi(r WifiRecord, pos geo.Position) WifiObservation {
	p := pos
	return WifiObservation{SSID: r.SSID, BSSID: r.BSSID, Signal: r.Signal, Position: &p}
}

func stampBluetooth(r BluetoothRecord, pos geo.Position) BluetoothObservation {
	p := pos
	return BluetoothObservation{Name: r.Name, Address: r.Address, Signal: r.Signal, Position: &p}
}
