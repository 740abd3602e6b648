package processing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/censys/radio-survey/pkg/geo"
	"github.com/censys/radio-survey/pkg/scanning"
	"github.com/censys/radio-survey/pkg/upload"
)

// unknownField replaces a missing Bluetooth name or address on upload.
const unknownField = "Unknown"

// TimestampFormat selects how field4 is rendered. It must stay fixed for a
// deployment so the channel history is consistent.
type TimestampFormat string

const (
	TimestampMillis  TimestampFormat = "millis"
	TimestampRFC3339 TimestampFormat = "rfc3339"
)

// ParseTimestampFormat validates a configured format name.
func ParseTimestampFormat(s string) (TimestampFormat, error) {
	switch f := TimestampFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "", TimestampMillis:
		return TimestampMillis, nil
	case TimestampRFC3339:
		return f, nil
	default:
		return "", fmt.Errorf("unknown timestamp format %q", s)
	}
}

// Format renders t.
func (f TimestampFormat) Format(t time.Time) string {
	if f == TimestampRFC3339 {
		return t.UTC().Format(time.RFC3339)
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// CycleReport summarises one finished cycle for external consumers.
type CycleReport struct {
	CycleID   string                          `json:"cycle_id"`
	DeviceID  string                          `json:"device_id"`
	Timestamp string                          `json:"timestamp"`
	Position  geo.Position                    `json:"position"`
	Wifi      []scanning.WifiObservation      `json:"wifi"`
	Bluetooth []scanning.BluetoothObservation `json:"bluetooth"`
	Filtered  int                             `json:"filtered"`
	Uploaded  int                             `json:"uploaded"`
	Failed    int                             `json:"failed"`
}

// parseCycleReport unmarshals a published report.
func parseCycleReport(raw []byte) (CycleReport, error) {
	var r CycleReport
	if err := json.Unmarshal(raw, &r); err != nil {
		return CycleReport{}, fmt.Errorf("unmarshal cycle report: %w", err)
	}
	if r.CycleID == "" {
		return CycleReport{}, errors.New("missing cycle_id")
	}
	return r, nil
}

// DeadLetter is a record whose upload failed.
type DeadLetter struct {
	Channel string        `json:"channel"`
	Reason  string        `json:"reason"`
	Record  upload.Record `json:"record"`
}

func wifiRecord(o scanning.WifiObservation, pos geo.Position, ts, deviceID string) upload.Record {
	return newRecord(o.SSID, o.BSSID, o.Signal, o.Position, pos, ts, deviceID)
}

func bluetoothRecord(o scanning.BluetoothObservation, pos geo.Position, ts, deviceID string) upload.Record {
	name := o.Name
	if strings.TrimSpace(name) == "" {
		name = unknownField
	}
	addr := o.Address
	if strings.TrimSpace(addr) == "" {
		addr = unknownField
	}
	return newRecord(name, addr, o.Signal, o.Position, pos, ts, deviceID)
}

func newRecord(name, addr string, signal int, at *geo.Position, cycle geo.Position, ts, deviceID string) upload.Record {
	p := cycle
	if at != nil {
		p = *at
	}
	return upload.Record{
		Name:      name,
		Address:   addr,
		Signal:    signal,
		Timestamp: ts,
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		DeviceID:  deviceID,
	}
}
