package sink

import (
	"encoding/json"
	"net/http"

	"github.com/censys/radio-survey/pkg/scanning"
)

// Results holds one broadcast per radio type.
type Results struct {
	Wifi      *Broadcast[[]scanning.WifiObservation]
	Bluetooth *Broadcast[[]scanning.BluetoothObservation]
}

// NewResults returns an empty Results sink.
func NewResults() *Results {
	return &Results{
		Wifi:      NewBroadcast[[]scanning.WifiObservation](),
		Bluetooth: NewBroadcast[[]scanning.BluetoothObservation](),
	}
}

func (r *Results) PublishWifi(v []scanning.WifiObservation)           { r.Wifi.Publish(v) }
func (r *Results) PublishBluetooth(v []scanning.BluetoothObservation) { r.Bluetooth.Publish(v) }

type snapshot struct {
	Wifi      []scanning.WifiObservation      `json:"wifi"`
	Bluetooth []scanning.BluetoothObservation `json:"bluetooth"`
}

// Handler serves the latest lists as JSON.
func (r *Results) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		wifi, _ := r.Wifi.Latest()
		bt, _ := r.Bluetooth.Latest()
		if wifi == nil {
			wifi = []scanning.WifiObservation{}
		}
		if bt == nil {
			bt = []scanning.BluetoothObservation{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snapshot{Wifi: wifi, Bluetooth: bt})
	})
}
