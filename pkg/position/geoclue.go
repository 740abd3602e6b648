package position

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/censys/radio-survey/internal/logging"
	"github.com/censys/radio-survey/pkg/geo"
	"github.com/censys/radio-survey/pkg/sink"
)

const (
	gcService       = "org.freedesktop.GeoClue2"
	gcManagerPath   = "/org/freedesktop/GeoClue2/Manager"
	gcManagerIface  = gcService + ".Manager"
	gcClientIface   = gcService + ".Client"
	gcLocationIface = gcService + ".Location"

	// GeoClue accuracy level "exact".
	gcAccuracyExact uint32 = 8
)

// DesktopID identifies the agent to GeoClue's authorization agent.
const DesktopID = "radio-survey"

// GeoClue tracks the position reported by the GeoClue2 service.
type GeoClue struct {
	conn    *dbus.Conn
	client  dbus.BusObject
	signals chan *dbus.Signal
	log     logging.Logger

	mu      sync.RWMutex
	last    geo.Position
	hasLast bool

	updates *sink.Broadcast[geo.Position]
	done    chan struct{}
	once    sync.Once
}

// NewGeoClue registers a client with GeoClue2 and starts location updates.
func NewGeoClue(ctx context.Context, log logging.Logger) (*GeoClue, error) {
	if log == nil {
		log = logging.Noop()
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("system bus: %w", err)
	}

	var clientPath dbus.ObjectPath
	manager := conn.Object(gcService, gcManagerPath)
	if err := manager.CallWithContext(ctx, gcManagerIface+".GetClient", 0).Store(&clientPath); err != nil {
		conn.Close()
		return nil, fmt.Errorf("geoclue get client: %w", err)
	}
	client := conn.Object(gcService, clientPath)
	if err := client.SetProperty(gcClientIface+".DesktopId", dbus.MakeVariant(DesktopID)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("geoclue desktop id: %w", err)
	}
	if err := client.SetProperty(gcClientIface+".RequestedAccuracyLevel", dbus.MakeVariant(gcAccuracyExact)); err != nil {
		log.Warn(ctx, "geoclue accuracy level rejected", logging.Error(err))
	}

	g := &GeoClue{
		conn:    conn,
		client:  client,
		signals: make(chan *dbus.Signal, 8),
		log:     log,
		updates: sink.NewBroadcast[geo.Position](),
		done:    make(chan struct{}),
	}
	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(clientPath),
		dbus.WithMatchInterface(gcClientIface),
		dbus.WithMatchMember("LocationUpdated"),
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("geoclue subscribe: %w", err)
	}
	conn.Signal(g.signals)

	if err := client.CallWithContext(ctx, gcClientIface+".Start", 0).Err; err != nil {
		conn.Close()
		return nil, fmt.Errorf("geoclue start: %w", err)
	}

	// pick up a fix GeoClue already had before Start
	if v, err := client.GetProperty(gcClientIface + ".Location"); err == nil {
		if p, ok := v.Value().(dbus.ObjectPath); ok {
			g.update(ctx, p)
		}
	}
	go g.watch()
	return g, nil
}

// LastPosition returns the most recent fix, or geo.ErrNoPosition.
func (g *GeoClue) LastPosition(context.Context) (geo.Position, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.hasLast {
		return geo.Position{}, geo.ErrNoPosition
	}
	return g.last, nil
}

// Subscribe delivers position updates as they arrive. The returned func
// unsubscribes.
func (g *GeoClue) Subscribe() (<-chan geo.Position, func()) {
	return g.updates.Subscribe()
}

// Close stops the client and releases the bus connection.
func (g *GeoClue) Close() error {
	var err error
	g.once.Do(func() {
		close(g.done)
		_ = g.client.Call(gcClientIface+".Stop", 0).Err
		g.conn.RemoveSignal(g.signals)
		err = g.conn.Close()
	})
	return err
}

func (g *GeoClue) watch() {
	ctx := context.Background()
	for {
		select {
		case <-g.done:
			return
		case sig, ok := <-g.signals:
			if !ok {
				return
			}
			if sig.Name != gcClientIface+".LocationUpdated" || len(sig.Body) < 2 {
				continue
			}
			if p, ok := sig.Body[1].(dbus.ObjectPath); ok {
				g.update(ctx, p)
			}
		}
	}
}

func (g *GeoClue) update(ctx context.Context, path dbus.ObjectPath) {
	if path == "" || path == "/" {
		return
	}
	loc := g.conn.Object(gcService, path)
	lat, err := loc.GetProperty(gcLocationIface + ".Latitude")
	if err != nil {
		g.log.Warn(ctx, "geoclue latitude", logging.Error(err))
		return
	}
	lon, err := loc.GetProperty(gcLocationIface + ".Longitude")
	if err != nil {
		g.log.Warn(ctx, "geoclue longitude", logging.Error(err))
		return
	}
	pos, ok := positionFromVariants(lat, lon)
	if !ok {
		g.log.Warn(ctx, "geoclue returned an invalid position")
		return
	}
	g.set(pos)
	g.log.Debug(ctx, "position updated", logging.String("position", pos.String()))
}

func (g *GeoClue) set(pos geo.Position) {
	g.mu.Lock()
	g.last, g.hasLast = pos, true
	g.mu.Unlock()
	g.updates.Publish(pos)
}

func positionFromVariants(lat, lon dbus.Variant) (geo.Position, bool) {
	la, ok1 := lat.Value().(float64)
	lo, ok2 := lon.Value().(float64)
	if !ok1 || !ok2 {
		return geo.Position{}, false
	}
	p := geo.Position{Latitude: la, Longitude: lo}
	return p, p.Valid()
}
