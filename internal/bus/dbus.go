package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

// ///////////////////////////////////////////////
// Configuration
// ///////////////////////////////////////////////

// Well-known addresses of the Jami daemon's configuration manager.
const (
	DefaultDestination = "cx.ring.Ring"
	DefaultPath        = "/cx/ring/Ring/ConfigurationManager"
	DefaultCallTimeout = 5 * time.Second
)

// signalBuffer is the capacity of the channel godbus delivers signals on.
const signalBuffer = 256

// Config selects the bus and the remote object.
type Config struct {
	// Address is "session", "system", or a D-Bus address such as
	// "unix:path=/run/user/1000/bus".
	Address string
	// Destination is the well-known bus name of the daemon.
	Destination string
	// Path is the object path calls are sent to and signals are matched on.
	Path string
	// CallTimeout bounds each method call.
	CallTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Address == "" {
		c.Address = "session"
	}
	if c.Destination == "" {
		c.Destination = DefaultDestination
	}
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	return c
}

// ///////////////////////////////////////////////
// DBusConn
// ///////////////////////////////////////////////

// DBusConn is a [Conn] backed by a godbus connection. A single reactor
// goroutine reads signals and runs the matching handlers.
type DBusConn struct {
	// cfg is the resolved configuration.
	cfg Config
	// conn is the underlying D-Bus connection.
	conn *dbus.Conn
	// obj is the daemon's configuration manager object.
	obj dbus.BusObject
	// signals receives every signal godbus routes to this connection.
	signals chan *dbus.Signal
	// routes holds the registered handlers.
	routes *router
	// log receives reactor diagnostics.
	log *slog.Logger

	// done is closed when the reactor exits.
	done chan struct{}
	// mu protects err and closing.
	mu sync.Mutex
	// err is the reason done was closed.
	err error
	// closing is set by Close so the reactor can tell shutdown from loss.
	closing bool
	// closeOnce guards conn.Close.
	closeOnce sync.Once
}

// Dial connects to the bus named in cfg and starts the signal reactor.
// A daemon that does not own its bus name yet is logged but not fatal;
// signals start flowing once it appears.
func Dial(ctx context.Context, cfg Config, log *slog.Logger) (*DBusConn, error) {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}

	var (
		conn *dbus.Conn
		err  error
	)
	switch cfg.Address {
	case "session":
		conn, err = dbus.ConnectSessionBus()
	case "system":
		conn, err = dbus.ConnectSystemBus()
	default:
		conn, err = dbus.Connect(cfg.Address)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to %s bus: %w", cfg.Address, err)
	}

	c := &DBusConn{
		cfg:     cfg,
		conn:    conn,
		obj:     conn.Object(cfg.Destination, dbus.ObjectPath(cfg.Path)),
		signals: make(chan *dbus.Signal, signalBuffer),
		routes:  newRouter(),
		log:     log,
		done:    make(chan struct{}),
	}
	conn.Signal(c.signals)
	go c.reactor()

	var owned bool
	call := conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.NameHasOwner", 0, cfg.Destination)
	if err := call.Store(&owned); err != nil {
		log.Warn("checking daemon name owner", "destination", cfg.Destination, "error", err)
	} else if !owned {
		log.Warn("daemon not running on bus", "destination", cfg.Destination)
	}

	return c, nil
}

// Call invokes iface.method on the daemon object with the configured timeout.
func (c *DBusConn) Call(ctx context.Context, iface, method string, args ...any) ([]any, error) {
	select {
	case <-c.done:
		return nil, c.Err()
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	call := c.obj.CallWithContext(ctx, iface+"."+method, 0, args...)
	if call.Err != nil {
		return nil, fmt.Errorf("calling %s: %w", method, call.Err)
	}
	return call.Body, nil
}

// Subscribe adds a bus match rule for iface.member on the daemon object and
// routes matching signals to h.
func (c *DBusConn) Subscribe(iface, member string, h Handler) (Match, error) {
	select {
	case <-c.done:
		return nil, c.Err()
	default:
	}

	name := iface + "." + member
	id := c.routes.add(name, h)

	opts := c.matchOptions(iface, member)
	if err := c.conn.AddMatchSignal(opts...); err != nil {
		c.routes.remove(name, id)
		return nil, fmt.Errorf("adding match for %s: %w", name, err)
	}
	return &dbusMatch{c: c, name: name, id: id, opts: opts}, nil
}

// Done is closed when the reactor stops.
func (c *DBusConn) Done() <-chan struct{} { return c.done }

// Err returns nil while the connection is live.
func (c *DBusConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close shuts down the connection and waits for the reactor to exit.
func (c *DBusConn) Close() error {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()

	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	<-c.done
	return err
}

func (c *DBusConn) matchOptions(iface, member string) []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchObjectPath(dbus.ObjectPath(c.cfg.Path)),
		dbus.WithMatchInterface(iface),
		dbus.WithMatchMember(member),
	}
}

// reactor drains the signal channel until godbus closes it.
func (c *DBusConn) reactor() {
	for sig := range c.signals {
		if string(sig.Path) != c.cfg.Path {
			continue
		}
		if n := c.routes.dispatch(sig.Name, sig.Body); n == 0 {
			c.log.Debug("unrouted signal", "name", sig.Name)
		}
	}

	c.mu.Lock()
	if c.closing {
		c.err = ErrClosed
	} else {
		c.err = ErrConnectionLost
		c.log.Warn("bus connection lost")
	}
	c.mu.Unlock()
	close(c.done)
}

// ///////////////////////////////////////////////
// dbusMatch
// ///////////////////////////////////////////////

// dbusMatch removes both the local route and the bus match rule.
type dbusMatch struct {
	c    *DBusConn
	name string
	id   uint64
	opts []dbus.MatchOption
	once sync.Once
}

func (m *dbusMatch) Remove() error {
	var err error
	m.once.Do(func() {
		m.c.routes.remove(m.name, m.id)
		select {
		case <-m.c.done:
			// Match rules die with the connection.
			return
		default:
		}
		if rmErr := m.c.conn.RemoveMatchSignal(m.opts...); rmErr != nil {
			err = fmt.Errorf("removing match for %s: %w", m.name, rmErr)
		}
	})
	return err
}
