// Package dbus binds the monitor to the system bus: property reads and
// writes, PropertiesChanged subscriptions delivered on the event loop, and
// inventory updates.
package dbus

import (
	"context"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"codeberg.org/mutker/fanmon/internal/errors"
	"codeberg.org/mutker/fanmon/internal/logger"
	godbus "github.com/godbus/dbus/v5"
)

const (
	mapperService   = "xyz.openbmc_project.ObjectMapper"
	mapperPath      = "/xyz/openbmc_project/object_mapper"
	mapperInterface = "xyz.openbmc_project.ObjectMapper"

	signalBuffer = 64
)

// Poster runs work on the event loop
type Poster interface {
	Post(fn func() error) error
}

type subKey struct {
	path  string
	iface string
}

type subscription struct {
	conn     *Conn
	key      subKey
	id       uint64
	property string
	handler  func(int64) error
	closed   atomic.Bool
}

type Conn struct {
	conn    *godbus.Conn
	poster  Poster
	signals chan *godbus.Signal
	done    chan struct{}
	log     logger.Logger

	mu       sync.Mutex
	subs     map[subKey]map[uint64]*subscription
	nextID   uint64
	services map[subKey]string
}

// Connect opens the system or session bus and routes its signals to poster
func Connect(bus string, poster Poster) (*Conn, error) {
	var (
		conn *godbus.Conn
		err  error
	)

	switch bus {
	case "session":
		conn, err = godbus.ConnectSessionBus()
	default:
		conn, err = godbus.ConnectSystemBus()
	}
	if err != nil {
		return nil, errors.New().WrapData(ErrConnectFailed, err, bus)
	}

	return New(conn, poster), nil
}

// New wraps an established connection
func New(conn *godbus.Conn, poster Poster) *Conn {
	c := &Conn{
		conn:     conn,
		poster:   poster,
		signals:  make(chan *godbus.Signal, signalBuffer),
		done:     make(chan struct{}),
		log:      logger.Component("dbus"),
		subs:     make(map[subKey]map[uint64]*subscription),
		services: make(map[subKey]string),
	}

	conn.Signal(c.signals)
	go c.watch()

	return c
}

func (c *Conn) watch() {
	defer close(c.done)

	for sig := range c.signals {
		c.route(sig)
	}
}

func (c *Conn) route(sig *godbus.Signal) {
	iface, changed, ok := decodePropertiesChanged(sig)
	if !ok {
		return
	}

	key := subKey{path: string(sig.Path), iface: iface}

	c.mu.Lock()
	subs := make([]*subscription, 0, len(c.subs[key]))
	for _, sub := range c.subs[key] {
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })

	for _, sub := range subs {
		variant, ok := changed[sub.property]
		if !ok {
			continue
		}

		value, err := ToInt64(variant)
		if err != nil {
			c.log.Warn().Err(err).
				Str("path", key.path).
				Str("interface", key.iface).
				Str("property", sub.property).
				Msg("Ignoring non-numeric property change")
			continue
		}

		sub := sub
		if err := c.poster.Post(func() error {
			if sub.closed.Load() {
				return nil
			}
			return sub.handler(value)
		}); err != nil {
			c.log.Debug().Err(err).Str("path", key.path).Msg("Dropping property change after shutdown")
		}
	}
}

// Subscribe routes changes of one property to handler on the event loop
func (c *Conn) Subscribe(path, iface, property string, handler func(int64) error) (io.Closer, error) {
	if err := c.conn.AddMatchSignal(matchOptions(path, iface)...); err != nil {
		return nil, errors.New().WrapData(ErrMatchFailed, err, Context{
			Path:      path,
			Interface: iface,
			Member:    property,
		})
	}

	key := subKey{path: path, iface: iface}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	sub := &subscription{
		conn:     c,
		key:      key,
		id:       c.nextID,
		property: property,
		handler:  handler,
	}
	if c.subs[key] == nil {
		c.subs[key] = make(map[uint64]*subscription)
	}
	c.subs[key][sub.id] = sub

	c.log.Debug().Str("match", MatchRule(path, iface)).Str("property", property).Msg("Subscribed")

	return sub, nil
}

func (s *subscription) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	c := s.conn
	c.mu.Lock()
	delete(c.subs[s.key], s.id)
	if len(c.subs[s.key]) == 0 {
		delete(c.subs, s.key)
	}
	c.mu.Unlock()

	if err := c.conn.RemoveMatchSignal(matchOptions(s.key.path, s.key.iface)...); err != nil {
		return errors.New().WrapData(ErrMatchFailed, err, Context{
			Path:      s.key.path,
			Interface: s.key.iface,
			Member:    s.property,
		})
	}
	return nil
}

// Service resolves which bus name hosts iface on path
func (c *Conn) Service(ctx context.Context, path, iface string) (string, error) {
	key := subKey{path: path, iface: iface}

	c.mu.Lock()
	service, ok := c.services[key]
	c.mu.Unlock()
	if ok {
		return service, nil
	}

	var owners map[string][]string
	err := c.conn.Object(mapperService, mapperPath).
		CallWithContext(ctx, mapperInterface+".GetObject", 0, path, []string{iface}).
		Store(&owners)
	if err != nil {
		return "", errors.New().WrapData(ErrServiceLookup, err, Context{Path: path, Interface: iface})
	}
	if len(owners) == 0 {
		return "", errors.New().WithData(ErrServiceLookup, Context{Path: path, Interface: iface})
	}

	names := make([]string, 0, len(owners))
	for name := range owners {
		names = append(names, name)
	}
	sort.Strings(names)
	service = names[0]

	c.mu.Lock()
	c.services[key] = service
	c.mu.Unlock()

	return service, nil
}

// Property reads a numeric property
func (c *Conn) Property(ctx context.Context, path, iface, property string) (int64, error) {
	service, err := c.Service(ctx, path, iface)
	if err != nil {
		return 0, err
	}

	errCtx := Context{BusName: service, Path: path, Interface: iface, Member: property}

	var v godbus.Variant
	err = c.conn.Object(service, godbus.ObjectPath(path)).
		CallWithContext(ctx, propertiesGet, 0, iface, property).
		Store(&v)
	if err != nil {
		return 0, errors.New().WrapData(ErrPropertyFailed, err, errCtx)
	}

	n, err := ToInt64(v)
	if err != nil {
		return 0, errors.New().WrapData(ErrPropertyFailed, err, errCtx)
	}

	return n, nil
}

// SetProperty writes a property
func (c *Conn) SetProperty(ctx context.Context, path, iface, property string, value any) error {
	service, err := c.Service(ctx, path, iface)
	if err != nil {
		return err
	}

	call := c.conn.Object(service, godbus.ObjectPath(path)).
		CallWithContext(ctx, propertiesSet, 0, iface, property, godbus.MakeVariant(value))
	if call.Err != nil {
		return errors.New().WrapData(ErrPropertyFailed, call.Err, Context{
			BusName:   service,
			Path:      path,
			Interface: iface,
			Member:    property,
		})
	}

	return nil
}

// Close disconnects and waits for the signal router to finish
func (c *Conn) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}
