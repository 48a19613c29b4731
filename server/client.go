package server

import (
	"errors"
	"fmt"
	"net"
	"sort"

	"github.com/mstarongithub/way2panel/wire"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	displayID = 1

	// first id of the range the server allocates from
	serverIDBase = 0xff000000
)

// wl_display error codes
const (
	errInvalidObject  = 0
	errInvalidMethod  = 1
	errNoMemory       = 2
	errImplementation = 3
)

// ProtocolError is posted to the client as wl_display.error, then the
// client is disconnected
type ProtocolError struct {
	Object  uint32
	Code    uint32
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error on object %d (code %d): %s", e.Object, e.Code, e.Message)
}

func protoErr(r *Resource, code uint32, format string, args ...any) error {
	return &ProtocolError{Object: r.id, Code: code, Message: fmt.Sprintf(format, args...)}
}

// object is anything that lives in a client's id table
type object interface {
	res() *Resource
	request(op uint16, d *wire.Decoder) error
}

// destroyer is implemented by objects that need cleanup when they leave the table
type destroyer interface {
	destroyed()
}

// Resource is the per-client identity shared by all objects
type Resource struct {
	client  *Client
	id      uint32
	iface   string
	version uint32
}

func (r *Resource) res() *Resource    { return r }
func (r *Resource) Client() *Client   { return r.client }
func (r *Resource) ID() uint32        { return r.id }
func (r *Resource) Version() uint32   { return r.version }
func (r *Resource) Interface() string { return r.iface }

func (r *Resource) send(b *wire.Builder) {
	if r.client.dead {
		b.Discard()
		return
	}
	if err := r.client.conn.Send(b); err != nil {
		b.Discard()
		logrus.WithError(err).WithField("interface", r.iface).Warnln("Dropping oversized event")
	}
}

func (r *Resource) event(op uint16) *wire.Builder {
	return wire.NewMessage(r.id, op)
}

type Client struct {
	server *Server
	id     ClientID
	conn   *wire.Conn

	objects    map[uint32]object
	zombies    map[uint32]bool
	nextServer uint32
	registries []*registry

	dead bool
	pid  int32
}

func newClient(s *Server, id ClientID, conn *wire.Conn) *Client {
	c := &Client{
		server:     s,
		id:         id,
		conn:       conn,
		objects:    map[uint32]object{},
		zombies:    map[uint32]bool{},
		nextServer: serverIDBase,
		pid:        -1,
	}
	c.objects[displayID] = &display{Resource{client: c, id: displayID, iface: "wl_display", version: 1}}
	if cred, err := conn.PeerCred(); err == nil {
		c.pid = cred.Pid
	}
	return c
}

func (c *Client) ID() ClientID     { return c.id }
func (c *Client) Alive() bool      { return !c.dead }
func (c *Client) Pid() int32       { return c.pid }
func (c *Client) Server() *Server { return c.server }

// read runs on its own goroutine and only posts into the loop
func (c *Client) read() {
	for {
		h, d, err := c.conn.ReadMessage()
		if err != nil {
			c.server.loop.Post(func() { c.disconnect(err) })
			return
		}
		c.server.loop.Post(func() { c.handle(h, d) })
	}
}

func (c *Client) handle(h wire.Header, d *wire.Decoder) {
	if c.dead {
		return
	}
	obj, ok := c.objects[h.Object]
	if !ok {
		// requests racing with a destroy are legal and ignored
		if h.Object >= serverIDBase || c.zombies[h.Object] {
			return
		}
		c.postError(&ProtocolError{Object: displayID, Code: errInvalidObject, Message: fmt.Sprintf("unknown object %d", h.Object)})
		return
	}
	err := obj.request(h.Opcode, d)
	if err == nil {
		err = d.Err()
	}
	if err == nil {
		return
	}
	var perr *ProtocolError
	if errors.As(err, &perr) {
		c.postError(perr)
		return
	}
	c.postError(&ProtocolError{Object: h.Object, Code: errInvalidMethod, Message: err.Error()})
}

func (c *Client) postError(e *ProtocolError) {
	logrus.WithFields(logrus.Fields{
		"client": c.id,
		"object": e.Object,
		"code":   e.Code,
	}).Warnln("Applet protocol error:", e.Message)
	c.objects[displayID].res().send(wire.NewMessage(displayID, 0).Object(e.Object).Uint(e.Code).String(e.Message))
	c.conn.Flush()
	c.disconnect(e)
}

// Kill posts an implementation error and disconnects
func (c *Client) Kill(msg string) {
	if c.dead {
		return
	}
	c.postError(&ProtocolError{Object: displayID, Code: errImplementation, Message: msg})
}

// Close disconnects the client without an error
func (c *Client) Close() {
	c.disconnect(nil)
}

func (c *Client) disconnect(err error) {
	if c.dead {
		return
	}
	if err != nil && !errors.Is(err, net.ErrClosed) {
		var perr *ProtocolError
		if !errors.As(err, &perr) {
			logrus.WithError(err).WithField("client", c.id).Debugln("Applet connection ended")
		}
	}
	c.dead = true
	// tear down in reverse creation order so children go before parents
	ids := make([]uint32, 0, len(c.objects))
	for id := range c.objects {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	for _, id := range ids {
		if d, ok := c.objects[id].(destroyer); ok {
			d.destroyed()
		}
	}
	c.objects = map[uint32]object{}
	c.registries = nil
	c.conn.Close()
	delete(c.server.clients, c.id)
	c.server.handler.ClientDisconnected(c)
}

func (c *Client) newResource(id uint32, iface string, version uint32) (Resource, error) {
	if id == 0 {
		return Resource{}, &ProtocolError{Object: displayID, Code: errInvalidObject, Message: "new id 0"}
	}
	if _, taken := c.objects[id]; taken {
		return Resource{}, &ProtocolError{Object: displayID, Code: errInvalidObject, Message: fmt.Sprintf("id %d already in use", id)}
	}
	return Resource{client: c, id: id, iface: iface, version: version}, nil
}

// child makes a resource for a new_id argument, inheriting r's version
func (r *Resource) child(id uint32, iface string) (Resource, error) {
	return r.client.newResource(id, iface, r.version)
}

func (c *Client) add(o object) {
	id := o.res().id
	c.objects[id] = o
	delete(c.zombies, id)
}

// serverResource allocates an id for an object the server creates
func (c *Client) serverResource(iface string, version uint32) Resource {
	id := c.nextServer
	c.nextServer++
	return Resource{client: c, id: id, iface: iface, version: version}
}

// destroy removes id from the table and acknowledges it to the client
func (c *Client) destroy(id uint32) {
	o, ok := c.objects[id]
	if !ok {
		return
	}
	delete(c.objects, id)
	c.zombies[id] = true
	if d, ok := o.(destroyer); ok {
		d.destroyed()
	}
	if id < serverIDBase {
		c.objects[displayID].res().send(wire.NewMessage(displayID, 1).Uint(id))
	}
}

func lookup[T object](c *Client, id uint32) (T, bool) {
	var zero T
	o, ok := c.objects[id]
	if !ok {
		return zero, false
	}
	t, ok := o.(T)
	return t, ok
}

// mustLookup resolves a non-null object argument of a specific type
func mustLookup[T object](r *Resource, id uint32) (T, error) {
	t, ok := lookup[T](r.client, id)
	if !ok {
		var zero T
		return zero, &ProtocolError{Object: displayID, Code: errInvalidObject, Message: fmt.Sprintf("object %d of wrong type or unknown in %s request", id, r.iface)}
	}
	return t, nil
}

type display struct{ Resource }

func (d *display) request(op uint16, dec *wire.Decoder) error {
	switch op {
	case 0: // sync
		id := dec.NewID()
		if dec.Err() != nil {
			return dec.Err()
		}
		res, err := d.client.newResource(id, "wl_callback", 1)
		if err != nil {
			return err
		}
		cb := &callback{res}
		d.client.add(cb)
		cb.done(d.client.server.NextSerial())
		return nil
	case 1: // get_registry
		id := dec.NewID()
		if dec.Err() != nil {
			return dec.Err()
		}
		res, err := d.client.newResource(id, "wl_registry", 1)
		if err != nil {
			return err
		}
		r := &registry{res}
		d.client.add(r)
		d.client.registries = append(d.client.registries, r)
		for _, g := range d.client.server.globals {
			r.announce(g)
		}
		return nil
	}
	return protoErr(&d.Resource, errInvalidMethod, "bad opcode %d", op)
}

type callback struct{ Resource }

func (cb *callback) request(op uint16, d *wire.Decoder) error {
	return protoErr(&cb.Resource, errInvalidMethod, "wl_callback has no requests")
}

func (cb *callback) done(data uint32) {
	cb.send(cb.event(0).Uint(data))
	cb.client.destroy(cb.id)
}

type registry struct{ Resource }

func (r *registry) announce(g *global) {
	r.send(r.event(0).Uint(g.name).String(g.iface).Uint(g.version))
}

func (r *registry) sendRemove(g *global) {
	r.send(r.event(1).Uint(g.name))
}

func (r *registry) request(op uint16, d *wire.Decoder) error {
	if op != 0 {
		return protoErr(&r.Resource, errInvalidMethod, "bad opcode %d", op)
	}
	name := d.Uint()
	iface := d.String()
	version := d.Uint()
	id := d.NewID()
	if d.Err() != nil {
		return d.Err()
	}
	for _, g := range r.client.server.globals {
		if g.name != name {
			continue
		}
		if g.iface != iface {
			return protoErr(&r.Resource, errInvalidObject, "global %d is %s, not %s", name, g.iface, iface)
		}
		if version == 0 || version > g.version {
			return protoErr(&r.Resource, errInvalidObject, "invalid version %d for %s", version, iface)
		}
		if _, taken := r.client.objects[id]; taken {
			return protoErr(&r.Resource, errInvalidObject, "id %d already in use", id)
		}
		return g.bind(r.client, id, version)
	}
	// binding a global that was just removed is not an error
	r.client.add(&inert{Resource{client: r.client, id: id, iface: iface, version: version}})
	return nil
}

// inert stands in for objects bound to vanished globals. It only accepts destruction
type inert struct{ Resource }

func (i *inert) request(op uint16, d *wire.Decoder) error {
	return nil
}

// closeFD is used on fds received in requests the server does not keep
func closeFD(fd int) {
	if fd >= 0 {
		unix.Close(fd)
	}
}
