package tchannel

import (
	"io"
	"net"
	"sync"
	"time"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fastrand"

	"github.com/hoangvantu/tchannel/tchannelutils"
)

const (
	// DefaultTimeout bounds outbound calls that do not carry their own.
	DefaultTimeout = 5 * time.Second
	// DefaultServerTimeout bounds how long an unanswered inbound
	// operation is retained before the sweeper prunes it.
	DefaultServerTimeout = 30 * time.Second
	// DefaultTimeoutCheckInterval is the base sweeper period.
	DefaultTimeoutCheckInterval = time.Second
	// DefaultTimeoutFuzz spreads sweeper ticks to avoid thundering
	// herds across many connections.
	DefaultTimeoutFuzz = 100 * time.Millisecond
)

// DialFunc opens the byte-duplex transport to a peer.
type DialFunc func(hostPort string) (io.ReadWriteCloser, error)

// Options configures a Channel. HostPort and ProcessName are required;
// the zero value of every other field has a usable default.
type Options struct {
	// ProcessName is the free-form identifier sent during init.
	ProcessName string
	// HostPort is this node's advertised listener address.
	HostPort string

	Logger logrus.FieldLogger

	DefaultTimeout       time.Duration
	ServerTimeout        time.Duration
	TimeoutCheckInterval time.Duration
	TimeoutFuzz          time.Duration

	// Now and Rand are the injected clock and random source.
	Now  func() time.Time
	Rand func(maxN uint32) uint32

	// Dial opens outbound sockets. Defaults to TCP.
	Dial DialFunc

	// Lifecycle events.
	OnIdentified  func(c *Connection)
	OnReset       func(c *Connection, err error)
	OnSocketClose func(c *Connection, err error)
}

func (o *Options) withDefaults() {
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = DefaultTimeout
	}
	if o.ServerTimeout <= 0 {
		o.ServerTimeout = DefaultServerTimeout
	}
	if o.TimeoutCheckInterval <= 0 {
		o.TimeoutCheckInterval = DefaultTimeoutCheckInterval
	}
	if o.TimeoutFuzz < 0 {
		o.TimeoutFuzz = 0
	} else if o.TimeoutFuzz == 0 {
		o.TimeoutFuzz = DefaultTimeoutFuzz
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Rand == nil {
		o.Rand = fastrand.Uint32n
	}
	if o.Dial == nil {
		o.Dial = func(hostPort string) (io.ReadWriteCloser, error) {
			return net.Dial("tcp", hostPort)
		}
	}
}

// Channel is the per-node hub: it owns the peer table, the endpoint
// registry and the lifecycle of every connection.
type Channel struct {
	opts Options
	log  logrus.FieldLogger

	mu        sync.Mutex
	peers     map[string]*peerList
	endpoints map[string]Handler
	conns     map[*Connection]struct{}
	ln        net.Listener
	destroyed bool

	wg sync.WaitGroup
}

// NewChannel returns a Channel ready to register endpoints, serve
// inbound connections and dial peers.
func NewChannel(opts Options) (*Channel, error) {
	if opts.HostPort == "" {
		return nil, errors.New("options: HostPort is required")
	}
	if opts.ProcessName == "" {
		return nil, errors.New("options: ProcessName is required")
	}

	opts.withDefaults()

	return &Channel{
		opts:      opts,
		log:       opts.Logger.WithField("hostPort", opts.HostPort),
		peers:     make(map[string]*peerList),
		endpoints: make(map[string]Handler),
		conns:     make(map[*Connection]struct{}),
	}, nil
}

// HostPort returns this node's advertised address.
func (ch *Channel) HostPort() string {
	return ch.opts.HostPort
}

// Register installs the handler for an endpoint name (matched against
// arg1 of inbound calls). Redefining a name is an error.
func (ch *Channel) Register(name string, h Handler) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if _, ok := ch.endpoints[name]; ok {
		return errors.Wrap(ErrEndpointExists, name)
	}

	ch.endpoints[name] = h
	return nil
}

func (ch *Channel) lookupEndpoint(name string) Handler {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.endpoints[name]
}

// SendOptions selects the destination and shape of one outbound call.
type SendOptions struct {
	// Host is the destination host:port. Required.
	Host string
	// Timeout bounds the call; zero means the channel default.
	Timeout time.Duration
	// Service names the logical service; carried through, not used for
	// dispatch.
	Service string
	// Headers are the transport headers, in order.
	Headers []CallHeader
	// ChecksumType defaults to crc32.
	ChecksumType ChecksumType
	hasChecksum  bool
}

// WithChecksum picks an explicit checksum type, including none.
func (o SendOptions) WithChecksum(ct ChecksumType) SendOptions {
	o.ChecksumType = ct
	o.hasChecksum = true
	return o
}

// Send dispatches one call to opts.Host, dialing an outbound connection
// if the peer table has none. Once the call is enrolled on a connection
// the sink fires exactly once, also when the write fails and Send returns
// that error. Errors returned before enrolment (invalid options, dial
// failure, a connection already closing) never fire the sink.
func (ch *Channel) Send(opts SendOptions, arg1, arg2, arg3 []byte, sink ResponseSink) error {
	if opts.Host == "" {
		return errors.New("send: Host is required")
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = ch.opts.DefaultTimeout
	}
	if timeout < time.Millisecond {
		return ErrInvalidTTL
	}

	if len(arg1) > 0xFFFF || len(arg2) > 0xFFFF || len(arg3) > 0xFFFF ||
		len(opts.Service) > 0xFFFF {
		return ErrArgTooLarge
	}
	if len(opts.Headers) > 0xFF {
		return ErrArgTooLarge
	}
	for _, h := range opts.Headers {
		if len(h.Key) > 0xFF || len(h.Value) > 0xFF {
			return ErrArgTooLarge
		}
	}

	conn := ch.GetPeer(opts.Host)
	if conn == nil {
		var err error
		if conn, err = ch.AddPeer(opts.Host); err != nil {
			return err
		}
	}

	ct := ChecksumTypeCrc32
	if opts.hasChecksum || opts.ChecksumType != ChecksumTypeNone {
		ct = opts.ChecksumType
	}
	if ct.New() == nil {
		return errors.Wrap(ErrUnknownChecksumType, "send")
	}

	req := AcquireFrame(FrameTypeCallRequest).(*CallRequest)
	req.TTL = uint32(timeout / time.Millisecond)
	tchannelutils.RandomBytes(req.Tracing[:])
	req.Service = append(req.Service[:0], opts.Service...)
	req.Headers = append(req.Headers[:0], opts.Headers...)
	req.ChecksumType = ct
	req.Arg1 = append(req.Arg1[:0], arg1...)
	req.Arg2 = append(req.Arg2[:0], arg2...)
	req.Arg3 = append(req.Arg3[:0], arg3...)

	err := conn.send(req, sink)
	ReleaseFrame(req)

	return err
}

// GetPeer returns the preferred (head) connection for hostPort, or nil.
func (ch *Channel) GetPeer(hostPort string) *Connection {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	pl, ok := ch.peers[hostPort]
	if !ok {
		return nil
	}

	return pl.head()
}

// AddPeer dials a new outbound connection to hostPort and inserts it at
// the head of the peer's sequence.
func (ch *Channel) AddPeer(hostPort string) (*Connection, error) {
	if hostPort == ch.opts.HostPort {
		return nil, ErrSelfPeer
	}

	ch.mu.Lock()
	if ch.destroyed {
		ch.mu.Unlock()
		return nil, ErrChannelDestroyed
	}
	ch.mu.Unlock()

	rwc, err := ch.opts.Dial(hostPort)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", hostPort)
	}

	c := newConnection(ch, rwc, Outbound, hostPort)
	c.peerKey = hostPort

	ch.mu.Lock()
	pl, ok := ch.peers[hostPort]
	if !ok {
		pl = &peerList{}
		ch.peers[hostPort] = pl
	}
	pl.addHead(c)
	ch.mu.Unlock()

	c.start()
	return c, nil
}

// HandleConn adopts an inbound, already-accepted transport. The
// connection joins the peer table once the remote identifies itself.
func (ch *Channel) HandleConn(rwc io.ReadWriteCloser, remoteAddr string) (*Connection, error) {
	ch.mu.Lock()
	if ch.destroyed {
		ch.mu.Unlock()
		_ = rwc.Close()
		return nil, ErrChannelDestroyed
	}
	ch.mu.Unlock()

	c := newConnection(ch, rwc, Inbound, remoteAddr)
	c.start()
	return c, nil
}

// Serve accepts connections from ln until the listener closes (Close
// does this on quit).
func (ch *Channel) Serve(ln net.Listener) error {
	ch.mu.Lock()
	if ch.destroyed {
		ch.mu.Unlock()
		return ErrChannelDestroyed
	}
	ch.ln = ln
	ch.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			ch.mu.Lock()
			destroyed := ch.destroyed
			ch.mu.Unlock()
			if destroyed {
				return nil
			}

			return errors.Wrap(err, "accept")
		}

		if _, err := ch.HandleConn(conn, conn.RemoteAddr().String()); err != nil {
			return err
		}
	}
}

// identifyConnection records the peer's advertised name. Inbound
// connections join the peer table at the tail. Returns false when the
// identification itself is a protocol violation (self-peering).
func (ch *Channel) identifyConnection(c *Connection, name string) bool {
	if name == ch.opts.HostPort {
		_ = c.resetAll(ErrSelfPeer)
		return false
	}

	if c.direction == Inbound {
		ch.mu.Lock()
		pl, ok := ch.peers[name]
		if !ok {
			pl = &peerList{}
			ch.peers[name] = pl
		}
		pl.addTail(c)
		ch.mu.Unlock()

		c.mu.Lock()
		c.peerKey = name
		c.mu.Unlock()
	}

	ch.log.WithField("peer", name).Debug("connection identified")
	if ch.opts.OnIdentified != nil {
		ch.opts.OnIdentified(c)
	}

	return true
}

// removeConnection splices c out of the peer table.
func (ch *Channel) removeConnection(c *Connection) {
	c.mu.Lock()
	key := c.peerKey
	c.mu.Unlock()
	if key == "" {
		return
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	pl, ok := ch.peers[key]
	if !ok {
		return
	}
	if pl.remove(c) && pl.empty() {
		delete(ch.peers, key)
	}
}

// Close is the channel quit: it stops the listener, resets every
// connection and returns once all sockets have reported close.
func (ch *Channel) Close() error {
	ch.mu.Lock()
	if ch.destroyed {
		ch.mu.Unlock()
		return nil
	}
	ch.destroyed = true
	ln := ch.ln

	conns := make([]*Connection, 0, len(ch.conns))
	for c := range ch.conns {
		conns = append(conns, c)
	}
	ch.mu.Unlock()

	var result *multierror.Error
	if ln != nil {
		if err := ln.Close(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "close listener"))
		}
	}

	for _, c := range conns {
		if err := c.resetAll(ErrChannelDestroyed); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "close %s", c.RemoteAddr()))
		}
	}

	ch.wg.Wait()
	return result.ErrorOrNil()
}

func (ch *Channel) now() time.Time {
	return ch.opts.Now()
}

func (ch *Channel) connStarted(c *Connection) {
	ch.mu.Lock()
	ch.conns[c] = struct{}{}
	ch.mu.Unlock()
	ch.wg.Add(1)
}

func (ch *Channel) connEnded(c *Connection) {
	ch.mu.Lock()
	delete(ch.conns, c)
	ch.mu.Unlock()
	ch.wg.Done()
}

func (ch *Channel) emitReset(c *Connection, err error) {
	if ch.opts.OnReset != nil {
		ch.opts.OnReset(c, err)
	}
}

func (ch *Channel) emitSocketClose(c *Connection, err error) {
	if ch.opts.OnSocketClose != nil {
		ch.opts.OnSocketClose(c, err)
	}
}
