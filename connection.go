package tchannel

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ConnectionDirection tells which side initiated the link.
type ConnectionDirection int8

const (
	Inbound ConnectionDirection = iota
	Outbound
)

func (d ConnectionDirection) String() string {
	if d == Outbound {
		return "out"
	}

	return "in"
}

// ResponseSink receives the completion of one outbound operation: the
// error (nil on OK), and the response arg2/arg3. The arg slices are only
// valid for the duration of the call.
type ResponseSink func(err error, arg2, arg3 []byte)

// RespondFunc sends the response for one inbound operation. A non-nil
// err produces an AppException response carrying the serialized error in
// arg1. Calling it a second time is a no-op.
type RespondFunc func(err error, res1, res2 []byte)

// Handler runs one inbound call. caller is the remote peer's advertised
// host:port. The arg slices are valid until respond is invoked.
type Handler func(arg2, arg3 []byte, caller string, respond RespondFunc)

type outOp struct {
	id       uint32
	start    time.Time
	timeout  time.Duration
	sink     ResponseSink
	timedOut bool
}

type inOp struct {
	id           uint32
	req          *CallRequest
	start        time.Time
	checksumType ChecksumType
	responded    bool
}

// Connection is one live duplex link to a peer. All mutable state is
// guarded by mu; socket writes are serialized by wmu so each frame goes
// out as one contiguous write.
type Connection struct {
	ch         *Channel
	rwc        io.ReadWriteCloser
	direction  ConnectionDirection
	remoteAddr string
	log        logrus.FieldLogger

	wmu sync.Mutex // socket write order

	mu              sync.Mutex
	remoteName      string
	identified      bool
	closing         bool
	closeErr        error
	lastFrameID     uint32
	lastTimeoutTime time.Time
	inOps           map[uint32]*inOp
	outOps          map[uint32]*outOp
	timer           *time.Timer
	peerKey         string
}

func newConnection(ch *Channel, rwc io.ReadWriteCloser, dir ConnectionDirection, remoteAddr string) *Connection {
	c := &Connection{
		ch:         ch,
		rwc:        rwc,
		direction:  dir,
		remoteAddr: remoteAddr,
		inOps:      make(map[uint32]*inOp),
		outOps:     make(map[uint32]*outOp),
		log: ch.log.WithFields(logrus.Fields{
			"remote":    remoteAddr,
			"direction": dir.String(),
		}),
	}

	ch.connStarted(c)

	return c
}

// start arms the sweeper, spawns the read loop and, for outbound links,
// opens the handshake with frame id 1.
func (c *Connection) start() {
	c.mu.Lock()
	c.armTimer()
	c.mu.Unlock()

	go c.readLoop()

	if c.direction == Outbound {
		req := AcquireFrame(FrameTypeInitRequest).(*InitRequest)
		req.Version = ProtocolVersion
		req.HostPort = c.ch.opts.HostPort
		req.ProcessName = c.ch.opts.ProcessName

		id := c.nextFrameID()
		_ = c.writeFrame(id, 0, req)
		ReleaseFrame(req)
	}
}

// RemoteAddr returns the transport-level remote address.
func (c *Connection) RemoteAddr() string {
	return c.remoteAddr
}

// Direction returns which side initiated the link.
func (c *Connection) Direction() ConnectionDirection {
	return c.direction
}

// RemoteName returns the peer's advertised host:port, empty before the
// handshake completes.
func (c *Connection) RemoteName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteName
}

// Closing reports whether the connection has begun teardown.
func (c *Connection) Closing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

// LastErr returns the error that reset the connection, nil while it is
// still live.
func (c *Connection) LastErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

func (c *Connection) nextFrameID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextFrameIDLocked()
}

// nextFrameIDLocked issues the next id: monotonic, wrapping at 2^32,
// first id 1. Ids still live in outOps are skipped.
func (c *Connection) nextFrameIDLocked() uint32 {
	for {
		c.lastFrameID++
		if _, live := c.outOps[c.lastFrameID]; !live {
			return c.lastFrameID
		}
	}
}

func (c *Connection) readLoop() {
	cr := NewChunkReader(c.handleFrameBytes)
	cr.ErrorHandler = func(err error) {
		c.log.WithError(err).Warn("framing error, resynchronizing")
	}

	buf := make([]byte, 4096)
	for {
		n, err := c.rwc.Read(buf)
		if n > 0 {
			if ferr := cr.Feed(buf[:n]); ferr != nil {
				c.resetAll(ferr)
				return
			}
		}
		if err != nil {
			if cerr := cr.Close(); cerr != nil {
				c.log.WithError(cerr).Warn("stream ended mid-frame")
			}
			if err == io.EOF {
				c.resetAll(ErrSocketClosed)
			} else {
				c.resetAll(errors.Wrap(err, "socket read"))
			}

			return
		}
	}
}

// handleFrameBytes decodes one frame slice from the chunk reader. A
// returned error aborts the feed and resets the connection; unknown
// frame types are logged and dropped.
func (c *Connection) handleFrameBytes(b []byte) error {
	frh, err := ParseFrame(b)
	if err != nil {
		if ift, ok := err.(*InvalidFrameTypeError); ok {
			c.log.WithField("type", fmt.Sprintf("0x%02x", uint8(ift.Type))).Warn("dropping frame of unknown type")
			return nil
		}

		return err
	}
	defer ReleaseFrameHeader(frh)

	c.handleFrame(frh)
	return nil
}

func (c *Connection) handleFrame(frh *FrameHeader) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}

	// a delivered frame clears the sweeper's escalation witness
	c.lastTimeoutTime = time.Time{}

	switch frh.Type() {
	case FrameTypeInitRequest:
		c.handleInitRequest(frh)
	case FrameTypeInitResponse:
		c.handleInitResponse(frh)
	case FrameTypeCallRequest:
		c.handleCallRequest(frh)
	case FrameTypeCallResponse:
		c.handleCallResponse(frh)
	case FrameTypeError:
		c.handleErrorFrame(frh)
	default:
		c.mu.Unlock()
		c.log.WithField("type", frh.Type().String()).Warn("dropping unhandled frame")
	}
}

// handleInitRequest runs with mu held and releases it.
func (c *Connection) handleInitRequest(frh *FrameHeader) {
	body := frh.Body().(*InitRequest)

	if c.identified {
		c.mu.Unlock()
		c.resetAll(ErrDuplicateInitRequest)
		return
	}
	if body.Version != ProtocolVersion {
		c.mu.Unlock()
		c.resetAll(fmt.Errorf("%w: %d", ErrUnsupportedVersion, body.Version))
		return
	}

	c.remoteName = body.HostPort
	c.identified = true
	id := frh.ID()
	c.mu.Unlock()

	if !c.ch.identifyConnection(c, body.HostPort) {
		return
	}

	res := AcquireFrame(FrameTypeInitResponse).(*InitResponse)
	res.Version = ProtocolVersion
	res.HostPort = c.ch.opts.HostPort
	res.ProcessName = c.ch.opts.ProcessName

	_ = c.writeFrame(id, 0, res)
	ReleaseFrame(res)
}

// handleInitResponse runs with mu held and releases it.
func (c *Connection) handleInitResponse(frh *FrameHeader) {
	body := frh.Body().(*InitResponse)

	if c.identified {
		c.mu.Unlock()
		c.resetAll(ErrDuplicateInitResponse)
		return
	}
	if body.Version != ProtocolVersion {
		c.mu.Unlock()
		c.resetAll(fmt.Errorf("%w: %d", ErrUnsupportedVersion, body.Version))
		return
	}

	c.remoteName = body.HostPort
	c.identified = true
	c.mu.Unlock()

	c.ch.identifyConnection(c, body.HostPort)
}

// handleCallRequest runs with mu held and releases it. The handler runs
// on its own goroutine so frame decode never observes a synchronous
// response interleaved with its own state updates.
func (c *Connection) handleCallRequest(frh *FrameHeader) {
	if !c.identified {
		c.mu.Unlock()
		c.resetAll(ErrCallReqBeforeInit)
		return
	}

	body := frh.DetachBody().(*CallRequest)
	op := &inOp{
		id:           frh.ID(),
		req:          body,
		start:        c.ch.now(),
		checksumType: body.ChecksumType,
	}
	c.inOps[op.id] = op
	c.mu.Unlock()

	h := c.ch.lookupEndpoint(string(body.Arg1))
	if h == nil {
		name := string(body.Arg1)
		h = func(arg2, arg3 []byte, caller string, respond RespondFunc) {
			respond(&AppError{
				Name:    "Error",
				Message: ErrNoSuchOperation.Error(),
				Fields:  map[string]interface{}{"op": name},
			}, nil, nil)
		}
	}

	go c.runHandler(op, h)
}

func (c *Connection) runHandler(op *inOp, h Handler) {
	respond := func(err error, res1, res2 []byte) {
		c.sendResponse(op, err, res1, res2)
	}

	h(op.req.Arg2, op.req.Arg3, c.RemoteName(), respond)
}

func (c *Connection) sendResponse(op *inOp, appErr error, res1, res2 []byte) {
	c.mu.Lock()
	if op.responded {
		c.mu.Unlock()
		c.log.WithField("id", op.id).Warn("response already sent, ignoring")
		return
	}
	op.responded = true

	if c.closing {
		c.mu.Unlock()
		return
	}
	if cur, ok := c.inOps[op.id]; !ok || cur != op {
		// evicted by the sweeper, the response has nowhere to go
		c.mu.Unlock()
		return
	}
	delete(c.inOps, op.id)
	c.mu.Unlock()

	res := AcquireFrame(FrameTypeCallResponse).(*CallResponse)
	res.ChecksumType = op.checksumType
	if appErr == nil {
		res.Code = CodeOK
		res.Arg1 = append(res.Arg1[:0], op.req.Arg1...)
	} else {
		res.Code = CodeAppException
		payload, merr := marshalAppError(appErr)
		if merr != nil {
			c.log.WithError(merr).Error("cannot serialize application error")
			payload = []byte(`{"$jsError":{"name":"Error","message":"unserializable error"}}`)
		}
		res.Arg1 = append(res.Arg1[:0], payload...)
	}
	res.Arg2 = append(res.Arg2[:0], res1...)
	res.Arg3 = append(res.Arg3[:0], res2...)

	_ = c.writeFrame(op.id, 0, res)
	ReleaseFrame(res)
}

// handleCallResponse runs with mu held and releases it.
func (c *Connection) handleCallResponse(frh *FrameHeader) {
	if !c.identified {
		c.mu.Unlock()
		c.resetAll(ErrCallResBeforeInit)
		return
	}

	op, ok := c.outOps[frh.ID()]
	if ok {
		delete(c.outOps, frh.ID())
	}
	c.mu.Unlock()

	if !ok {
		// late response for a timed out or unknown id
		c.log.WithField("id", frh.ID()).Debug("dropping response with no pending operation")
		return
	}

	body := frh.Body().(*CallResponse)

	var err error
	switch body.Code {
	case CodeOK:
	case CodeAppException:
		err = unmarshalAppError(body.Arg1)
	default:
		err = &RemoteError{Code: body.Code}
	}

	op.sink(err, body.Arg2, body.Arg3)
}

// handleErrorFrame runs with mu held and releases it.
func (c *Connection) handleErrorFrame(frh *FrameHeader) {
	op, ok := c.outOps[frh.ID()]
	if ok {
		delete(c.outOps, frh.ID())
	}
	c.mu.Unlock()

	if !ok {
		c.log.WithField("id", frh.ID()).Debug("dropping error frame with no pending operation")
		return
	}

	body := frh.Body().(*ErrorMessage)
	op.sink(body.Err(), nil, nil)
}

// send enrols an outbound operation and writes its CallRequest. Once
// enrolled, the sink fires exactly once: on response, error frame,
// timeout or reset. When the write itself fails the reset has already
// fired the sink; the returned error reports the same failure to the
// caller. On a connection that is already closing nothing is enrolled,
// ErrConnectionClosing is returned and the sink never fires.
func (c *Connection) send(req *CallRequest, sink ResponseSink) error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return ErrConnectionClosing
	}

	id := c.nextFrameIDLocked()
	op := &outOp{
		id:      id,
		start:   c.ch.now(),
		timeout: time.Duration(req.TTL) * time.Millisecond,
		sink:    sink,
	}
	c.outOps[id] = op
	c.mu.Unlock()

	if err := c.writeFrame(id, 0, req); err != nil {
		c.mu.Lock()
		delete(c.outOps, id)
		c.mu.Unlock()
		return err
	}

	return nil
}

// writeFrame encodes and writes one frame. The body stays owned by the
// caller. A failed write is fatal to the connection.
func (c *Connection) writeFrame(id uint32, flags FrameFlags, fr Frame) error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return ErrConnectionClosing
	}
	c.mu.Unlock()

	frh := AcquireFrameHeader()
	frh.SetID(id)
	frh.SetFlags(flags)
	frh.SetBody(fr)

	c.wmu.Lock()
	_, err := frh.WriteTo(c.rwc)
	c.wmu.Unlock()

	frh.DetachBody()
	ReleaseFrameHeader(frh)

	if err != nil {
		werr := errors.Wrap(err, "socket write")
		c.resetAll(werr)
		return werr
	}

	return nil
}

func (c *Connection) sweepInterval() time.Duration {
	base := c.ch.opts.TimeoutCheckInterval
	fuzz := c.ch.opts.TimeoutFuzz
	if fuzz <= 0 {
		return base
	}

	jitter := time.Duration(c.ch.opts.Rand(uint32(fuzz/time.Millisecond)+1)) * time.Millisecond
	return base - fuzz/2 + jitter
}

// armTimer runs with mu held.
func (c *Connection) armTimer() {
	c.timer = time.AfterFunc(c.sweepInterval(), c.sweep)
}

// sweep is the recurring timeout pass. A sweep that witnesses a timeout
// leaves a mark; if no frame arrives before the next sweep, the link is
// escalated to reset.
func (c *Connection) sweep() {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}

	if !c.lastTimeoutTime.IsZero() {
		c.mu.Unlock()
		c.resetAll(ErrStuckConnection)
		return
	}

	now := c.ch.now()

	var expired []*outOp
	for id, op := range c.outOps {
		if op.timedOut {
			delete(c.outOps, id)
			continue
		}
		if now.Sub(op.start) > op.timeout {
			op.timedOut = true
			delete(c.outOps, id)
			expired = append(expired, op)
			c.lastTimeoutTime = now
		}
	}

	// inbound ops are pruned without touching any sink; their handlers
	// finish on their own and the late response is discarded
	serverTimeout := c.ch.opts.ServerTimeout
	for id, op := range c.inOps {
		if now.Sub(op.start) > serverTimeout {
			delete(c.inOps, id)
		}
	}

	c.armTimer()
	c.mu.Unlock()

	for _, op := range expired {
		op.sink(fmt.Errorf("%w: no response within %v", ErrTimeout, op.timeout), nil, nil)
	}
}

// resetAll is the terminal cleanup: mark closing, cancel the sweeper,
// fail every pending outbound operation with err, drop inbound ops,
// close the socket and unregister from the channel. Safe to call more
// than once. Returns the socket close error, if any.
func (c *Connection) resetAll(err error) error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.closeErr = err

	if c.timer != nil {
		c.timer.Stop()
	}

	pending := make([]*outOp, 0, len(c.outOps))
	for _, op := range c.outOps {
		pending = append(pending, op)
	}
	c.outOps = make(map[uint32]*outOp)
	c.inOps = make(map[uint32]*inOp)
	c.mu.Unlock()

	c.log.WithError(err).Info("connection reset")
	c.ch.emitReset(c, err)

	for _, op := range pending {
		op.sink(err, nil, nil)
	}

	cerr := c.rwc.Close()

	c.ch.removeConnection(c)
	c.ch.emitSocketClose(c, err)
	c.ch.connEnded(c)

	return cerr
}
