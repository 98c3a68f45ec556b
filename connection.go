package udpconn

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pilotproto/udpconn/config"
	"github.com/pilotproto/udpconn/wire"
)

// DataHandler receives decrypted application payloads in order.
type DataHandler func(payload []byte)

// StateChangeHandler is notified whenever a Connection's state
// changes, mirroring spec §7's single state-change callback contract.
type StateChangeHandler func(c *Connection, oldState, newState ConnState, info *Error)

// Connection is one end of an established or in-progress direct-UDP
// connection (spec §4.4). All methods expect TransportLock to already
// be held by the caller except where noted — the same reentrancy
// convention the donor daemon uses for its single service goroutine.
type Connection struct {
	ctx *SocketsContext
	cfg config.Config

	mu sync.Mutex // guards fields below against calls from outside the service loop

	localID  ConnectionID
	remoteID ConnectionID
	identity Identity
	sock     BoundSocket

	state   ConnState
	crypt   AEAD
	stats   EndpointStats

	onData  DataHandler
	onState StateChangeHandler

	// retry bookkeeping: handshakeStart doubles as the closing-retry
	// window's start once the connection enters a Closing state.
	handshakeStart time.Time
	challenge      uint64
	handshake      Handshake
	pendingKeyID   uint64

	// sequence numbers
	nextOutSeq uint64
	highInSeq  uint64

	closeReason ReasonCode
	closeDebug  string

	// connectOKWire caches the exact ConnectOK datagram sent on accept,
	// so a duplicate ConnectRequest while Connected (the client never
	// saw our reply) can be answered by resending it verbatim instead
	// of reconstructing it (spec §4.4.1: "recv duplicate ConnectRequest
	// -> resend ConnectOK").
	connectOKWire []byte

	log *slog.Logger
}

// ReasonCode mirrors the wire reason_code values in wire.MsgConnectionClosed.
type ReasonCode uint32

const (
	ReasonMiscGeneric  = ReasonCode(wire.ReasonMiscGeneric)
	ReasonTimeout      = ReasonCode(wire.ReasonTimeout)
	ReasonLocalProblem = ReasonCode(wire.ReasonLocalProblem)
	ReasonAppClosed    = ReasonCode(wire.ReasonAppClosed)
	ReasonPeerClosed   = ReasonCode(wire.ReasonPeerClosed)
)

func newConnection(ctx *SocketsContext, cfg config.Config, localID ConnectionID) *Connection {
	return &Connection{
		ctx:        ctx,
		cfg:        cfg,
		localID:    localID,
		state:      StateConnecting,
		nextOutSeq: 1,
		log:        slog.Default().With("local_cid", uint32(localID)),
	}
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LocalID returns this endpoint's half of the connection id pair.
func (c *Connection) LocalID() ConnectionID {
	return c.localID
}

// RemoteIdentity returns the peer identity this connection is bound to.
func (c *Connection) RemoteIdentity() Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// SetDataHandler installs the callback for inbound application payloads.
func (c *Connection) SetDataHandler(h DataHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onData = h
}

// SetStats installs the endpoint-stats collaborator used for RTT
// tracking, counters, and keepalive pacing. Callers normally do this
// from an AcceptHandler/after Dial, before any data can flow.
func (c *Connection) SetStats(s EndpointStats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = s
}

// SetStateChangeHandler installs the callback for lifecycle transitions.
func (c *Connection) SetStateChangeHandler(h StateChangeHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = h
}

func (c *Connection) setState(newState ConnState, info *Error) {
	c.mu.Lock()
	old := c.state
	c.state = newState
	handler := c.onState
	c.mu.Unlock()

	if old == newState {
		return
	}
	c.log.Info("connection state change", "old", old.String(), "new", newState.String())
	if handler != nil {
		handler(c, old, newState, info)
	}
}

// SendData encrypts and transmits an application payload, piggybacking
// stats per spec §4.4.3 when the endpoint-stats collaborator says it's
// time to.
func (c *Connection) SendData(payload []byte) error {
	c.mu.Lock()
	// Linger still drains inbound data but takes no new outbound payload.
	if !c.state.AcceptsData() || c.state == StateLinger {
		c.mu.Unlock()
		return newError(ErrSocketClosed, "connection not accepting data in state "+c.state.String())
	}
	seq := c.nextOutSeq
	c.nextOutSeq++
	crypt := c.crypt
	sock := c.sock
	stats := c.stats
	c.mu.Unlock()

	now := time.Now()
	header := struct {
		seq16        uint16
		statsPresent bool
		statsBlock   wire.MsgStats
		ackFlags     uint32
	}{seq16: uint16(seq)}

	if stats != nil && stats.NeedToSendStats(now) && stats.ReadyToSendStats(now) {
		header.statsPresent = true
		header.statsBlock, header.ackFlags = stats.PopulateStats(now)
		header.statsBlock.WireSeq = header.seq16
		// ACK_REQUEST_E2E/ACK_REQUEST_IMMEDIATE (spec §4.4.3 rule 1) ride
		// inside the embedded MsgStats block's own Flags field rather
		// than the fixed data-packet header.
		header.statsBlock.Flags = header.ackFlags
	}

	hdr := encodeDataPacketHeader(c.remoteID, header.seq16, header.statsPresent)
	if header.statsPresent {
		hdr = appendStatsSegment(hdr, header.statsBlock.MarshalAppend(nil))
	}

	ciphertext := crypt.Seal(nil, seq, payload, hdr)

	if err := sock.SendRawGather([][]byte{hdr, ciphertext}); err != nil {
		return wrapError(ErrSocketClosed, "send data packet", err)
	}
	if stats != nil {
		stats.TrackSentPacket(seq, len(hdr)+len(ciphertext), now)
	}
	return nil
}

// onDataPacket handles an inbound packet already classified as a data
// packet and addressed to this connection.
func (c *Connection) onDataPacket(buf []byte, now time.Time) {
	c.mu.Lock()
	state := c.state
	if !state.AcceptsData() {
		c.mu.Unlock()
		// A data packet arriving while we're closing, closed, or dead
		// gets a NoConnection hint back (spec §4.4.4 step 3) instead of
		// being silently dropped. In the other non-accepting states
		// (None, Connecting, FindingRoute) the handshake hasn't finished,
		// no peer should be sending data packets, and it is dropped.
		if state.Closing() || state.Terminal() {
			c.sendNoConnectionHint()
		}
		return
	}
	crypt := c.crypt
	stats := c.stats
	high := c.highInSeq
	c.mu.Unlock()

	hdr, rest, err := decodeDataPacketHeader(buf)
	if err != nil {
		c.log.Debug("dropping unparseable data packet", "error", err)
		return
	}
	seq := reconstructSeq(high, hdr.WireSeq)

	// Duplicate or too-old sequence numbers are discarded before
	// decryption (spec §4.4.2/§4.4.4/§8): plaintext delivery is
	// exactly-once per distinct full sequence number, and AEAD opening
	// a replayed ciphertext would succeed and re-deliver it.
	c.mu.Lock()
	if seq <= c.highInSeq {
		c.mu.Unlock()
		c.log.Debug("dropping duplicate or out-of-order data packet", "seq", seq, "high", high)
		return
	}
	c.mu.Unlock()

	var statsBlock wire.MsgStats
	ciphertext := rest
	if hdr.StatsPresent {
		statsBody, remainder, err := consumeStatsSegment(rest)
		if err != nil {
			c.log.Debug("dropping data packet with unparseable stats framing", "error", err)
			return
		}
		if err := statsBlock.Unmarshal(statsBody); err != nil {
			c.log.Debug("dropping data packet with unparseable stats", "error", err)
			return
		}
		statsBlock.WireSeq = hdr.WireSeq
		ciphertext = remainder
	}

	plaintext, err := crypt.Open(nil, seq, ciphertext, buf[:len(buf)-len(ciphertext)])
	if err != nil {
		c.log.Debug("dropping data packet that failed to decrypt", "seq", seq)
		return
	}

	c.mu.Lock()
	if seq <= c.highInSeq {
		// Lost the race against another packet that advanced highInSeq
		// past seq while this one was decrypting; treat it the same as
		// any other duplicate.
		c.mu.Unlock()
		return
	}
	c.highInSeq = seq
	handler := c.onData
	c.mu.Unlock()

	if stats != nil {
		stats.TrackRecvPacket(seq, len(buf), now)
		if hdr.StatsPresent {
			stats.ApplyReceivedStats(statsBlock, now)
		}
	}
	if handler != nil && len(plaintext) > 0 {
		handler(plaintext)
	}
}

// sendNoConnectionHint tells the peer we have no live connection by
// this id, mirroring Listener.replyNoConnection for the case where the
// peer is still addressing an established connection handle directly
// rather than going through the Listener's unrouted path.
func (c *Connection) sendNoConnectionHint() {
	c.mu.Lock()
	sock := c.sock
	localID := c.localID
	remoteID := c.remoteID
	c.mu.Unlock()
	if sock == nil {
		return
	}
	msg := wire.MsgNoConnection{
		HasFromConnectionID: true,
		FromConnectionID:    uint32(localID),
		HasToConnectionID:   remoteID.Valid(),
		ToConnectionID:      uint32(remoteID),
	}
	body := msg.MarshalAppend(nil)
	if err := sock.SendRawGather([][]byte{encodeBare(msgNoConnection, body)}); err != nil {
		c.log.Debug("send NoConnection hint failed", "error", err)
	}
}

// onInboundPacket is the bound socket's steady-state callback, used by
// both the Listener (server side) and Dial (client side) once a
// connection is established: it classifies the packet and dispatches
// to the data path or to peer-initiated teardown, instead of assuming
// every packet a connection's registered remote handle sees is data.
func (c *Connection) onInboundPacket(buf []byte, now time.Time) {
	isData, ok := classifyInbound(buf)
	if !ok {
		return
	}
	if isData {
		c.onDataPacket(buf, now)
		return
	}

	switch buf[0] {
	case msgConnectionClosed:
		var msg wire.MsgConnectionClosed
		if err := msg.Unmarshal(buf[1:]); err != nil {
			c.log.Debug("dropping unparseable ConnectionClosed", "error", err)
			return
		}
		c.onPeerClosed(msg.Reason, msg.Debug)
	case msgNoConnection:
		// The peer no longer recognizes this connection id (it was
		// ours, and is answering a data packet or closing notice we
		// sent it after it had already moved on): spec §8 scenario 5.
		c.onPeerClosed(uint32(ReasonPeerClosed), "peer reported no connection")
	case msgConnectRequest:
		// A retransmitted ConnectRequest while Connected means our
		// ConnectOK never reached the peer (spec §4.4.1): resend it
		// rather than leaving the peer stuck retrying forever.
		c.handleDuplicateConnectRequest(buf[1:])
	}
}

// handleDuplicateConnectRequest resends the cached ConnectOK datagram
// if req (already stripped of its lead byte) names this connection's
// remote id and the connection is still Connected.
func (c *Connection) handleDuplicateConnectRequest(body []byte) {
	var req wire.MsgConnectRequest
	if err := req.Unmarshal(body); err != nil {
		return
	}

	c.mu.Lock()
	state := c.state
	remoteID := c.remoteID
	sock := c.sock
	connectOK := c.connectOKWire
	c.mu.Unlock()

	if state != StateConnected || req.ClientConnectionID != uint32(remoteID) || sock == nil || connectOK == nil {
		return
	}
	if err := sock.SendRawGather([][]byte{connectOK}); err != nil {
		c.log.Debug("resend ConnectOK failed", "error", err)
	}
}

// Close begins an application-initiated graceful shutdown: the
// connection enters StateFinWait and retransmits ConnectionClosed
// until the peer acknowledges (via NoConnection) or the handshake
// timeout elapses, at which point it becomes StateDead.
func (c *Connection) Close(debug string) {
	c.mu.Lock()
	if c.state.Terminal() || c.state.Closing() {
		c.mu.Unlock()
		return
	}
	c.closeReason = ReasonAppClosed
	c.closeDebug = debug
	c.handshakeStart = time.Now()
	c.mu.Unlock()

	c.setState(StateFinWait, nil)
	c.sendClosingNotice()
	c.ctx.ScheduleThink(c, time.Now().Add(c.cfg.ConnectRetryInterval))
}

// failLocally ends the connection due to a local protocol or crypto
// error, entering StateProblemDetectedLocally.
func (c *Connection) failLocally(code ErrorCode, debug string) {
	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		return
	}
	c.closeReason = ReasonLocalProblem
	c.closeDebug = debug
	c.handshakeStart = time.Now()
	c.mu.Unlock()

	c.setState(StateProblemDetectedLocally, newError(code, debug))
	c.sendClosingNotice()
	c.ctx.ScheduleThink(c, time.Now().Add(c.cfg.ConnectRetryInterval))
}

// onPeerClosed handles an inbound ConnectionClosed from the peer.
func (c *Connection) onPeerClosed(reason uint32, debug string) {
	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		return
	}
	c.closeReason = ReasonCode(reason)
	c.closeDebug = debug
	c.mu.Unlock()

	c.setState(StateClosedByPeer, newError(ErrNone, debug))
	if sock := c.boundSocket(); sock != nil {
		_ = sock.Close()
	}
	c.setState(StateDead, nil)
}

func (c *Connection) boundSocket() BoundSocket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sock
}

func (c *Connection) sendClosingNotice() {
	c.mu.Lock()
	sock := c.sock
	reason := uint32(c.closeReason)
	debug := c.closeDebug
	remoteID := c.remoteID
	localID := c.localID
	c.mu.Unlock()

	if sock == nil {
		return
	}
	msg := wire.MsgConnectionClosed{
		HasFromConnectionID: true,
		FromConnectionID:    uint32(localID),
		HasToConnectionID:   remoteID.Valid(),
		ToConnectionID:      uint32(remoteID),
		Reason:              reason,
		Debug:               debug,
	}
	body := msg.MarshalAppend(nil)
	if err := sock.SendRawGather([][]byte{encodePadded(msgConnectionClosed, body)}); err != nil {
		c.log.Debug("send ConnectionClosed failed", "error", err)
	}
}

// think is the periodic upkeep step driven by SocketsContext's
// think-deadline scheduler: closing-notice retransmission and
// keepalive pacing (capped at IdleTimeout between thinks) live here
// rather than on separate timers, matching the donor daemon's
// single-goroutine upkeep loop. It does not end an idle connection.
func (c *Connection) think(now time.Time) time.Time {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	// Handshake retransmission for the client side lives entirely in
	// Dial's own tickers (dialChallenge/dialConnect): a Connection
	// object is only ever registered with ScheduleThink once it reaches
	// StateConnected or a Closing state, so StateConnecting never
	// reaches this switch.
	switch {
	case state.Closing():
		return c.thinkClosingRetry(now)
	case state.AcceptsData():
		return c.thinkKeepalive(now)
	default:
		return now.Add(time.Second)
	}
}

func (c *Connection) thinkClosingRetry(now time.Time) time.Time {
	c.mu.Lock()
	start := c.handshakeStart
	c.mu.Unlock()

	if now.Sub(start) > c.cfg.HandshakeTimeout {
		c.setState(StateDead, nil)
		if sock := c.boundSocket(); sock != nil {
			_ = sock.Close()
		}
		return now.Add(time.Hour)
	}
	c.sendClosingNotice()
	return now.Add(c.cfg.ConnectRetryInterval)
}

func (c *Connection) thinkKeepalive(now time.Time) time.Time {
	c.mu.Lock()
	stats := c.stats
	idleTimeout := c.cfg.IdleTimeout
	c.mu.Unlock()

	if stats == nil {
		return now.Add(c.cfg.KeepaliveInterval)
	}
	next := stats.NextThink(now)
	if next.After(now.Add(idleTimeout)) {
		next = now.Add(idleTimeout)
	}
	return next
}

// String renders the connection for logs.
func (c *Connection) String() string {
	return fmt.Sprintf("Connection{local=%d remote=%d state=%s}", c.localID, c.remoteID, c.State())
}
