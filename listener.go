package udpconn

import (
	"crypto/rand"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/pilotproto/udpconn/config"
	"github.com/pilotproto/udpconn/ratelimit"
	"github.com/pilotproto/udpconn/wire"
)

// AcceptHandler is invoked for each ConnectRequest the application
// chooses to accept or reject (spec §4.3). Returning a nil error
// accepts; a non-nil error's Debug text (via *Error, or Error()
// otherwise) is sent back to the peer as the rejection reason.
type AcceptHandler func(remote Identity, cert []byte) error

// Listener accepts inbound connections on one bound socket (spec
// §4.2/§4.3). It owns the anti-spoofing challenge/cookie exchange and
// the duplicate-connection policy; established connections are handed
// off to Connection objects, which receive their packets through their
// own per-remote socket handle. The Listener's local-id table is used
// to find the connection a ConnectionClosed names.
type Listener struct {
	ctx  *SocketsContext
	cfg  config.Config
	sock SharedSocket
	hs   Handshake

	challenges *ChallengeIssuer
	synLimit   *ratelimit.SYNLimiter

	mu        sync.Mutex
	synBucket map[netip.Addr]*rateLimiterHandle
	byRemote  map[RemoteKey]*Connection
	byAddr    map[remoteAddrKey]*Connection
	byLocal   map[ConnectionID]*Connection

	onAccept AcceptHandler
	onNew    func(*Connection)

	log *slog.Logger
}

type rateLimiterHandle struct {
	limiter rateLimiterAllower
	lastUse time.Time
}

// rateLimiterAllower is the minimal surface Listener needs from a
// golang.org/x/time/rate.Limiter (which already implements it), kept
// as an interface so tests can substitute a fake clock-driven limiter.
type rateLimiterAllower interface {
	Allow() bool
}

// NewListener builds a Listener bound to sock, authenticating peers
// via hs, under ctx/cfg.
func NewListener(ctx *SocketsContext, cfg config.Config, sock SharedSocket, hs Handshake) *Listener {
	var secret [16]byte
	_, _ = rand.Read(secret[:])

	l := &Listener{
		ctx:        ctx,
		cfg:        cfg,
		sock:       sock,
		hs:         hs,
		challenges: NewChallengeIssuer(secret),
		synLimit:   ratelimit.NewSYNLimiter(5, 10),
		synBucket:  make(map[netip.Addr]*rateLimiterHandle),
		byRemote:   make(map[RemoteKey]*Connection),
		byAddr:     make(map[remoteAddrKey]*Connection),
		byLocal:    make(map[ConnectionID]*Connection),
		log:        slog.Default().With("component", "listener"),
	}
	ctx.ScheduleThink(l, time.Now().Add(time.Second))
	return l
}

// SetAcceptHandler installs the callback consulted for every inbound
// ConnectRequest.
func (l *Listener) SetAcceptHandler(h AcceptHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onAccept = h
}

// SetNewConnectionHandler installs the callback invoked once a
// Connection object exists and has been accepted, before ConnectOK is
// sent, so the application can attach data/state handlers before any
// data can arrive.
func (l *Listener) SetNewConnectionHandler(h func(*Connection)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onNew = h
}

// OnPacket is the SharedSocket's default (unrouted) packet callback:
// every inbound datagram that isn't already claimed by a Connection's
// own registered remote handle lands here.
func (l *Listener) OnPacket(buf []byte, from netip.AddrPort) {
	now := time.Now()
	l.ctx.TransportLock.Lock()
	defer l.ctx.TransportLock.Unlock()

	isData, ok := classifyInbound(buf)
	if !ok {
		return // too short, or all-0xFF filler; no log, no reply
	}
	if isData {
		// A data packet with no registered remote handle means the
		// connection it names doesn't exist here (anymore); spec §4.3
		// says to reply NoConnection only for control messages, so this
		// is silently dropped to avoid being an amplification vector.
		return
	}

	needsPadding := isPaddedMessageID(buf[0])
	id, body, err := decodeControlID(buf, needsPadding)
	if err != nil {
		l.logBadPacket("bad control framing", from, err)
		return
	}

	switch id {
	case msgChallengeRequest:
		l.handleChallengeRequest(body, from)
	case msgConnectRequest:
		l.handleConnectRequest(body, from, now)
	case msgConnectionClosed:
		l.handleConnectionClosed(body, from)
	case msgNoConnection:
		// A reply to our own NoConnection/ConnectionClosed; nothing to do.
	default:
		l.logBadPacket("unknown message id", from, nil)
	}
}

func (l *Listener) logBadPacket(reason string, from netip.AddrPort, err error) {
	if !l.ctx.AllowBadPacketLog() {
		return
	}
	l.log.Warn("dropping bad packet", "reason", reason, "from", from, "error", err)
}

func (l *Listener) allowSYN(addr netip.Addr) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	h, ok := l.synBucket[addr]
	if !ok {
		h = &rateLimiterHandle{limiter: l.synLimit.NewBucket()}
		l.synBucket[addr] = h
	}
	h.lastUse = time.Now()
	return h.limiter.Allow()
}

func (l *Listener) handleChallengeRequest(body []byte, from netip.AddrPort) {
	if !l.allowSYN(from.Addr()) {
		return
	}
	var req wire.MsgChallengeRequest
	if err := req.Unmarshal(body); err != nil {
		l.logBadPacket("bad ChallengeRequest", from, err)
		return
	}

	challenge := l.challenges.Generate(from)
	reply := wire.MsgChallengeReply{
		ConnectionID:    req.ConnectionID,
		Challenge:       challenge,
		YourTimestamp:   req.MyTimestamp,
		ProtocolVersion: req.ProtocolVersion,
	}
	body2 := reply.MarshalAppend(nil)
	if err := l.sock.SendRaw(encodeBare(msgChallengeReply, body2), from); err != nil {
		l.log.Debug("send ChallengeReply failed", "error", err)
	}
}

func (l *Listener) handleConnectRequest(body []byte, from netip.AddrPort, now time.Time) {
	if !l.allowSYN(from.Addr()) {
		return
	}
	var req wire.MsgConnectRequest
	if err := req.Unmarshal(body); err != nil {
		l.logBadPacket("bad ConnectRequest", from, err)
		return
	}
	if !l.challenges.Verify(req.Challenge, from) {
		l.logBadPacket("stale or wrong challenge", from, nil)
		return
	}

	remoteID := ConnectionID(req.ClientConnectionID)
	if !remoteID.Valid() {
		return
	}

	var identity Identity
	var err error
	if len(req.Cert) == 0 && l.cfg.IPAllowWithoutAuth != config.AuthRefuse {
		// No cert: accepted as the anonymous identity, which the rewrite
		// below turns into the packet's source address.
		identity = LocalHostIdentity()
		if l.cfg.IPAllowWithoutAuth == config.AuthAllowWarn {
			l.log.Warn("accepting unauthenticated connection", "from", from)
		}
	} else {
		identity, err = l.hs.VerifyCert(req.Cert)
		if err != nil {
			l.sendConnectReject(remoteID, from, "certificate rejected")
			return
		}
	}
	identity = identity.RewriteLocalHost(from)
	if req.HasIdentity {
		explicit := identityFromProto(req.Identity)
		if l.cfg.StrictIdentityMatch && !explicit.Equal(identity) {
			l.sendConnectReject(remoteID, from, "identity mismatch")
			return
		}
		identity = explicit.RewriteLocalHost(from)
	}

	key := RemoteKey{Identity: identity, RemoteID: remoteID}

	l.mu.Lock()
	existing, dup := l.byRemote[key]
	l.mu.Unlock()
	if dup {
		sock := existing.boundSocket()
		if sock == nil || sock.RemoteAddr() != from {
			// Same logical peer id reappearing from a different address:
			// spec §4.3 treats this as a collision, not a retransmit.
			l.sendConnectReject(remoteID, from, "A connection with that ID already exists.")
		}
		// Same address retransmitting its ConnectRequest before seeing
		// our ConnectOK: nothing to do, the original send already covers it.
		return
	}

	if l.onAccept != nil {
		if err := l.onAccept(identity, req.Cert); err != nil {
			reason := err.Error()
			if e, ok := err.(*Error); ok {
				reason = e.Debug
			}
			l.sendConnectReject(remoteID, from, reason)
			return
		}
	}

	localID := l.ctx.newLocalConnectionIDLocked()
	conn := newConnection(l.ctx, l.cfg, localID)
	conn.remoteID = remoteID
	conn.identity = identity
	conn.handshake = l.hs

	bound, err := l.sock.AddRemote(from, func(data []byte, _ netip.AddrPort) {
		conn.onInboundPacket(data, time.Now())
	})
	if err != nil {
		l.log.Error("bind remote socket failed", "error", err)
		return
	}
	conn.sock = bound

	keyID, localCrypt := l.localCryptFor(conn)
	aead, err := l.hs.CompleteCrypt(keyID, req.Crypt)
	if err != nil {
		l.sendConnectReject(remoteID, from, "key agreement failed")
		_ = bound.Close()
		return
	}
	conn.crypt = aead

	l.mu.Lock()
	l.byRemote[key] = conn
	l.byAddr[from] = conn
	l.byLocal[localID] = conn
	l.mu.Unlock()

	if l.onNew != nil {
		l.onNew(conn)
	}
	conn.setState(StateConnected, nil)

	ok := wire.MsgConnectOK{
		ClientConnectionID: req.ClientConnectionID,
		ServerConnectionID: uint32(localID),
		Cert:               l.hs.LocalCert(),
		Crypt:              localCrypt,
		YourTimestamp:      req.MyTimestamp,
		ServerDelayUsec:    uint64(time.Since(now).Microseconds()),
	}
	okBody := ok.MarshalAppend(nil)
	okWire := encodeBare(msgConnectOK, okBody)
	conn.connectOKWire = okWire
	if err := bound.SendRawGather([][]byte{okWire}); err != nil {
		l.log.Debug("send ConnectOK failed", "error", err)
	}

	l.ctx.ScheduleThink(conn, time.Now().Add(l.cfg.KeepaliveInterval))
}

func (l *Listener) localCryptFor(conn *Connection) (keyID uint64, blob []byte) {
	blob, keyID = l.hs.LocalCrypt()
	conn.pendingKeyID = keyID
	return keyID, blob
}

func (l *Listener) sendConnectReject(remoteID ConnectionID, from netip.AddrPort, debug string) {
	msg := wire.MsgConnectionClosed{
		HasToConnectionID: true,
		ToConnectionID:    uint32(remoteID),
		Reason:            wire.ReasonMiscGeneric,
		Debug:             debug,
	}
	body := msg.MarshalAppend(nil)
	if err := l.sock.SendRaw(encodePadded(msgConnectionClosed, body), from); err != nil {
		l.log.Debug("send reject ConnectionClosed failed", "error", err)
	}
}

func (l *Listener) handleConnectionClosed(body []byte, from netip.AddrPort) {
	var msg wire.MsgConnectionClosed
	if err := msg.Unmarshal(body); err != nil {
		l.logBadPacket("bad ConnectionClosed", from, err)
		return
	}
	if !msg.HasToConnectionID {
		return
	}
	l.mu.Lock()
	conn, ok := l.byLocal[ConnectionID(msg.ToConnectionID)]
	l.mu.Unlock()
	if !ok {
		l.replyNoConnection(msg, from)
		return
	}
	conn.onPeerClosed(msg.Reason, msg.Debug)
	l.forget(conn)
}

func (l *Listener) replyNoConnection(closed wire.MsgConnectionClosed, from netip.AddrPort) {
	reply := wire.MsgNoConnection{
		HasFromConnectionID: closed.HasToConnectionID,
		FromConnectionID:    closed.ToConnectionID,
		HasToConnectionID:   closed.HasFromConnectionID,
		ToConnectionID:      closed.FromConnectionID,
	}
	body := reply.MarshalAppend(nil)
	if err := l.sock.SendRaw(encodeBare(msgNoConnection, body), from); err != nil {
		l.log.Debug("send NoConnection failed", "error", err)
	}
}

// ConnectionByAddr looks up an established connection by its peer's
// current socket address, for diagnostics and tests.
func (l *Listener) ConnectionByAddr(addr netip.AddrPort) (*Connection, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.byAddr[addr]
	return c, ok
}

func (l *Listener) forget(conn *Connection) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.byLocal, conn.LocalID())
	for k, v := range l.byRemote {
		if v == conn {
			delete(l.byRemote, k)
		}
	}
	for k, v := range l.byAddr {
		if v == conn {
			delete(l.byAddr, k)
		}
	}
}

// think runs the Listener's own periodic upkeep: reaping idle
// per-source SYN buckets so the map doesn't grow unbounded under a
// long-lived listener.
func (l *Listener) think(now time.Time) time.Time {
	l.mu.Lock()
	for addr, h := range l.synBucket {
		if now.Sub(h.lastUse) > 5*time.Minute {
			delete(l.synBucket, addr)
		}
	}
	l.mu.Unlock()
	return now.Add(time.Minute)
}

func identityFromProto(p wire.IdentityProto) Identity {
	switch IdentityKind(p.Kind) {
	case IdentityUser:
		return UserIdentity(p.UserID)
	case IdentityGeneric:
		return GenericIdentity(p.Generic)
	case IdentityLocalHost:
		return LocalHostIdentity()
	default:
		return LocalHostIdentity()
	}
}
