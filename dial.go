package udpconn

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/pilotproto/udpconn/config"
	"github.com/pilotproto/udpconn/wire"
)

// Dial performs the active side of the connection handshake (spec
// §4.2): ChallengeRequest/ChallengeReply to obtain an anti-spoofing
// cookie, then ConnectRequest/ConnectOK to establish the connection.
// It blocks until the connection is StateConnected or ctx is done.
func Dial(ctx context.Context, sc *SocketsContext, cfg config.Config, sock SharedSocket, remote netip.AddrPort, hs Handshake) (*Connection, error) {
	localID := sc.newLocalConnectionID()
	conn := newConnection(sc, cfg, localID)
	conn.handshake = hs
	conn.handshakeStart = time.Now()

	replies := make(chan []byte, 4)
	bound, err := sock.AddRemote(remote, func(data []byte, _ netip.AddrPort) {
		select {
		case replies <- append([]byte(nil), data...):
		default:
		}
	})
	if err != nil {
		return nil, wrapError(ErrSocketClosed, "bind remote", err)
	}
	conn.sock = bound

	challenge, err := dialChallenge(ctx, cfg, bound, localID, replies)
	if err != nil {
		_ = bound.Close()
		return nil, err
	}

	localCrypt, keyID := hs.LocalCrypt()
	conn.pendingKeyID = keyID

	okMsg, err := dialConnect(ctx, cfg, bound, localID, challenge, hs.LocalCert(), localCrypt, replies)
	if err != nil {
		_ = bound.Close()
		return nil, err
	}

	remoteID := ConnectionID(okMsg.ServerConnectionID)
	if !remoteID.Low16NonZero() {
		_ = bound.Close()
		return nil, newError(ErrParseFailed, "ConnectOK carried a server connection id with zero low 16 bits")
	}
	identity, err := hs.VerifyCert(okMsg.Cert)
	if err != nil {
		_ = bound.Close()
		return nil, wrapError(ErrCryptoFailed, "peer certificate rejected", err)
	}
	aead, err := hs.CompleteCrypt(keyID, okMsg.Crypt)
	if err != nil {
		_ = bound.Close()
		return nil, wrapError(ErrCryptoFailed, "key agreement failed", err)
	}

	conn.remoteID = remoteID
	conn.identity = identity.RewriteLocalHost(remote)
	conn.crypt = aead

	// Re-register the remote handle: during the handshake, inbound
	// packets were routed to the replies channel so dialChallenge/
	// dialConnect could wait on them; from here on they go straight to
	// the connection's steady-state dispatch like the server side's
	// handle already does from the moment it accepts.
	steadyBound, err := sock.AddRemote(remote, func(data []byte, _ netip.AddrPort) {
		conn.onInboundPacket(data, time.Now())
	})
	if err != nil {
		_ = bound.Close()
		return nil, wrapError(ErrSocketClosed, "bind steady-state remote", err)
	}
	conn.sock = steadyBound

	conn.setState(StateConnected, nil)
	sc.ScheduleThink(conn, time.Now().Add(cfg.KeepaliveInterval))

	return conn, nil
}

func dialChallenge(ctx context.Context, cfg config.Config, bound BoundSocket, localID ConnectionID, replies chan []byte) (uint64, error) {
	req := wire.MsgChallengeRequest{
		ConnectionID:    uint32(localID),
		MyTimestamp:     uint64(time.Now().UnixMicro()),
		ProtocolVersion: ProtocolVersion,
	}
	body := encodePadded(msgChallengeRequest, req.MarshalAppend(nil))

	ticker := time.NewTicker(cfg.ConnectRetryInterval)
	defer ticker.Stop()
	deadline := time.Now().Add(cfg.HandshakeTimeout)

	if err := bound.SendRawGather([][]byte{body}); err != nil {
		return 0, wrapError(ErrSocketClosed, "send ChallengeRequest", err)
	}
	for {
		select {
		case <-ctx.Done():
			return 0, wrapError(ErrTimeout, "dial canceled", ctx.Err())
		case <-ticker.C:
			if time.Now().After(deadline) {
				return 0, newError(ErrTimeout, "challenge handshake timed out")
			}
			if err := bound.SendRawGather([][]byte{body}); err != nil {
				return 0, wrapError(ErrSocketClosed, "resend ChallengeRequest", err)
			}
		case data := <-replies:
			isData, ok := classifyInbound(data)
			if !ok || isData || data[0] != msgChallengeReply {
				continue
			}
			var reply wire.MsgChallengeReply
			if err := reply.Unmarshal(data[1:]); err != nil {
				continue
			}
			if reply.ConnectionID != uint32(localID) {
				continue
			}
			return reply.Challenge, nil
		}
	}
}

func dialConnect(ctx context.Context, cfg config.Config, bound BoundSocket, localID ConnectionID, challenge uint64, cert, crypt []byte, replies chan []byte) (*wire.MsgConnectOK, error) {
	req := wire.MsgConnectRequest{
		ClientConnectionID: uint32(localID),
		Challenge:          challenge,
		MyTimestamp:        uint64(time.Now().UnixMicro()),
		Cert:               cert,
		Crypt:              crypt,
	}
	body := encodeBare(msgConnectRequest, req.MarshalAppend(nil))

	ticker := time.NewTicker(cfg.ConnectRetryInterval)
	defer ticker.Stop()
	deadline := time.Now().Add(cfg.HandshakeTimeout)

	if err := bound.SendRawGather([][]byte{body}); err != nil {
		return nil, wrapError(ErrSocketClosed, "send ConnectRequest", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil, wrapError(ErrTimeout, "dial canceled", ctx.Err())
		case <-ticker.C:
			if time.Now().After(deadline) {
				return nil, newError(ErrTimeout, "connect handshake timed out")
			}
			if err := bound.SendRawGather([][]byte{body}); err != nil {
				return nil, wrapError(ErrSocketClosed, "resend ConnectRequest", err)
			}
		case data := <-replies:
			isData, ok := classifyInbound(data)
			if !ok || isData {
				continue
			}
			switch data[0] {
			case msgConnectOK:
				var okMsg wire.MsgConnectOK
				if err := okMsg.Unmarshal(data[1:]); err != nil {
					continue
				}
				if okMsg.ClientConnectionID != uint32(localID) {
					continue
				}
				return &okMsg, nil
			case msgConnectionClosed:
				var closed wire.MsgConnectionClosed
				if err := closed.Unmarshal(data[1:]); err != nil {
					continue
				}
				return nil, newError(ErrPolicyReject, fmt.Sprintf("rejected by peer: %s", closed.Debug))
			}
		}
	}
}
