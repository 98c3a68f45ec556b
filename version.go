package udpconn

// ProtocolVersion is advertised in ChallengeRequest/ChallengeReply so
// either side can refuse a peer running an incompatible handshake
// revision before spending any crypto work on it.
const ProtocolVersion = 1
