package udpconn

// ConnState is the connection lifecycle state machine from spec §3/§4.4.1.
type ConnState int

const (
	// StateNone is the zero value: no connection object exists yet.
	StateNone ConnState = iota
	// StateConnecting covers both the active client awaiting
	// ChallengeReply/ConnectOK and the passive side awaiting the
	// application's Accept call.
	StateConnecting
	// StateFindingRoute exists only for wire/API compatibility with
	// the broader transport this layer sits under; this layer never
	// enters it.
	StateFindingRoute
	// StateConnected is the steady state.
	StateConnected
	// StateLinger is half-closed: no new payload accepted, outstanding
	// data still draining.
	StateLinger
	// StateClosedByPeer means the peer told us (or implied via
	// NoConnection) that the connection is over.
	StateClosedByPeer
	// StateProblemDetectedLocally means a local protocol or crypto
	// failure ended the connection.
	StateProblemDetectedLocally
	// StateFinWait means we closed and are retransmitting our closing
	// notice until the peer acks or we time out.
	StateFinWait
	// StateDead is terminal; the connection object may be discarded.
	StateDead
)

func (s ConnState) String() string {
	switch s {
	case StateNone:
		return "None"
	case StateConnecting:
		return "Connecting"
	case StateFindingRoute:
		return "FindingRoute"
	case StateConnected:
		return "Connected"
	case StateLinger:
		return "Linger"
	case StateClosedByPeer:
		return "ClosedByPeer"
	case StateProblemDetectedLocally:
		return "ProblemDetectedLocally"
	case StateFinWait:
		return "FinWait"
	case StateDead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// Terminal reports whether s is the final resting state.
func (s ConnState) Terminal() bool {
	return s == StateDead
}

// Closing reports whether s is one of the states that retransmits a
// closing notice on every think until acked or timed out.
func (s ConnState) Closing() bool {
	return s == StateFinWait || s == StateProblemDetectedLocally || s == StateClosedByPeer
}

// AcceptsData reports whether a data packet should be handed to the
// reliable-segment layer while in state s.
func (s ConnState) AcceptsData() bool {
	return s == StateConnected || s == StateLinger
}
