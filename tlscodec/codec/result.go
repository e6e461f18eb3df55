package codec

// Status is the outcome of a single codec call.
//
// Handshake returns NeedsMorePeerData, Done or Failed. Encode returns OK or
// Failed. Decode returns OK, NeedsMorePeerData or Failed.
type Status uint8

const (
	OK Status = iota
	NeedsMorePeerData
	Done
	Failed
)

func (s Status) String() string {
	switch s {
	case OK:
		return "ok"
	case NeedsMorePeerData:
		return "needs_more_peer_data"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// HandshakeResult reports one handshake step. Consumed counts bytes taken
// from the peer buffer, Produced counts bytes written to the peer-bound buffer.
type HandshakeResult struct {
	Consumed int
	Produced int
	Status   Status
}

func (r HandshakeResult) Failed() bool            { return r.Status == Failed }
func (r HandshakeResult) Done() bool              { return r.Status == Done }
func (r HandshakeResult) NeedsMorePeerData() bool { return r.Status == NeedsMorePeerData }

// EncodeResult reports one encode call. Consumed counts plaintext bytes
// submitted to the engine, Produced counts ciphertext bytes written.
type EncodeResult struct {
	Consumed int
	Produced int
	Status   Status
}

func (r EncodeResult) Failed() bool { return r.Status == Failed }

// DecodeResult reports one decode call. Consumed counts ciphertext bytes taken
// by the engine, Produced counts plaintext bytes written.
type DecodeResult struct {
	Consumed int
	Produced int
	Status   Status
}

func (r DecodeResult) Failed() bool            { return r.Status == Failed }
func (r DecodeResult) NeedsMorePeerData() bool { return r.Status == NeedsMorePeerData }

func handshakeFailed() HandshakeResult { return HandshakeResult{Status: Failed} }

func handshakeCompleted() HandshakeResult { return HandshakeResult{Status: Done} }

func encodeFailed() EncodeResult { return EncodeResult{Status: Failed} }

func decodeFailed() DecodeResult { return DecodeResult{Status: Failed} }

// FailureKind separates the reasons a call can end in Failed. It never
// reaches the caller through a result; it labels logs and metrics.
type FailureKind uint8

const (
	// FailureProtocol: the engine rejected the exchange (bad record, failed
	// verification, aborted handshake, peer closure).
	FailureProtocol FailureKind = iota + 1
	// FailureContractViolation: the engine reported an outcome inconsistent
	// with its own contract.
	FailureContractViolation
	// FailurePrecondition: the call was rejected before the engine was involved.
	FailurePrecondition
)

func (k FailureKind) String() string {
	switch k {
	case FailureProtocol:
		return "protocol"
	case FailureContractViolation:
		return "contract_violation"
	case FailurePrecondition:
		return "precondition"
	default:
		return "unknown"
	}
}
