// Package acse implements the server side of the DLMS/COSEM Association
// Control Service Element: it decodes an inbound AARQ, decides whether the
// association is granted, encodes the matching AARE, and answers RLRQ with
// RLRE once associated.
//
// Both APDU codecs are driven by fixed codec chains mirroring the ASN.1
// SEQUENCE of the AARQ/AARE grammars. The decode engine compares the tag of
// the buffered header against the chain entries in order; an entry whose tag
// never appears is treated as an absent field, which is how the SEQUENCE
// optionality works without backtracking. The encode engine walks its own
// chain and backpatches the single byte outer length afterwards.
//
// Basic usage:
//
//	assoc := acse.New(&acse.Config{
//		Conformance: base.ConformanceBlockGet | base.ConformanceBlockSet,
//		MaxPduSize:  1024,
//		SAP:         1,
//	}, system)
//
//	buf := ber.New(scratch, packetLen)
//	if n := assoc.Execute(buf); n > 0 {
//		// scratch[:n] holds the reply
//	}
//
// One Association belongs to exactly one logical connection and must not be
// driven concurrently; the methods perform no locking.
package acse

import (
	"go.uber.org/zap"

	"github.com/cosemlabs/libcosem-go/base"
	"github.com/cosemlabs/libcosem-go/ber"
)

// ConnectionState tracks the association lifecycle of one logical connection.
type ConnectionState byte

const (
	StateIdle ConnectionState = iota
	StateAssociationPending
	StateAssociated
)

type requirement byte

const (
	reqNever    requirement = iota // decoded for chain progress only, never encoded
	reqAlways                      // decode failure is fatal, always encoded
	reqOptional                    // decode failure is forgiven, field treated as absent
	reqSecurity                    // encoded only under high level authentication
)

type decodeFn func(a *Association, hdr *ber.Header, buf *ber.Buffer) error
type encodeFn func(a *Association, buf *ber.Buffer) error

type codecEntry struct {
	tag    byte
	req    requirement
	decode decodeFn
	encode encodeFn
}

type challenge struct {
	value [base.MaxChallengeSize]byte
	size  int
}

func (c *challenge) bytes() []byte { return c.value[:c.size] }

// handshake is the per AARQ/AARE cycle scratch state.
type handshake struct {
	ctos                challenge // client to server challenge
	stoc                challenge // server to client challenge
	proposedConformance uint32
	clientMaxPduSize    uint16
	result              base.SourceDiagnostic
}

// Config carries the read-only local parameters shared by the associations of
// one logical device.
type Config struct {
	Conformance uint32 // conformance block offered in the InitiateResponse
	MaxPduSize  uint16 // local maximum receive PDU size
	SAP         byte   // destination service access point, selects the LLS password
}

// Association holds the state of one logical connection.
type Association struct {
	state          ConnectionState
	ref            base.ApplicationContext
	authLevel      base.Authentication
	clientTitle    [base.SystemTitleSize]byte
	hasClientTitle bool
	handshake      handshake
	cfg            *Config
	sys            base.System
	logger         *zap.SugaredLogger
}

// New creates an association in the idle state.
func New(cfg *Config, sys base.System) *Association {
	a := &Association{cfg: cfg, sys: sys}
	a.Reset()
	return a
}

func (a *Association) SetLogger(logger *zap.SugaredLogger) {
	a.logger = logger
}

func (a *Association) logf(format string, v ...any) {
	if a.logger != nil {
		a.logger.Infof(format, v...)
	}
}

func (a *Association) dlogf(format string, v ...any) {
	if a.logger != nil {
		a.logger.Debugf(format, v...)
	}
}

// Reset returns the association to the idle state, ready for a new AARQ.
func (a *Association) Reset() {
	a.state = StateIdle
	a.ref = base.ApplicationContextNone
	a.authLevel = base.AuthenticationNone
	a.hasClientTitle = false
	a.handshake = handshake{}
}

func (a *Association) State() ConnectionState { return a.state }

// Referencing returns the application context negotiated by the last AARQ.
func (a *Association) Referencing() base.ApplicationContext { return a.ref }

// AuthLevel returns the security mechanism negotiated by the last AARQ.
func (a *Association) AuthLevel() base.Authentication { return a.authLevel }

// Result returns the source diagnostic of the last authorization decision.
func (a *Association) Result() base.SourceDiagnostic { return a.handshake.result }

// ClientTitle returns the calling application title when the client sent one.
func (a *Association) ClientTitle() ([]byte, bool) {
	if !a.hasClientTitle {
		return nil, false
	}
	return a.clientTitle[:], true
}

// ProposedConformance returns the conformance block proposed by the client.
func (a *Association) ProposedConformance() uint32 { return a.handshake.proposedConformance }

// ClientMaxPduSize returns the maximum receive PDU size of the client.
func (a *Association) ClientMaxPduSize() uint16 { return a.handshake.clientMaxPduSize }

// ServerChallenge returns the server to client challenge generated for the
// last high level security AARE.
func (a *Association) ServerChallenge() []byte { return a.handshake.stoc.bytes() }

// grant decides the authorization outcome after a successful AARQ decode.
func (a *Association) grant() bool {
	if a.state != StateIdle {
		return false
	}
	switch a.authLevel {
	case base.AuthenticationNone:
		a.state = StateAssociated
		a.handshake.result = base.SourceDiagnosticNone
		return true
	case base.AuthenticationLow:
		if a.sys.CheckPassword(a.cfg.SAP, a.handshake.ctos.bytes()) {
			a.state = StateAssociated
			a.handshake.result = base.SourceDiagnosticNone
			return true
		}
		a.handshake.result = base.SourceDiagnosticAuthenticationFailure
		return false
	case base.AuthenticationHighGmac:
		// provisionally granted, the ciphered reply challenge is checked by
		// the layer above
		a.state = StateAssociationPending
		a.handshake.result = base.SourceDiagnosticAuthenticationRequired
		return true
	default:
		a.logf("access refused, bad authentication level: %d", a.authLevel)
		a.handshake.result = base.SourceDiagnosticAuthenticationMechanismNameNotRecognized
		return false
	}
}

// Fixed RLRE reply with the normal release reason.
var releaseReply = [5]byte{byte(base.TagRLRE), 3, base.BERTypeContext, 1, byte(base.ReleaseReasonNormal)}

// Execute processes one inbound APDU held in buf and, when a reply is due,
// overwrites buf with it. It returns the number of reply bytes; zero means
// the packet is deliberately left unanswered.
func (a *Association) Execute(buf *ber.Buffer) int {
	switch a.state {
	case StateIdle:
		a.Reset()
		if err := a.decodeAARQ(buf); err != nil {
			a.logf("aarq decoding error: %v", err)
			// fields decoded before the failure must not survive it
			a.Reset()
			return 0
		}
		if a.grant() {
			a.logf("access granted")
		} else {
			a.logf("connection rejected, reason: %d", a.handshake.result)
		}
		// the AARE is sent on success and on failure alike
		if err := a.encodeAARE(buf); err != nil {
			a.logf("aare encoding error: %v", err)
			return 0
		}
		a.dlogf("aare length: %d", buf.Len())
		return buf.Len()
	case StateAssociated:
		tag, err := buf.Get(0)
		if err != nil {
			return 0
		}
		if tag != byte(base.TagRLRQ) {
			a.logf("bad tag received: 0x%02x", tag)
			return 0
		}
		a.dlogf("rlrq received, sending rlre")
		a.Reset()
		buf.ResetWrite()
		if err := buf.Write(releaseReply[:]); err != nil {
			return 0
		}
		return len(releaseReply)
	}
	return 0
}
