package acse

import (
	"fmt"

	"github.com/cosemlabs/libcosem-go/base"
	"github.com/cosemlabs/libcosem-go/ber"
)

// Choice tag of the acse-service-user alternative inside the
// result-source-diagnostic field.
const acseServiceUser = base.BERTypeContext | base.BERTypeConstructed | 1

/*
AARE-apdu ::= [APPLICATION 1] IMPLICIT SEQUENCE
{
	protocol-version                [0]  IMPLICIT BIT STRING {version1 (0)} DEFAULT {version1},
	application-context-name        [1]  Application-context-name,
	result                          [2]  Association-result,
	result-source-diagnostic        [3]  Associate-source-diagnostic,
	responding-AP-title             [4]  AP-title OPTIONAL,
	responding-AE-qualifier         [5]  AE-qualifier OPTIONAL,
	responding-AP-invocation-id     [6]  AP-invocation-identifier OPTIONAL,
	responding-AE-invocation-id     [7]  AE-invocation-identifier OPTIONAL,
	responder-acse-requirements     [8]  IMPLICIT ACSE-requirements OPTIONAL,
	mechanism-name                  [9]  IMPLICIT Mechanism-name OPTIONAL,
	responding-authentication-value [10] EXPLICIT Authentication-value OPTIONAL,
	implementation-information      [29] IMPLICIT Implementation-data OPTIONAL,
	user-information                [30] EXPLICIT Association-information OPTIONAL
}

The user-information field carries an InitiateResponse APDU encoded in A-XDR,
wrapped in a BER octet string.
*/
var aareChain = [...]codecEntry{
	{tag: base.BERTypeContext | base.PduTypeProtocolVersion, req: reqNever, encode: (*Association).encodeProtocolVersion},
	{tag: base.BERTypeContext | base.BERTypeConstructed | base.PduTypeApplicationContextName, req: reqAlways, encode: (*Association).encodeAppContext},
	{tag: base.BERTypeObjectIdentifier, req: reqAlways, encode: (*Association).encodeContextOID},
	{tag: base.BERTypeContext | base.BERTypeConstructed | base.PduTypeResult, req: reqAlways, encode: (*Association).encodeResult},
	{tag: base.BERTypeContext | base.BERTypeConstructed | base.PduTypeResultSourceDiagnostic, req: reqAlways, encode: (*Association).encodeSourceDiagnostic},

	// additional fields present only under ciphered authentication
	{tag: base.BERTypeContext | base.BERTypeConstructed | base.PduTypeRespondingAPTitle, req: reqSecurity, encode: (*Association).encodeServerTitle},
	{tag: base.BERTypeContext | base.PduTypeResponderAcseRequirements, req: reqSecurity, encode: (*Association).encodeResponderRequirements},
	{tag: base.BERTypeContext | base.PduTypeRespondingMechanismName, req: reqSecurity, encode: (*Association).encodeMechanismOID},
	{tag: base.BERTypeContext | base.BERTypeConstructed | base.PduTypeRespondingAuthValue, req: reqSecurity, encode: (*Association).encodeServerChallenge},

	{tag: base.BERTypeContext | base.BERTypeConstructed | base.PduTypeUserInformation, req: reqAlways, encode: (*Association).encodeInitiateResponse},
}

// encodeAARE writes the reply into buf, rewinding it first. The outer length
// is a single reserved byte patched once the body is written; with the reply
// challenge capped at maxReplyChallengeSize no AARE of this profile reaches
// 128 bytes, so the single byte form always fits.
func (a *Association) encodeAARE(buf *ber.Buffer) error {
	a.dlogf("encoding aare")
	buf.ResetWrite()
	if err := buf.WriteUint8(byte(base.TagAARE)); err != nil {
		return err
	}
	if err := buf.WriteUint8(0); err != nil {
		return err
	}
	for i := range aareChain {
		entry := &aareChain[i]
		if entry.encode == nil || entry.req == reqNever {
			continue
		}
		if entry.req == reqSecurity && a.authLevel != base.AuthenticationHighGmac {
			continue
		}
		if err := buf.WriteUint8(entry.tag); err != nil {
			return err
		}
		if err := entry.encode(a, buf); err != nil {
			return err
		}
	}
	return buf.Set(1, byte(buf.Len()-2))
}

func (a *Association) encodeProtocolVersion(buf *ber.Buffer) error {
	if err := ber.WriteLength(buf, 2); err != nil {
		return err
	}
	if err := buf.WriteUint8(7); err != nil { // unused bits in the bit string
		return err
	}
	return buf.WriteUint8(0x80) // version1
}

func (a *Association) encodeAppContext(buf *ber.Buffer) error {
	// 7 byte object identifier plus its 2 byte header
	return ber.WriteLength(buf, 9)
}

func (a *Association) encodeContextOID(buf *ber.Buffer) error {
	return encodeOID(buf, oidNameAppContext, byte(a.ref))
}

func (a *Association) encodeMechanismOID(buf *ber.Buffer) error {
	return encodeOID(buf, oidNameMechanism, byte(a.authLevel))
}

// writeInteger emits a one byte INTEGER wrapped in its outer content length.
func writeInteger(buf *ber.Buffer, v byte) error {
	if err := ber.WriteLength(buf, 3); err != nil {
		return err
	}
	if err := buf.WriteUint8(base.BERTypeInteger); err != nil {
		return err
	}
	if err := ber.WriteLength(buf, 1); err != nil {
		return err
	}
	return buf.WriteUint8(v)
}

func (a *Association) encodeResult(buf *ber.Buffer) error {
	result := base.AssociationResultAccepted
	if a.state == StateIdle {
		result = base.AssociationResultPermanentRejected
	}
	return writeInteger(buf, byte(result))
}

func (a *Association) encodeSourceDiagnostic(buf *ber.Buffer) error {
	if err := ber.WriteLength(buf, 5); err != nil {
		return err
	}
	if err := buf.WriteUint8(acseServiceUser); err != nil {
		return err
	}
	return writeInteger(buf, byte(a.handshake.result))
}

func (a *Association) encodeServerTitle(buf *ber.Buffer) error {
	title := a.sys.SystemTitle()
	if len(title) != base.SystemTitleSize {
		return fmt.Errorf("system title has to be %d bytes long", base.SystemTitleSize)
	}
	if err := ber.WriteLength(buf, base.SystemTitleSize+2); err != nil {
		return err
	}
	if err := buf.WriteUint8(base.BERTypeOctetString); err != nil {
		return err
	}
	if err := buf.WriteUint8(base.SystemTitleSize); err != nil {
		return err
	}
	return buf.Write(title)
}

func (a *Association) encodeResponderRequirements(buf *ber.Buffer) error {
	if err := ber.WriteLength(buf, 2); err != nil {
		return err
	}
	if err := buf.WriteUint8(7); err != nil { // unused bits in the bit string
		return err
	}
	return buf.WriteUint8(0x80)
}

// A reply challenge longer than this would push the whole AARE past 127 bytes
// and break the single byte outer length form.
const maxReplyChallengeSize = 32

// encodeServerChallenge generates and emits the server to client challenge,
// mirroring the length of the client challenge up to maxReplyChallengeSize.
func (a *Association) encodeServerChallenge(buf *ber.Buffer) error {
	size := a.handshake.ctos.size
	if size > maxReplyChallengeSize {
		size = maxReplyChallengeSize
	}
	a.handshake.stoc.size = size
	if err := ber.WriteLength(buf, size+2); err != nil {
		return err
	}
	if err := buf.WriteUint8(base.BERTypeContext); err != nil { // GraphicString
		return err
	}
	if err := buf.WriteUint8(byte(size)); err != nil {
		return err
	}
	for i := 0; i < size; i++ {
		b := a.sys.RandomByte()
		a.handshake.stoc.value[i] = b
		if err := buf.WriteUint8(b); err != nil {
			return err
		}
	}
	return nil
}
