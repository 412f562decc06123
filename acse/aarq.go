package acse

import (
	"fmt"

	"github.com/cosemlabs/libcosem-go/base"
	"github.com/cosemlabs/libcosem-go/ber"
)

/*
AARQ ::= [APPLICATION 0] IMPLICIT SEQUENCE
{
	protocol-version             [0]  IMPLICIT BIT STRING {version1 (0)} DEFAULT {version1},
	application-context-name     [1]  Application-context-name,
	called-AP-title              [2]  AP-title OPTIONAL,
	called-AE-qualifier          [3]  AE-qualifier OPTIONAL,
	called-AP-invocation-id      [4]  AP-invocation-identifier OPTIONAL,
	called-AE-invocation-id      [5]  AE-invocation-identifier OPTIONAL,
	calling-AP-title             [6]  AP-title OPTIONAL,
	calling-AE-qualifier         [7]  AE-qualifier OPTIONAL,
	calling-AP-invocation-id     [8]  AP-invocation-identifier OPTIONAL,
	calling-AE-invocation-id     [9]  AE-invocation-identifier OPTIONAL,
	sender-acse-requirements     [10] IMPLICIT ACSE-requirements OPTIONAL,
	mechanism-name               [11] IMPLICIT Mechanism-name OPTIONAL,
	calling-authentication-value [12] EXPLICIT Authentication-value OPTIONAL,
	implementation-information   [29] IMPLICIT Implementation-data OPTIONAL,
	user-information             [30] EXPLICIT Association-information OPTIONAL
}

The user-information field carries an InitiateRequest APDU encoded in A-XDR,
wrapped in a BER octet string.

Constructed fields are flattened into the chain: their inner headers are
decoded as separate steps, which is why the invocation-id entries are each
followed by a bare INTEGER entry.
*/
var aarqChain = [...]codecEntry{
	{tag: base.BERTypeContext | base.PduTypeProtocolVersion, req: reqNever, decode: (*Association).decodeProtocolVersion},
	{tag: base.BERTypeContext | base.BERTypeConstructed | base.PduTypeApplicationContextName, req: reqAlways, decode: (*Association).decodeAppContext},
	{tag: base.BERTypeObjectIdentifier, req: reqAlways, decode: (*Association).decodeOID},
	{tag: base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCalledAPTitle, req: reqNever, decode: (*Association).decodeSkip},
	{tag: base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCalledAEQualifier, req: reqNever, decode: (*Association).decodeSkip},
	{tag: base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCalledAPInvocationID, req: reqNever, decode: (*Association).decodeSkip},
	{tag: base.BERTypeInteger, req: reqNever, decode: (*Association).decodeSkip},
	{tag: base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCalledAEInvocationID, req: reqNever, decode: (*Association).decodeSkip},
	{tag: base.BERTypeInteger, req: reqNever, decode: (*Association).decodeSkip},
	{tag: base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCallingAPTitle, req: reqOptional, decode: (*Association).decodeClientTitle},
	{tag: base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCallingAEQualifier, req: reqNever, decode: (*Association).decodeSkip},
	{tag: base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCallingAPInvocationID, req: reqNever, decode: (*Association).decodeSkip},
	{tag: base.BERTypeInteger, req: reqNever, decode: (*Association).decodeSkip},
	{tag: base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCallingAEInvocationID, req: reqNever, decode: (*Association).decodeSkip},
	{tag: base.BERTypeInteger, req: reqNever, decode: (*Association).decodeSkip},
	{tag: base.BERTypeContext | base.PduTypeSenderAcseRequirements, req: reqOptional, decode: (*Association).decodeSenderRequirements},
	{tag: base.BERTypeContext | base.PduTypeMechanismName, req: reqOptional, decode: (*Association).decodeOID},
	{tag: base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCallingAuthenticationValue, req: reqOptional, decode: (*Association).decodeAuthValue},
	{tag: base.BERTypeContext | base.PduTypeImplementationInformation, req: reqOptional, decode: (*Association).decodeSkip},
	{tag: base.BERTypeContext | base.BERTypeConstructed | base.PduTypeUserInformation, req: reqAlways, decode: (*Association).decodeUserInformation},
}

// decodeAARQ drives the codec chain over the request. A buffered header whose
// tag does not match the current entry is left untouched and retried against
// the next entry; only a matched entry consumes data and buffers the next
// header.
func (a *Association) decodeAARQ(buf *ber.Buffer) error {
	hdr, err := ber.DecodeHeader(buf)
	if err != nil {
		return err
	}
	if hdr.Tag != byte(base.TagAARQ) || hdr.Length != buf.Unread() {
		return fmt.Errorf("bad aarq header")
	}
	if hdr, err = ber.DecodeHeader(buf); err != nil {
		return err
	}
	for i := range aarqChain {
		entry := &aarqChain[i]
		if hdr.Tag != entry.tag {
			// field absent, advance the expectation only
			continue
		}
		if err = entry.decode(a, &hdr, buf); err != nil {
			if entry.req != reqOptional {
				return err
			}
			a.dlogf("optional field 0x%02x dropped: %v", entry.tag, err)
		}
		if i+1 == len(aarqChain) {
			break
		}
		if hdr, err = ber.DecodeHeader(buf); err != nil {
			return err
		}
	}
	return nil
}

func (a *Association) decodeProtocolVersion(hdr *ber.Header, buf *ber.Buffer) error {
	a.dlogf("found protocol version tag")
	if hdr.Length != 2 {
		return fmt.Errorf("bad protocol version size")
	}
	unused, err := buf.ReadUint8()
	if err != nil {
		return err
	}
	version, err := buf.ReadUint8()
	if err != nil {
		return err
	}
	// only version1 of the protocol is supported
	if unused != 7 || version != 0x80 {
		return fmt.Errorf("unsupported protocol version")
	}
	return nil
}

func (a *Association) decodeAppContext(hdr *ber.Header, buf *ber.Buffer) error {
	a.dlogf("found application context tag")
	// 7 byte object identifier plus its 2 byte header; the identifier itself
	// is handled by the following chain entry
	if hdr.Length != 9 {
		return fmt.Errorf("bad application context size")
	}
	return nil
}

// decodeSkip drops an unmanaged field. Constructed fields are not jumped
// over: their inner headers are walked by the following chain entries.
func (a *Association) decodeSkip(hdr *ber.Header, buf *ber.Buffer) error {
	if hdr.Primitive {
		if err := buf.Skip(hdr.Length); err != nil {
			return err
		}
	}
	a.dlogf("skipped tag: 0x%02x", hdr.Tag)
	return nil
}

func (a *Association) decodeClientTitle(hdr *ber.Header, buf *ber.Buffer) error {
	a.dlogf("found calling AP title tag")
	inner, err := ber.DecodeHeader(buf)
	if err != nil {
		return err
	}
	if inner.Tag != base.BERTypeOctetString {
		return fmt.Errorf("bad AP title format")
	}
	if inner.Length != base.SystemTitleSize {
		return fmt.Errorf("bad AP title size")
	}
	title, err := buf.Read(base.SystemTitleSize)
	if err != nil {
		return err
	}
	copy(a.clientTitle[:], title)
	a.hasClientTitle = true
	return nil
}

func (a *Association) decodeSenderRequirements(hdr *ber.Header, buf *ber.Buffer) error {
	a.dlogf("found sender requirements tag")
	if hdr.Length != 2 {
		return fmt.Errorf("bad sender requirements size")
	}
	unused, err := buf.ReadUint8()
	if err != nil {
		return err
	}
	bits, err := buf.ReadUint8()
	if err != nil {
		return err
	}
	// within COSEM only bit 0, the authentication functional unit, is valid
	if unused != 7 || bits != 0x80 {
		return fmt.Errorf("bad sender requirements contents")
	}
	return nil
}

func (a *Association) decodeAuthValue(hdr *ber.Header, buf *ber.Buffer) error {
	a.dlogf("found authentication value tag")
	inner, err := ber.DecodeHeader(buf)
	if err != nil {
		return err
	}
	// a GraphicString, context specific; can be a challenge or an LLS password
	if inner.Tag != base.BERTypeContext {
		return fmt.Errorf("bad authentication value format")
	}
	if inner.Length < base.LLSSize || inner.Length > base.MaxChallengeSize {
		return fmt.Errorf("bad authentication value size")
	}
	value, err := buf.Read(inner.Length)
	if err != nil {
		return err
	}
	copy(a.handshake.ctos.value[:], value)
	a.handshake.ctos.size = inner.Length
	return nil
}

func (a *Association) decodeUserInformation(hdr *ber.Header, buf *ber.Buffer) error {
	a.dlogf("found user information tag")
	inner, err := ber.DecodeHeader(buf)
	if err != nil {
		return err
	}
	if inner.Tag != base.BERTypeOctetString {
		return fmt.Errorf("bad user information format")
	}
	return a.decodeInitiateRequest(buf)
}
