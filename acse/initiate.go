package acse

import (
	"fmt"

	"github.com/cosemlabs/libcosem-go/base"
	"github.com/cosemlabs/libcosem-go/ber"
)

// The conformance block travels as a BER coded [APPLICATION 31] bit string
// inside the otherwise A-XDR coded initiate APDUs.
var conformanceHeader = [4]byte{0x5f, 0x1f, 0x04, 0x00}

func readNull(buf *ber.Buffer) error {
	b, err := buf.ReadUint8()
	if err != nil {
		return err
	}
	if b != 0 {
		return fmt.Errorf("expected null byte, got 0x%02x", b)
	}
	return nil
}

/*
InitiateRequest ::= SEQUENCE
{
	dedicated-key                OCTET STRING OPTIONAL,
	response-allowed             BOOLEAN DEFAULT TRUE,
	proposed-quality-of-service  [0] IMPLICIT Integer8 OPTIONAL,
	proposed-dlms-version-number Unsigned8,
	proposed-conformance         Conformance, -- encoded in BER
	client-max-receive-pdu-size  Unsigned16
}
*/
func (a *Association) decodeInitiateRequest(buf *ber.Buffer) error {
	tag, err := buf.ReadUint8()
	if err != nil {
		return err
	}
	if tag != byte(base.TagInitiateRequest) {
		return fmt.Errorf("unexpected user information tag 0x%02x", tag)
	}
	a.dlogf("found xdlms InitiateRequest apdu")

	// dedicated-key: the marker byte only, the key itself is never carried in
	// this profile and is not propagated
	marker, err := buf.ReadUint8()
	if err != nil {
		return err
	}
	if marker != 0 {
		a.logf("dedicated key signalled, ignored")
	}

	// response-allowed and proposed-quality-of-service, both null here
	if err := readNull(buf); err != nil {
		return err
	}
	if err := readNull(buf); err != nil {
		return err
	}

	version, err := buf.ReadUint8()
	if err != nil {
		return err
	}
	if version != base.DlmsVersion {
		return fmt.Errorf("wrong dlms version: %d", version)
	}

	hdr, err := ber.DecodeHeader(buf)
	if err != nil {
		return err
	}
	if hdr.Tag != conformanceHeader[0] || hdr.Ext != conformanceHeader[1] || hdr.Length != 4 {
		return fmt.Errorf("bad proposed conformance header")
	}
	unused, err := buf.ReadUint8()
	if err != nil {
		return err
	}
	if unused != 0 { // unused bits in the bit string
		return fmt.Errorf("bad proposed conformance contents")
	}
	c, err := buf.Read(3)
	if err != nil {
		return err
	}
	a.handshake.proposedConformance = uint32(c[0])<<16 | uint32(c[1])<<8 | uint32(c[2])
	a.handshake.clientMaxPduSize, err = buf.ReadUint16()
	return err
}

/*
InitiateResponse ::= SEQUENCE
{
	negotiated-quality-of-service  [0] IMPLICIT Integer8 OPTIONAL,
	negotiated-dlms-version-number Unsigned8,
	negotiated-conformance         Conformance, -- encoded in BER
	server-max-receive-pdu-size    Unsigned16,
	vaa-name                       ObjectName
}

The vaa-name is 0x0007 under logical name referencing and 0xFA00, the base
name of the Current Association object, under short name referencing.
*/
func (a *Association) encodeInitiateResponse(buf *ber.Buffer) error {
	a.dlogf("encoding user information tag")

	// Two reserved size bytes are patched once the body is written: the
	// outer structure size and the octet string size inside it.
	saved := buf.Len()
	if err := buf.WriteUint8(0); err != nil {
		return err
	}
	if err := buf.WriteUint8(base.BERTypeOctetString); err != nil {
		return err
	}
	if err := buf.WriteUint8(0); err != nil {
		return err
	}

	if err := buf.WriteUint8(byte(base.TagInitiateResponse)); err != nil {
		return err
	}
	if err := buf.WriteUint8(0); err != nil { // null, no quality of service
		return err
	}
	if err := buf.WriteUint8(base.DlmsVersion); err != nil {
		return err
	}

	if err := buf.Write(conformanceHeader[:]); err != nil {
		return err
	}
	conf := a.cfg.Conformance
	if err := buf.WriteUint8(byte(conf >> 16)); err != nil {
		return err
	}
	if err := buf.WriteUint8(byte(conf >> 8)); err != nil {
		return err
	}
	if err := buf.WriteUint8(byte(conf)); err != nil {
		return err
	}

	if err := buf.WriteUint16(a.cfg.MaxPduSize); err != nil {
		return err
	}

	vaa := uint16(base.VAANameSN)
	if a.ref == base.ApplicationContextLNNoCiphering || a.ref == base.ApplicationContextLNCiphering {
		vaa = base.VAANameLN
	}
	if err := buf.WriteUint16(vaa); err != nil {
		return err
	}

	size := buf.Len() - saved
	if err := buf.Set(saved, byte(size-1)); err != nil { // minus the size byte itself
		return err
	}
	return buf.Set(saved+2, byte(size-3)) // minus the whole octet string framing
}
