package acse

import (
	"bytes"
	"fmt"

	"github.com/cosemlabs/libcosem-go/base"
	"github.com/cosemlabs/libcosem-go/ber"
)

// All object identifiers of this profile carry the DLMS-UA prefix
// {joint-iso-ccitt(2) country(16) country-name(756)
// identified-organisation(5) DLMS-UA(8)}; instead of a real OID decoder the
// encoded form is compared byte for byte.
var oidPrefix = [5]byte{0x60, 0x85, 0x74, 0x05, 0x08}

// Object identifier name selectors.
const (
	oidNameAppContext = 1
	oidNameMechanism  = 2
)

// decodeOID validates a 7 byte DLMS-UA object identifier and classifies it as
// either an application context name or a security mechanism name. The state
// is only touched once the whole identifier is recognized.
func (a *Association) decodeOID(hdr *ber.Header, buf *ber.Buffer) error {
	a.dlogf("found object identifier tag")
	if hdr.Length != 7 {
		return fmt.Errorf("bad object identifier size")
	}
	prefix, err := buf.Read(5)
	if err != nil {
		return err
	}
	if !bytes.Equal(prefix, oidPrefix[:]) {
		return fmt.Errorf("bad object identifier contents")
	}
	name, err := buf.ReadUint8()
	if err != nil {
		return err
	}
	id, err := buf.ReadUint8()
	if err != nil {
		return err
	}
	switch name {
	case oidNameAppContext:
		switch ctx := base.ApplicationContext(id); ctx {
		case base.ApplicationContextLNNoCiphering,
			base.ApplicationContextSNNoCiphering,
			base.ApplicationContextLNCiphering,
			base.ApplicationContextSNCiphering:
			a.ref = ctx
			a.dlogf("application context: %d", ctx)
			return nil
		}
		return fmt.Errorf("referencing not supported: %d", id)
	case oidNameMechanism:
		switch lvl := base.Authentication(id); lvl {
		case base.AuthenticationNone, base.AuthenticationLow, base.AuthenticationHighGmac:
			a.authLevel = lvl
			a.dlogf("authentication level: %d", lvl)
			return nil
		}
		return fmt.Errorf("authentication level not supported: %d", id)
	}
	return fmt.Errorf("unknown object identifier name: %d", name)
}

// encodeOID writes one 7 byte DLMS-UA object identifier, length first.
func encodeOID(buf *ber.Buffer, name byte, id byte) error {
	if err := ber.WriteLength(buf, 7); err != nil {
		return err
	}
	if err := buf.Write(oidPrefix[:]); err != nil {
		return err
	}
	if err := buf.WriteUint8(name); err != nil {
		return err
	}
	return buf.WriteUint8(id)
}
