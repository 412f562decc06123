// Package wrapper implements the server side of the DLMS Wrapper protocol
// framing for TCP/IP transport.
//
// The wrapper prefixes every APDU with an 8-byte header:
//   - Version (2 bytes): always 0x0001
//   - Source WPORT (2 bytes): logical address of the sender
//   - Destination WPORT (2 bytes): logical address of the receiver
//   - Length (2 bytes): payload length
//
// The session layer reads one frame at a time into its scratch buffer and
// replies with the wport addresses swapped.
package wrapper

import (
	"encoding/binary"
	"fmt"
	"io"

	"go.uber.org/zap"
)

const (
	headerSize = 8
	version    = 1
	maxPayload = 65535
)

// Conn frames APDUs over a stream connection.
type Conn struct {
	conn   io.ReadWriter
	logger *zap.SugaredLogger
	header [headerSize]byte
}

// New creates a wrapper framing layer around the provided stream.
func New(conn io.ReadWriter) *Conn {
	return &Conn{conn: conn}
}

func (w *Conn) SetLogger(logger *zap.SugaredLogger) {
	w.logger = logger
}

func (w *Conn) dlogf(format string, v ...any) {
	if w.logger != nil {
		w.logger.Debugf(format, v...)
	}
}

// ReadFrame reads one wrapper frame into p and returns the payload length
// together with the source and destination wport addresses.
func (w *Conn) ReadFrame(p []byte) (n int, source uint16, destination uint16, err error) {
	if _, err = io.ReadFull(w.conn, w.header[:]); err != nil {
		return 0, 0, 0, err
	}
	if binary.BigEndian.Uint16(w.header[:2]) != version {
		return 0, 0, 0, fmt.Errorf("unsupported wrapper version")
	}
	source = binary.BigEndian.Uint16(w.header[2:4])
	destination = binary.BigEndian.Uint16(w.header[4:6])
	length := int(binary.BigEndian.Uint16(w.header[6:8]))
	if length > len(p) {
		return 0, 0, 0, fmt.Errorf("packet too big: size=%d max=%d", length, len(p))
	}
	if _, err = io.ReadFull(w.conn, p[:length]); err != nil {
		return 0, 0, 0, err
	}
	w.dlogf("frame in: %d bytes, wports %d -> %d", length, source, destination)
	return length, source, destination, nil
}

// WriteFrame sends one wrapper frame.
func (w *Conn) WriteFrame(source uint16, destination uint16, payload []byte) error {
	if len(payload) > maxPayload {
		return fmt.Errorf("packet too big: size=%d max=%d", len(payload), maxPayload)
	}
	binary.BigEndian.PutUint16(w.header[:2], version)
	binary.BigEndian.PutUint16(w.header[2:4], source)
	binary.BigEndian.PutUint16(w.header[4:6], destination)
	binary.BigEndian.PutUint16(w.header[6:8], uint16(len(payload)))
	if _, err := w.conn.Write(w.header[:]); err != nil {
		return err
	}
	_, err := w.conn.Write(payload)
	if err == nil {
		w.dlogf("frame out: %d bytes, wports %d -> %d", len(payload), source, destination)
	}
	return err
}
