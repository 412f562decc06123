package server

import (
	"bytes"
	"context"
	"encoding/hex"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cosemlabs/libcosem-go/wrapper"
)

type fakeSystem struct {
	title    []byte
	password []byte
	sap      byte
	rnd      byte
}

func (f *fakeSystem) SystemTitle() []byte { return f.title }

func (f *fakeSystem) RandomByte() byte {
	f.rnd++
	return f.rnd
}

func (f *fakeSystem) CheckPassword(sap byte, password []byte) bool {
	return sap == f.sap && bytes.Equal(password, f.password)
}

func unhex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestServerAssociationExchange(t *testing.T) {
	sys := &fakeSystem{title: []byte("SERVER01"), password: []byte("12345678"), sap: 1}
	srv := New(sys, 0x001e1d, 0x04b0)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	fc := wrapper.New(conn)
	buf := make([]byte, 512)

	// low level security association against logical device 1
	aarq := unhex(t, "6036a1090607608574050801018a0207808b0760857405080201"+
		"ac0a80083132333435363738be10040e01000000065f1f0400001e1dffff")
	require.NoError(t, fc.WriteFrame(0x10, 0x01, aarq))

	n, source, destination, err := fc.ReadFrame(buf)
	require.NoError(t, err)
	require.Equal(t, uint16(0x01), source)
	require.Equal(t, uint16(0x10), destination)
	aare := unhex(t, "6129a109060760857405080101a203020100a305a103020100"+
		"be10040e0800065f1f0400001e1d04b00007")
	require.Equal(t, aare, buf[:n])

	// graceful release on the same session
	require.NoError(t, fc.WriteFrame(0x10, 0x01, unhex(t, "6203800100")))
	n, _, _, err = fc.ReadFrame(buf)
	require.NoError(t, err)
	require.Equal(t, unhex(t, "6303800100"), buf[:n])

	require.NoError(t, conn.Close())
	cancel()
	require.NoError(t, <-done)
}

func TestServerShutdownClosesIdleSessions(t *testing.T) {
	sys := &fakeSystem{title: []byte("SERVER01"), password: []byte("12345678"), sap: 1}
	srv := New(sys, 0x001e1d, 0x04b0)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	fc := wrapper.New(conn)
	buf := make([]byte, 512)

	// one exchange proves the session is up, then the client goes quiet
	aarq := unhex(t, "601da109060760857405080101be10040e01000000065f1f0400001e1dffff")
	require.NoError(t, fc.WriteFrame(0x10, 0x01, aarq))
	_, _, _, err = fc.ReadFrame(buf)
	require.NoError(t, err)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server kept waiting for an idle session")
	}
}

func TestServerIgnoresWideWport(t *testing.T) {
	sys := &fakeSystem{title: []byte("SERVER01"), password: []byte("12345678"), sap: 1}
	srv := New(sys, 0x001e1d, 0x04b0)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	fc := wrapper.New(conn)
	buf := make([]byte, 512)

	// wport 0x0101 must not alias logical device 1: the frame is dropped,
	// only the following frame to wport 1 gets the reply
	aarq := unhex(t, "601da109060760857405080101be10040e01000000065f1f0400001e1dffff")
	require.NoError(t, fc.WriteFrame(0x10, 0x0101, aarq))
	require.NoError(t, fc.WriteFrame(0x10, 0x01, aarq))

	n, source, _, err := fc.ReadFrame(buf)
	require.NoError(t, err)
	require.Equal(t, uint16(0x01), source)
	aare := unhex(t, "6129a109060760857405080101a203020100a305a103020100"+
		"be10040e0800065f1f0400001e1d04b00007")
	require.Equal(t, aare, buf[:n])

	require.NoError(t, conn.Close())
	cancel()
	require.NoError(t, <-done)
}

func TestServerDropsMalformedFrame(t *testing.T) {
	sys := &fakeSystem{title: []byte("SERVER01"), password: []byte("12345678"), sap: 1}
	srv := New(sys, 0x001e1d, 0x04b0)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	fc := wrapper.New(conn)
	buf := make([]byte, 512)

	// garbage gets no reply; the session stays up and a valid request on the
	// same connection still goes through
	require.NoError(t, fc.WriteFrame(0x10, 0x01, []byte{0xde, 0xad, 0xbe, 0xef}))
	aarq := unhex(t, "601da109060760857405080101be10040e01000000065f1f0400001e1dffff")
	require.NoError(t, fc.WriteFrame(0x10, 0x01, aarq))

	n, _, _, err := fc.ReadFrame(buf)
	require.NoError(t, err)
	aare := unhex(t, "6129a109060760857405080101a203020100a305a103020100"+
		"be10040e0800065f1f0400001e1d04b00007")
	require.Equal(t, aare, buf[:n])

	require.NoError(t, conn.Close())
	cancel()
	require.NoError(t, <-done)
}
