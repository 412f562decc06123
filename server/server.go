// Package server provides the TCP session layer of the metering device: it
// accepts wrapper-framed connections and drives one ACSE association per
// connection, strictly one frame at a time.
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/cosemlabs/libcosem-go/acse"
	"github.com/cosemlabs/libcosem-go/base"
	"github.com/cosemlabs/libcosem-go/ber"
	"github.com/cosemlabs/libcosem-go/wrapper"
)

// Enough room for any AARQ or AARE of this profile.
const scratchSize = 512

// Server accepts connections and runs the association pipeline on them.
type Server struct {
	sys         base.System
	conformance uint32
	maxPduSize  uint16
	logger      *zap.SugaredLogger
}

type Option func(*Server)

// WithLogger sets the logger shared by the server and its associations.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a server offering the given conformance block and maximum
// receive PDU size to its clients.
func New(sys base.System, conformance uint32, maxPduSize uint16, opts ...Option) *Server {
	s := &Server{sys: sys, conformance: conformance, maxPduSize: maxPduSize}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) logf(format string, v ...any) {
	if s.logger != nil {
		s.logger.Infof(format, v...)
	}
}

func (s *Server) dlogf(format string, v ...any) {
	if s.logger != nil {
		s.logger.Debugf(format, v...)
	}
}

// ListenAndServe listens on address and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections from ln until ctx is cancelled or the listener
// fails. Cancellation closes the running sessions as well; Serve waits for
// them before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if ln == nil {
		return errors.New("listener is required")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	s.logf("listening on %v", ln.Addr())

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			// unblock the frame read on cancellation, a session without
			// traffic would otherwise hold up the shutdown
			stop := make(chan struct{})
			go func() {
				select {
				case <-ctx.Done():
					_ = conn.Close()
				case <-stop:
				}
			}()
			s.handle(conn)
			close(stop)
		}()
	}
}

// handle runs one session. Frames are processed to completion one at a time,
// so the association state is never touched concurrently.
func (s *Server) handle(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	s.dlogf("connection from %v", conn.RemoteAddr())

	fconn := wrapper.New(conn)
	fconn.SetLogger(s.logger)

	var scratch [scratchSize]byte
	var assoc *acse.Association
	cfg := acse.Config{Conformance: s.conformance, MaxPduSize: s.maxPduSize}

	for {
		n, source, destination, err := fconn.ReadFrame(scratch[:])
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.dlogf("session with %v ended: %v", conn.RemoteAddr(), err)
			}
			return
		}
		if destination > 0xff {
			// the service access point is the low byte of the wport; wider
			// addresses name no logical device here
			s.logf("no logical device at wport %d, frame from %v dropped", destination, conn.RemoteAddr())
			continue
		}
		if assoc == nil {
			// the destination wport addresses the logical device and selects
			// the password to check against
			cfg.SAP = byte(destination)
			assoc = acse.New(&cfg, s.sys)
			assoc.SetLogger(s.logger)
		}
		buf := ber.New(scratch[:], n)
		rn := assoc.Execute(buf)
		if rn == 0 {
			// deliberate: malformed or unexpected input gets no reply
			s.logf("dropped frame from %v without reply", conn.RemoteAddr())
			continue
		}
		if err := fconn.WriteFrame(destination, source, scratch[:rn]); err != nil {
			s.logf("write to %v failed: %v", conn.RemoteAddr(), err)
			return
		}
	}
}
