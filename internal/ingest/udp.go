package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/fallwatch/internal/timeutil"
)

// UDPListenerConfig contains configuration options for the UDP listener.
type UDPListenerConfig struct {
	Address     string        // e.g. ":5600"
	RcvBuf      int           // Socket receive buffer in bytes; 0 keeps the OS default
	LogInterval time.Duration // Period of the stats log line; defaults to one minute
	Handler     FrameHandler
	Clock       timeutil.Clock // Optional: drives the stats log ticker
}

// UDPListener receives one encoded frame per datagram.
type UDPListener struct {
	address     string
	rcvBuf      int
	logInterval time.Duration
	handler     FrameHandler
	clock       timeutil.Clock

	mu   sync.Mutex
	conn *net.UDPConn

	packets  atomic.Uint64
	bytes    atomic.Uint64
	frames   atomic.Uint64
	rejected atomic.Uint64
}

// NewUDPListener creates a new UDP listener with the provided configuration.
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	logInterval := config.LogInterval
	if logInterval == 0 {
		logInterval = time.Minute
	}
	return &UDPListener{
		address:     config.Address,
		rcvBuf:      config.RcvBuf,
		logInterval: logInterval,
		handler:     config.Handler,
		clock:       timeutil.OrReal(config.Clock),
	}
}

// UDPStats is a snapshot of listener counters.
type UDPStats struct {
	Packets  uint64 `json:"packets"`
	Bytes    uint64 `json:"bytes"`
	Frames   uint64 `json:"frames"`
	Rejected uint64 `json:"rejected"`
}

// Stats returns the listener counters.
func (l *UDPListener) Stats() UDPStats {
	return UDPStats{
		Packets:  l.packets.Load(),
		Bytes:    l.bytes.Load(),
		Frames:   l.frames.Load(),
		Rejected: l.rejected.Load(),
	}
}

// Addr returns the bound address once Start is listening, or nil.
func (l *UDPListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Start listens until ctx is cancelled. Handler errors are logged and the
// datagram dropped; they do not stop the listener.
func (l *UDPListener) Start(ctx context.Context) error {
	if l.handler == nil {
		return fmt.Errorf("udp listener has no frame handler")
	}
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	defer conn.Close()

	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()

	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			opsf("Warning: Failed to set UDP receive buffer size to %d: %v", l.rcvBuf, err)
		}
	}
	diagf("UDP listener started on %s", conn.LocalAddr())

	go l.logStats(ctx)

	buffer := make([]byte, 64*1024)
	for {
		select {
		case <-ctx.Done():
			diagf("UDP listener stopping due to context cancellation")
			return ctx.Err()
		default:
		}

		// Short deadline so cancellation is noticed.
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, from, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			opsf("UDP read error: %v", err)
			continue
		}
		l.handlePacket(buffer[:n], from)
	}
}

func (l *UDPListener) handlePacket(packet []byte, from *net.UDPAddr) {
	l.packets.Add(1)
	l.bytes.Add(uint64(len(packet)))

	f, err := DecodeFrame(packet)
	if err != nil {
		l.rejected.Add(1)
		opsf("Dropping datagram from %v: %v", from, err)
		return
	}
	if err := l.handler(f); err != nil {
		l.rejected.Add(1)
		tracef("Frame %d of %s from %v not accepted: %v", f.Index, f.StreamID, from, err)
		return
	}
	l.frames.Add(1)
}

func (l *UDPListener) logStats(ctx context.Context) {
	ticker := l.clock.NewTicker(l.logInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s := l.Stats()
			diagf("UDP: %d packets (%d bytes), %d frames accepted, %d rejected", s.Packets, s.Bytes, s.Frames, s.Rejected)
		}
	}
}
