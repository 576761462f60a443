package syslogd

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"

	"nascert/pkg/logging"

	"golang.org/x/sync/errgroup"
)

const udpReadBufferSize = 8192

// Server listens for syslog traffic on one UDP socket and one TCP listener
// bound to the same port, feeding every message into a Capture. It has no
// natural end of stream: it runs until Stop is called.
type Server struct {
	capture *Capture

	udp net.PacketConn
	tcp net.Listener

	group *errgroup.Group

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	stopping bool
}

// NewServer creates a server for the given capture sink.
func NewServer(capture *Capture) *Server {
	return &Server{
		capture: capture,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Start binds both sockets and launches the listener goroutines. It returns
// once the server is accepting traffic; callers must Stop it explicitly.
func (s *Server) Start(host string, port int) error {
	udp, err := net.ListenPacket("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return fmt.Errorf("binding UDP listener on %s:%d: %w", host, port, err)
	}
	// Bind TCP to whatever port UDP got, so that port 0 still yields one
	// shared port for both transports.
	addr := fmt.Sprintf("%s:%d", host, udp.LocalAddr().(*net.UDPAddr).Port)
	tcp, err := net.Listen("tcp", addr)
	if err != nil {
		udp.Close()
		return fmt.Errorf("binding TCP listener on %s: %w", addr, err)
	}
	s.udp = udp
	s.tcp = tcp

	s.group = &errgroup.Group{}
	s.group.Go(s.serveUDP)
	s.group.Go(s.serveTCP)

	logging.Info("Syslog", "capture server listening on %s (udp+tcp)", addr)
	return nil
}

// Addr returns the bound TCP address, useful when port 0 was requested.
func (s *Server) Addr() net.Addr {
	if s.tcp == nil {
		return nil
	}
	return s.tcp.Addr()
}

// serveUDP treats each datagram as one syslog record.
func (s *Server) serveUDP() error {
	buf := make([]byte, udpReadBufferSize)
	for {
		n, from, err := s.udp.ReadFrom(buf)
		if err != nil {
			if s.isStopping() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("UDP read: %w", err)
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		s.capture.Handle(Decode(data, TransportUDP, from.String()))
	}
}

// serveTCP accepts connections and hands each one to its own goroutine so
// a slow or stalled sender never blocks the rest of the service.
func (s *Server) serveTCP() error {
	for {
		conn, err := s.tcp.Accept()
		if err != nil {
			if s.isStopping() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("TCP accept: %w", err)
		}
		if !s.trackConn(conn) {
			continue
		}
		s.group.Go(func() error {
			defer s.untrackConn(conn)
			s.serveConn(conn)
			return nil
		})
	}
}

// serveConn reads one connection line by line until EOF or disconnect;
// each line is one record.
func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	source := conn.RemoteAddr().String()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, udpReadBufferSize), udpReadBufferSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		data := make([]byte, len(line))
		copy(data, line)
		s.capture.Handle(Decode(data, TransportTCP, source))
	}
	if err := scanner.Err(); err != nil && !s.isStopping() && !errors.Is(err, net.ErrClosed) {
		logging.Debug("Syslog", "TCP connection from %s ended: %v", source, err)
	}
}

// trackConn registers the connection for Stop's close loop. A connection
// that slips out of Accept while Stop is already running is closed on the
// spot: Stop's close loop has passed, so servicing it would leak the
// connection and stall Stop.
func (s *Server) trackConn(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		conn.Close()
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrackConn(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

// Stop closes both listeners and every open connection, then waits for the
// handler goroutines to finish. The capture stays usable (and must still be
// Closed) so callers can flush after the grace period they choose.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	if s.udp != nil {
		s.udp.Close()
	}
	if s.tcp != nil {
		s.tcp.Close()
	}
	if s.group != nil {
		if err := s.group.Wait(); err != nil {
			return fmt.Errorf("stopping syslog listeners: %w", err)
		}
	}
	logging.Info("Syslog", "capture server stopped")
	return nil
}
