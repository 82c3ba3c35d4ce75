package testsupport

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// ServiceRequest is one request line received by the fake service.
type ServiceRequest struct {
	Command string
	ID      int64
	Fields  map[string]any
	Raw     string
}

// Bool returns a boolean request field.
func (r ServiceRequest) Bool(key string) bool {
	v, _ := r.Fields[key].(bool)
	return v
}

// Number returns a numeric request field.
func (r ServiceRequest) Number(key string) float64 {
	v, _ := r.Fields[key].(float64)
	return v
}

// String returns a string request field.
func (r ServiceRequest) String(key string) string {
	v, _ := r.Fields[key].(string)
	return v
}

// ServiceHandler produces the messages written back for a request. Each
// element is marshaled to one line; a string element is written verbatim.
type ServiceHandler func(req ServiceRequest) []any

// Service is a scripted control service speaking the line protocol over a
// loopback listener. It publishes a handshake file like the real service.
type Service struct {
	t             testing.TB
	listener      net.Listener
	Port          int
	Secret        uint64
	HandshakePath string

	mu       sync.Mutex
	handlers map[string]ServiceHandler
	conn     net.Conn
	writeMu  sync.Mutex

	requests  chan ServiceRequest
	connected chan struct{}
	wg        sync.WaitGroup
}

// StartService listens on 127.0.0.1 and writes "<port>:<secret-hex>" to a
// handshake file in a temp directory. Hello is answered with a logged-out
// HelloResp unless a handler for it is installed.
func StartService(t testing.TB) *Service {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	svc := &Service{
		t:             t,
		listener:      ln,
		Port:          ln.Addr().(*net.TCPAddr).Port,
		Secret:        0x5eed,
		HandshakePath: filepath.Join(t.TempDir(), "port.txt"),
		handlers:      make(map[string]ServiceHandler),
		requests:      make(chan ServiceRequest, 256),
		connected:     make(chan struct{}, 16),
	}
	content := fmt.Sprintf("%d:%x\n", svc.Port, svc.Secret)
	if err := os.WriteFile(svc.HandshakePath, []byte(content), 0o600); err != nil {
		t.Fatalf("write handshake file: %v", err)
	}
	svc.Handle("Hello", func(req ServiceRequest) []any {
		return []any{Reply("HelloResp", req.ID, map[string]any{"version": "test"})}
	})

	svc.wg.Add(1)
	go svc.acceptLoop()
	t.Cleanup(svc.Close)
	return svc
}

// Handle installs fn for command, replacing any previous handler.
func (s *Service) Handle(command string, fn ServiceHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[command] = fn
}

// Reply builds a message with the given tag, id, and payload fields.
func Reply(command string, id int64, fields map[string]any) map[string]any {
	msg := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		msg[k] = v
	}
	msg["command"] = command
	msg["id"] = id
	return msg
}

// Push writes messages to the connected client.
func (s *Service) Push(messages ...any) {
	s.t.Helper()
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		s.t.Fatalf("push: no client connected")
		return
	}
	if err := s.write(conn, messages); err != nil {
		s.t.Fatalf("push: %v", err)
	}
}

// WaitConnected blocks until a client connects.
func (s *Service) WaitConnected(timeout time.Duration) {
	s.t.Helper()
	select {
	case <-s.connected:
	case <-time.After(timeout):
		s.t.Fatalf("no client connected within %s", timeout)
	}
}

// NextRequest returns the next request received, failing the test after
// timeout.
func (s *Service) NextRequest(timeout time.Duration) ServiceRequest {
	s.t.Helper()
	select {
	case req := <-s.requests:
		return req
	case <-time.After(timeout):
		s.t.Fatalf("no request received within %s", timeout)
		return ServiceRequest{}
	}
}

// WaitRequest skips requests until one with command arrives.
func (s *Service) WaitRequest(command string, timeout time.Duration) ServiceRequest {
	s.t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case req := <-s.requests:
			if req.Command == command {
				return req
			}
		case <-deadline:
			s.t.Fatalf("no %s request received within %s", command, timeout)
			return ServiceRequest{}
		}
	}
}

// DropClient closes the current client connection (end of stream).
func (s *Service) DropClient() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Close stops the listener and drops the client.
func (s *Service) Close() {
	_ = s.listener.Close()
	s.DropClient()
	s.wg.Wait()
}

func (s *Service) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		select {
		case s.connected <- struct{}{}:
		default:
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Service) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		var fields map[string]any
		if err := json.Unmarshal([]byte(line), &fields); err != nil {
			continue
		}
		req := ServiceRequest{Fields: fields, Raw: line}
		req.Command, _ = fields["command"].(string)
		if id, ok := fields["id"].(float64); ok {
			req.ID = int64(id)
		}

		select {
		case s.requests <- req:
		default:
		}

		s.mu.Lock()
		handler := s.handlers[req.Command]
		s.mu.Unlock()
		if handler == nil {
			continue
		}
		if err := s.write(conn, handler(req)); err != nil {
			return
		}
	}
}

func (s *Service) write(conn net.Conn, messages []any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	for _, msg := range messages {
		var line []byte
		switch v := msg.(type) {
		case string:
			line = []byte(v)
		default:
			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			line = data
		}
		line = append(line, '\n')
		if _, err := conn.Write(line); err != nil {
			return err
		}
	}
	return nil
}
