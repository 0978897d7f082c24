package protocol

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	log "github.com/CefBoud/peerbus/logging"
	"github.com/CefBoud/peerbus/metrics"
	"github.com/CefBoud/peerbus/serde"
	"github.com/CefBoud/peerbus/types"
)

// Server is the connection handler shared by the directory and the peers.
// Every accepted connection runs in its own goroutine and may carry any
// number of sequential request/response exchanges.
type Server struct {
	Name       string
	Dispatcher Dispatcher
	Encoder    serde.Encoder

	listener net.Listener
	mu       sync.Mutex
	closed   bool
}

// NewServer creates a Server dispatching requests to d
func NewServer(name string, d Dispatcher, enc serde.Encoder) *Server {
	return &Server{Name: name, Dispatcher: d, Encoder: enc}
}

// Listen binds the TCP listener. Use port 0 to pick a free port.
func (s *Server) Listen(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	log.Info("%s is listening on %s", s.Name, listener.Addr())
	return nil
}

// Addr returns the bound address
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until Close is called
func (s *Server) Serve() error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return errors.New("server is not listening")
	}

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			log.Error("Error accepting connection: %v", err)
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			continue
		}
		go s.HandleConnection(conn)
	}
}

// Close stops accepting connections. In-flight connections are not drained.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.listener == nil {
		s.closed = true
		return nil
	}
	s.closed = true
	return s.listener.Close()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// HandleConnection processes requests from a connection until the remote
// side closes it or the stream can no longer be framed.
func (s *Server) HandleConnection(conn net.Conn) {
	defer conn.Close()
	connectionAddr := conn.RemoteAddr().String()
	log.Debug("Connection established with %s", connectionAddr)

	for {
		var response types.Response
		body, err := serde.ReadFrame(conn)
		switch {
		case err == nil:
			req, decodeErr := serde.DecodeRequest(body, connectionAddr)
			if decodeErr != nil {
				log.Warn("Malformed request from %s: %v", connectionAddr, decodeErr)
				response = ErrorResponse(ErrInvalidFormat)
			} else {
				response = s.Handle(req)
			}
		case serde.IsRecoverable(err):
			log.Warn("Unreadable frame from %s: %v", connectionAddr, err)
			response = ErrorResponse(ErrInvalidFormat)
		default:
			if !errors.Is(err, io.EOF) {
				log.Debug("Error reading from %s: %v", connectionAddr, err)
			}
			log.Debug("Connection with %s closed.", connectionAddr)
			return
		}

		err = s.Encoder.WriteMessage(conn, response)
		if errors.Is(err, serde.ErrFrameTooLarge) {
			// nothing was written yet, the client still gets an answer
			log.Error("%s response to %s does not fit in a frame: %v", s.Name, connectionAddr, err)
			err = s.Encoder.WriteMessage(conn, ErrorResponse(fmt.Errorf("%w: response too large", ErrInternal)))
		}
		if err != nil {
			log.Error("Error writing to connection: %v", err)
			return
		}
	}
}

// Handle dispatches a decoded request to its command handler
func (s *Server) Handle(req types.Request) types.Response {
	handler, ok := s.Dispatcher.Dispatch(req.Command)
	if !ok {
		log.Warn("%s received unknown command %q from %s", s.Name, req.Command, req.ConnectionAddress)
		metrics.Count([]string{s.Name, "request", "unknown"})
		return ErrorResponse(ErrUnknownCommand)
	}

	start := time.Now()
	log.Debug("%s received %s from %s", s.Name, handler.Name, req.ConnectionAddress)
	response := handler.Handler(req)
	metrics.Since([]string{s.Name, "request"}, start, metrics.Label("command", handler.Name), metrics.Label("status", response.Status))
	return response
}
