package bus

import (
	"bufio"
	"context"
	"fmt"
	"net"

	"github.com/charmbracelet/log"
)

// Handler supplies the running pipeline's answers to control commands.
type Handler struct {
	Status func() string // one-line status ("state=streaming ...")
	Stop   func()        // request a graceful stop
}

// Server answers status/stop/version commands on the control socket while
// the pipeline runs, so a hotkey binding can stop dictation from outside
// the owning terminal.
type Server struct {
	handler Handler
	ln      net.Listener
}

// NewServer claims the socket and the pid file.
func NewServer(handler Handler) (*Server, error) {
	if err := CheckExistingInstance(); err != nil {
		return nil, err
	}

	ln, err := Listen()
	if err != nil {
		return nil, err
	}
	if err := CreatePidFile(); err != nil {
		ln.Close()
		return nil, fmt.Errorf("failed to create PID file: %w", err)
	}

	return &Server{handler: handler, ln: ln}, nil
}

// Serve accepts control connections until the context is cancelled.
func (s *Server) Serve(ctx context.Context) {
	defer RemovePidFile()

	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	log.Debug("bus: listening on control socket")
	for {
		c, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("bus: accept error", "err", err)
			return
		}
		go s.handle(c)
	}
}

func (s *Server) handle(c net.Conn) {
	defer c.Close()

	line, err := bufio.NewReader(c).ReadString('\n')
	if err != nil {
		fmt.Fprintf(c, "ERR read_error: %v\n", err)
		return
	}
	if len(line) == 0 {
		fmt.Fprint(c, "ERR empty\n")
		return
	}

	switch line[0] {
	case 's':
		fmt.Fprintf(c, "STATUS %s\n", s.handler.Status())
	case 'q':
		fmt.Fprint(c, "OK stopping\n")
		s.handler.Stop()
	case 'v':
		fmt.Fprintf(c, "STATUS proto=%s\n", ProtoVer)
	default:
		fmt.Fprintf(c, "ERR unknown=%q\n", line[0])
	}
}
