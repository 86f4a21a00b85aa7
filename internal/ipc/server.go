package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tuxx/wayvid/internal/control"
	"github.com/tuxx/wayvid/internal/types"
)

// replyTimeout bounds how long a connection waits for the engine to answer a
// structured request before giving up.
const replyTimeout = 5 * time.Second

// readTimeout bounds how long the server waits for the request line.
const readTimeout = 10 * time.Second

// Sink is the engine command endpoint the server forwards into. The engine's
// control.Handle satisfies it.
type Sink interface {
	Send(control.Command) error
}

// Server accepts IPC connections and translates requests into engine
// commands. Connections are independent; each reads one line, gets one
// response line, and is closed.
type Server struct {
	sink     Sink
	version  string
	listener net.Listener

	mu     sync.Mutex
	closed bool
	conns  sync.WaitGroup
}

// Listen binds the socket at path with 0600 permissions, replacing a stale
// socket left by a previous run.
func Listen(path string, sink Sink, version string) (*Server, error) {
	// A live daemon would still be holding the socket; probe before unlinking.
	if conn, err := net.DialTimeout("unix", path, time.Second); err == nil {
		conn.Close()
		return nil, errors.New("socket already in use, is another wayvid running?")
	}
	os.Remove(path)

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		listener.Close()
		return nil, err
	}

	s := &Server{sink: sink, version: version, listener: listener}
	go s.acceptLoop()
	log.Info().Str("socket", path).Msg("ipc listening")
	return s, nil
}

// Close stops accepting and waits for in-flight connections.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.listener.Close()
	s.conns.Wait()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			log.Warn().Err(err).Msg("ipc accept failed")
			continue
		}
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.serve(conn)
		}()
	}
}

func (s *Server) serve(conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(readTimeout))

	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil || req.Type == "" {
		s.write(conn, errResponse(ErrBadRequest))
		return
	}

	s.write(conn, s.handle(req))
}

// write emits exactly one complete response line. Marshalling happens before
// any byte is written so a partial line can never reach the client.
func (s *Server) write(conn net.Conn, resp any) {
	data, err := json.Marshal(resp)
	if err != nil {
		data, _ = json.Marshal(errResponse(ErrInternal))
	}
	conn.SetWriteDeadline(time.Now().Add(readTimeout))
	conn.Write(append(data, '\n'))
}

func (s *Server) handle(req Request) any {
	switch req.Type {
	case "ping":
		return Response{Type: "pong"}

	case "status":
		reply := make(chan types.Status, 1)
		if resp, ok := s.send(control.GetStatus{Reply: reply}); !ok {
			return resp
		}
		select {
		case status := <-reply:
			return StatusResponse{
				Type:    "status",
				Running: status.Running,
				Version: s.version,
				Outputs: status.Outputs,
			}
		case <-time.After(replyTimeout):
			return errResponse(ErrBusy)
		}

	case "outputs":
		reply := make(chan []types.OutputInfo, 1)
		if resp, ok := s.send(control.GetOutputs{Reply: reply}); !ok {
			return resp
		}
		select {
		case outputs := <-reply:
			return OutputsResponse{Type: "outputs", Outputs: outputs}
		case <-time.After(replyTimeout):
			return errResponse(ErrBusy)
		}

	case "apply":
		if req.Path == "" {
			return errResponse(ErrBadRequest)
		}
		cmd := control.ApplyWallpaper{Output: req.Output}
		info, err := os.Stat(req.Path)
		cmd.Source = types.SourceFromPath(req.Path, err == nil && info.IsDir())
		if req.Mode != "" {
			mode, err := types.ParseLayoutMode(req.Mode)
			if err != nil {
				return errResponse(ErrBadRequest)
			}
			cmd.Layout = &mode
		}
		if resp, ok := s.send(cmd); !ok {
			return resp
		}
		return okResponse("applied " + cmd.Source.Display())

	case "pause":
		if resp, ok := s.send(control.Pause{Output: req.Output}); !ok {
			return resp
		}
		return okResponse("paused")

	case "resume":
		if resp, ok := s.send(control.Resume{Output: req.Output}); !ok {
			return resp
		}
		return okResponse("resumed")

	case "stop":
		if resp, ok := s.send(control.ClearWallpaper{Output: req.Output}); !ok {
			return resp
		}
		return okResponse("stopped")

	case "set_volume":
		if req.Output == "" || req.Volume == nil || *req.Volume < 0 || *req.Volume > 1 {
			return errResponse(ErrBadRequest)
		}
		if resp, ok := s.send(control.SetVolume{Output: req.Output, Volume: *req.Volume}); !ok {
			return resp
		}
		return okResponse("volume set")

	case "set_rate":
		if req.Output == "" || req.Rate == nil {
			return errResponse(ErrBadRequest)
		}
		if resp, ok := s.send(control.SetPlaybackRate{Output: req.Output, Rate: *req.Rate}); !ok {
			return resp
		}
		return okResponse("rate set")

	case "seek":
		if req.Output == "" || req.Time == nil {
			return errResponse(ErrBadRequest)
		}
		if resp, ok := s.send(control.Seek{Output: req.Output, TimeSeconds: *req.Time}); !ok {
			return resp
		}
		return okResponse("seeked")

	case "quit":
		if resp, ok := s.send(control.Quit{}); !ok {
			return resp
		}
		return okResponse("quitting")

	default:
		return errResponse(ErrBadRequest)
	}
}

// send forwards a command, mapping channel backpressure to the busy error.
func (s *Server) send(cmd control.Command) (Response, bool) {
	switch err := s.sink.Send(cmd); {
	case err == nil:
		return Response{}, true
	case errors.Is(err, control.ErrBusy):
		return errResponse(ErrBusy), false
	default:
		return errResponse(ErrInternal), false
	}
}
