package session

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"liftbank/config"
	"liftbank/elevator"
	"liftbank/indicator"
	"liftbank/timer"
	"liftbank/types"
	"liftbank/wsproto"

	"github.com/rs/zerolog"
)

type taskRecord struct {
	Motor  int
	Floor  int
	Action string
	Status string
}

/*
 * Command side of the stream protocol: accepts one client at a
 * time, upgrades the stream, and answers every command with a
 * processing/completed envelope pair. The task registry outlives
 * individual connections, so a reconnecting client can still query
 * an old task id.
 */
type Server struct {
	cfg     config.Config
	manager *elevator.Manager
	ind     indicator.Indicator
	log     *zerolog.Logger

	mu    sync.Mutex
	tasks map[int]*taskRecord
	holds map[int]*timer.Hold
}

func NewServer(cfg config.Config, manager *elevator.Manager, ind indicator.Indicator, log *zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		manager: manager,
		ind:     ind,
		log:     log,
		tasks:   make(map[int]*taskRecord),
		holds:   make(map[int]*timer.Hold),
	}
}

/*
 * Accept clients until stop closes. A lost client degrades the
 * indicator and returns to accepting; it never ends the loop.
 */
func (s *Server) Run(stop <-chan struct{}) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.StreamPort))
	if err != nil {
		return fmt.Errorf("listening on stream port: %w", err)
	}

	go func() {
		<-stop
		listener.Close()
	}()

	s.log.Info().Int("port", s.cfg.StreamPort).Msg("Stream server listening")

	for {
		s.ind.SetMode(indicator.MODE_CONNECTING)

		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-stop:
				return nil
			default:
				s.log.Warn().Err(err).Msg("Accept failed")
				continue
			}
		}

		s.Serve(conn)
	}
}

/*
 * Upgrade one accepted stream and run its read loop until the
 * client disconnects. Malformed commands are answered with an
 * error envelope on the open connection.
 */
func (s *Server) Serve(conn net.Conn) {
	ws, err := wsproto.Server(conn)
	if err != nil {
		s.log.Warn().Err(err).Msg("Handshake failed")
		conn.Close()
		s.ind.SetMode(indicator.MODE_NOT_CONNECTED)
		return
	}

	defer ws.Close()

	s.ind.SetMode(indicator.MODE_CONNECTED)
	s.log.Info().Str("peer", conn.RemoteAddr().String()).Msg("Client connected")

	for {
		raw, err := ws.ReadMessage()
		if err != nil {
			if errors.Is(err, wsproto.ErrConnectionClosed) {
				s.log.Info().Msg("Client disconnected")
			} else {
				s.log.Warn().Err(err).Msg("Read failed")
			}
			s.ind.SetMode(indicator.MODE_NOT_CONNECTED)
			return
		}

		cmd, err := types.ParseCommand([]byte(raw), s.cfg.NumFloors, s.cfg.NumElevators)
		if err != nil {
			s.log.Warn().Err(err).Str("raw", raw).Msg("Rejected command")
			s.write(ws, types.NewError(err))
			continue
		}

		switch {
		case cmd.Call != nil:
			go s.handleCall(ws, *cmd.Call)

		case cmd.Task != nil:
			go s.handleTask(ws, *cmd.Task)

		case cmd.Status != nil:
			s.handleStatus(ws, *cmd.Status)

		case cmd.Reset != nil:
			/*
			 * Reset runs on the read loop itself: no further
			 * commands are consumed until the system is back
			 * at floor 1.
			 */
			s.handleReset(ws)
		}
	}
}

func (s *Server) handleCall(ws *wsproto.Conn, call types.CallCommand) {
	processing := types.Envelope{
		Response: &types.Response{
			Type:     types.TYPE_CALL,
			Floor:    &call.Floor,
			Elevator: call.Elevator,
			Status:   types.STATUS_PROCESSING,
		},
	}

	preferred := -1
	if call.Elevator != nil {
		preferred = *call.Elevator
	}

	done, err := s.manager.SubmitCall(call.Floor, preferred)
	if err != nil {
		s.write(ws, types.NewError(err))
		return
	}

	s.write(ws, processing)

	result := <-done
	if result.Err != nil {
		s.write(ws, types.NewError(result.Err))
		return
	}

	s.write(ws, types.NewResponse(types.TYPE_CALL, result.Floor, result.Elevator, types.STATUS_COMPLETED))
	s.holdActive(result.Elevator)
}

/*
 * Keep the serviced elevator active for the configured duration,
 * then clear the flag. A newer call for the same elevator replaces
 * the running hold.
 */
func (s *Server) holdActive(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev := s.holds[id]; prev != nil {
		prev.Cancel()
	}

	s.holds[id] = timer.StartHold(s.cfg.HoldDuration, func() {
		s.manager.Deactivate(id)
	}, nil)
}

func (s *Server) handleTask(ws *wsproto.Conn, task types.TaskCommand) {
	s.mu.Lock()
	record := &taskRecord{Motor: task.Motor, Floor: task.Floor, Action: task.Action, Status: types.STATUS_PROCESSING}
	s.tasks[task.ID] = record
	s.mu.Unlock()

	done, err := s.manager.SendElevator(task.Motor, task.Floor)
	if err != nil {
		s.forgetTask(task.ID)
		s.write(ws, types.NewError(err))
		return
	}

	s.write(ws, types.NewTaskStatus(task.ID, task.Motor, task.Floor, task.Action, types.STATUS_PROCESSING))

	if err := <-done; err != nil {
		s.forgetTask(task.ID)
		s.write(ws, types.NewError(err))
		return
	}

	s.mu.Lock()
	record.Status = types.STATUS_COMPLETED
	s.mu.Unlock()

	s.write(ws, types.NewTaskStatus(task.ID, task.Motor, task.Floor, task.Action, types.STATUS_COMPLETED))
}

func (s *Server) forgetTask(id int) {
	s.mu.Lock()
	delete(s.tasks, id)
	s.mu.Unlock()
}

func (s *Server) handleStatus(ws *wsproto.Conn, query types.StatusCommand) {
	s.mu.Lock()
	record, ok := s.tasks[query.TaskID]
	var snapshot taskRecord
	if ok {
		snapshot = *record
	}
	s.mu.Unlock()

	if !ok {
		s.write(ws, types.NewTaskNotFound(query.TaskID))
		return
	}

	s.write(ws, types.NewTaskStatus(query.TaskID, snapshot.Motor, snapshot.Floor, snapshot.Action, snapshot.Status))
}

func (s *Server) handleReset(ws *wsproto.Conn) {
	s.write(ws, types.NewResponse(types.TYPE_RESET, 1, 0, types.STATUS_PROCESSING))

	if err := s.manager.ResetAll(); err != nil {
		s.write(ws, types.NewError(err))
		return
	}

	s.mu.Lock()
	for id, hold := range s.holds {
		hold.Cancel()
		delete(s.holds, id)
	}
	s.mu.Unlock()

	s.write(ws, types.NewResponse(types.TYPE_RESET, 1, 0, types.STATUS_COMPLETED))
}

/*
 * Responses race the connection closing; a failed write only means
 * the client is gone, which the read loop reports on its own.
 */
func (s *Server) write(ws *wsproto.Conn, envelope types.Envelope) {
	if err := ws.WriteMessage(string(envelope.ToJson())); err != nil {
		s.log.Debug().Err(err).Msg("Dropped response")
	}
}
