package session

import (
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"liftbank/config"
	"liftbank/indicator"
	"liftbank/input"
	"liftbank/timer"
	"liftbank/types"
	"liftbank/wsproto"

	"github.com/rs/zerolog"
)

/*
 * Panel side of the stream protocol: turns button presses into
 * commands and server responses into lamp state. Panel presses are
 * only forwarded for elevators inside an active hold; pressing a
 * destination in an elevator nobody has called does nothing.
 */
type Client struct {
	cfg       config.Config
	source    input.Source
	ind       indicator.Indicator
	callLamps []indicator.Lamp
	log       *zerolog.Logger

	mu         sync.Mutex
	holds      map[int]*timer.Hold
	nextTaskID int
	lastTaskID int
}

func NewClient(
	cfg config.Config,
	source input.Source,
	ind indicator.Indicator,
	callLamps []indicator.Lamp,
	log *zerolog.Logger,
) *Client {
	if len(callLamps) != cfg.NumFloors {
		panic("session: need one call lamp per floor")
	}

	return &Client{
		cfg:        cfg,
		source:     source,
		ind:        ind,
		callLamps:  callLamps,
		log:        log,
		holds:      make(map[int]*timer.Hold),
		nextTaskID: 1,
	}
}

/*
 * Connect to the paired server and stay connected: a lost stream
 * is re-dialed after the configured backoff, forever, until stop
 * closes or the input source is exhausted.
 */
func (c *Client) Run(host string, stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		c.ind.SetMode(indicator.MODE_CONNECTING)

		conn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", host, c.cfg.StreamPort))
		if err != nil {
			c.log.Warn().Err(err).Str("host", host).Msg("Dial failed")
			c.ind.SetMode(indicator.MODE_NOT_CONNECTED)
			c.sleep(stop)
			continue
		}

		ws, err := wsproto.Client(conn, host)
		if err != nil {
			c.log.Warn().Err(err).Msg("Handshake failed")
			conn.Close()
			c.ind.SetMode(indicator.MODE_NOT_CONNECTED)
			c.sleep(stop)
			continue
		}

		c.ind.SetMode(indicator.MODE_CONNECTED)
		c.log.Info().Str("host", host).Msg("Stream connected")

		quit := c.session(ws, stop)

		ws.Close()
		c.clearHolds()
		c.ind.SetMode(indicator.MODE_NOT_CONNECTED)

		if quit {
			return nil
		}

		c.sleep(stop)
	}
}

func (c *Client) sleep(stop <-chan struct{}) {
	select {
	case <-stop:
	case <-time.After(c.cfg.ReconnectBackoff):
	}
}

/*
 * One connection's lifetime. Returns true when the client should
 * shut down instead of reconnecting.
 */
func (c *Client) session(ws *wsproto.Conn, stop <-chan struct{}) bool {
	lost := make(chan struct{})

	go func() {
		defer close(lost)

		for {
			raw, err := ws.ReadMessage()
			if err != nil {
				c.log.Info().Err(err).Msg("Stream closed")
				return
			}
			c.handleEnvelope(raw)
		}
	}()

	for {
		select {
		case <-stop:
			return true

		case <-lost:
			return false

		case event, ok := <-c.source.Events():
			if !ok {
				c.log.Info().Msg("Input source closed")
				return true
			}

			for _, cmd := range c.commandsFor(event) {
				if err := c.send(ws, cmd); err != nil {
					c.log.Warn().Err(err).Msg("Send failed")
					return false
				}
			}
		}
	}
}

/*
 * Map a press to zero or more commands. A panel press fans out to
 * one task per currently active elevator.
 */
func (c *Client) commandsFor(event input.Event) []types.Command {
	switch event.Kind {
	case input.EVENT_CALL:
		c.log.Info().Int("floor", event.Floor).Msg("Call pressed")
		return []types.Command{{Call: &types.CallCommand{Floor: event.Floor}}}

	case input.EVENT_PANEL:
		active := c.activeElevators()
		if len(active) == 0 {
			c.log.Debug().Int("floor", event.Floor).Msg("Panel press ignored, no active elevator")
			return nil
		}

		var commands []types.Command
		for _, id := range active {
			taskID := c.claimTaskID()
			c.log.Info().Int("task_id", taskID).Int("motor", id).Int("floor", event.Floor).Msg("Panel pressed")
			commands = append(commands, types.Command{Task: &types.TaskCommand{
				ID:     taskID,
				Motor:  id,
				Floor:  event.Floor,
				Action: types.ACTION_MOVE,
			}})
		}
		return commands

	case input.EVENT_RESET:
		c.log.Info().Msg("Reset pressed")
		return []types.Command{{Reset: &types.ResetCommand{}}}
	}

	return nil
}

func (c *Client) send(ws *wsproto.Conn, cmd types.Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		panic(err)
	}

	return ws.WriteMessage(string(payload))
}

func (c *Client) handleEnvelope(raw string) {
	envelope, err := types.ParseEnvelope([]byte(raw))
	if err != nil {
		c.log.Warn().Err(err).Str("raw", raw).Msg("Malformed envelope")
		return
	}

	if envelope.Error != "" {
		c.log.Error().Str("server", envelope.Error).Msg("Command rejected")
		return
	}

	response := envelope.Response
	if response == nil {
		return
	}

	switch {
	case response.Type == types.TYPE_CALL && response.Floor != nil:
		c.handleCallResponse(*response)

	case response.Type == types.TYPE_RESET && response.Status == types.STATUS_COMPLETED:
		c.log.Info().Msg("Reset completed")
		c.clearHolds()

	case response.TaskID != nil:
		c.log.Info().Int("task_id", *response.TaskID).Str("status", response.Status).Msg("Task update")
	}
}

/*
 * Processing lights the call lamp; completion starts the active
 * hold, whose teardown turns the lamp back off.
 */
func (c *Client) handleCallResponse(response types.Response) {
	floor := *response.Floor

	switch response.Status {
	case types.STATUS_PROCESSING:
		c.callLamps[floor-1].Set(true)

	case types.STATUS_COMPLETED:
		if response.Elevator == nil {
			return
		}
		c.log.Info().Int("elevator", *response.Elevator).Int("floor", floor).Msg("Call completed")
		c.activate(*response.Elevator, floor)
	}
}

func (c *Client) activate(id int, floor int) {
	c.mu.Lock()
	prev := c.holds[id]
	c.mu.Unlock()

	if prev != nil {
		prev.Cancel()
	}

	hold := timer.StartHold(c.cfg.HoldDuration, nil, func() {
		c.callLamps[floor-1].Set(false)
	})

	c.mu.Lock()
	c.holds[id] = hold
	c.mu.Unlock()
}

/*
 * Elevators whose hold has neither expired nor been cancelled,
 * in id order.
 */
func (c *Client) activeElevators() []int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var active []int
	for id, hold := range c.holds {
		if !hold.Done() {
			active = append(active, id)
		}
	}

	sort.Ints(active)
	return active
}

func (c *Client) clearHolds() {
	c.mu.Lock()
	holds := c.holds
	c.holds = make(map[int]*timer.Hold)
	c.mu.Unlock()

	for _, hold := range holds {
		hold.Cancel()
	}

	for _, lamp := range c.callLamps {
		lamp.Set(false)
	}
}

func (c *Client) claimTaskID() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextTaskID
	c.nextTaskID++
	c.lastTaskID = id
	return id
}

/*
 * Id of the most recently issued task, 0 before the first one.
 */
func (c *Client) LastTaskID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTaskID
}
