package input

import (
	"github.com/eiannone/keyboard"
	"github.com/rs/zerolog"
)

type EventKind int

const (
	EVENT_CALL EventKind = iota
	EVENT_PANEL
	EVENT_RESET
)

/*
 * One button press. Floor is 1-based and only meaningful for call
 * and panel events.
 */
type Event struct {
	Kind  EventKind
	Floor int
}

/*
 * Anything that can produce button presses: a console keyboard, a
 * test stub, or a GPIO matrix on real hardware.
 */
type Source interface {
	Events() <-chan Event
	Close() error
}

/* Panel keys for floors 1..n, to the left of the number row. */
var PANEL_KEYS = []rune{'q', 'w', 'e', 'r', 't', 'y', 'u', 'i', 'o'}

const RESET_KEY = 'x'

/*
 * Console-backed button board. Number keys are hall calls, the top
 * letter row is the cabin panel, 'x' is reset. Esc or Ctrl-C stops
 * the read loop.
 */
type Keyboard struct {
	numFloors int
	events    chan Event
	log       *zerolog.Logger
}

func NewKeyboard(numFloors int, log *zerolog.Logger) (*Keyboard, error) {
	if err := keyboard.Open(); err != nil {
		return nil, err
	}

	source := &Keyboard{
		numFloors: numFloors,
		events:    make(chan Event),
		log:       log,
	}

	go source.readLoop()

	return source, nil
}

func (k *Keyboard) Events() <-chan Event {
	return k.events
}

func (k *Keyboard) Close() error {
	return keyboard.Close()
}

func (k *Keyboard) readLoop() {
	defer close(k.events)

	for {
		char, key, err := keyboard.GetKey()
		if err != nil {
			k.log.Debug().Err(err).Msg("Keyboard closed")
			return
		}

		if key == keyboard.KeyEsc || key == keyboard.KeyCtrlC {
			return
		}

		event, ok := k.mapKey(char)
		if !ok {
			continue
		}

		k.events <- event
	}
}

func (k *Keyboard) mapKey(char rune) (Event, bool) {
	if char == RESET_KEY {
		return Event{Kind: EVENT_RESET}, true
	}

	if char >= '1' && char <= '9' {
		floor := int(char - '0')
		if floor <= k.numFloors {
			return Event{Kind: EVENT_CALL, Floor: floor}, true
		}
		return Event{}, false
	}

	for i, panelKey := range PANEL_KEYS {
		if char == panelKey && i < k.numFloors {
			return Event{Kind: EVENT_PANEL, Floor: i + 1}, true
		}
	}

	return Event{}, false
}
