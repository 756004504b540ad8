package indicator

import (
	"github.com/rs/zerolog"
)

type Mode string

const MODE_IDLE Mode = "idle"
const MODE_WIFI_CONNECT Mode = "wifi_connect"
const MODE_PAIRING Mode = "pairing"
const MODE_CONNECTING Mode = "connecting"
const MODE_CONNECTED Mode = "connected"
const MODE_NOT_CONNECTED Mode = "not_connected"

/*
 * Passive status indicator, one per board. Implementations only
 * reflect state; they never feed anything back.
 */
type Indicator interface {
	SetMode(mode Mode)
}

/*
 * A single on/off lamp, e.g. one call or panel light.
 */
type Lamp interface {
	Set(on bool)
}

type LogIndicator struct {
	log  *zerolog.Logger
	name string
}

func NewLogIndicator(log *zerolog.Logger, name string) *LogIndicator {
	return &LogIndicator{log: log, name: name}
}

func (li *LogIndicator) SetMode(mode Mode) {
	li.log.Info().Str("indicator", li.name).Str("mode", string(mode)).Msg("Indicator mode changed")
}

type LogLamp struct {
	log  *zerolog.Logger
	name string
}

func NewLogLamp(log *zerolog.Logger, name string) *LogLamp {
	return &LogLamp{log: log, name: name}
}

func (ll *LogLamp) Set(on bool) {
	ll.log.Debug().Str("lamp", ll.name).Bool("on", on).Msg("Lamp switched")
}
