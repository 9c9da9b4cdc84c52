// Package chatroom implements the chat room extension: a WebSocket room
// with claimable nicknames, rate-limited chat, and a math quiz scored by a
// resident bot.
package chatroom

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"

	"github.com/rhymu8354/webserver/diagnostics"
	"github.com/rhymu8354/webserver/host"
	"github.com/rhymu8354/webserver/router"
)

// rejectionBody answers any request to the chat subspace that is not a
// WebSocket upgrade.
const rejectionBody = "Try again, but next time use a WebSocket.  Kthxbye!"

const (
	defaultTellTimeout = 1.0
	defaultMinCoolDown = 10.0
	defaultMaxCoolDown = 30.0
)

type pluginConfig struct {
	Space         string         `json:"space"`
	NickNames     []string       `json:"nicknames"`
	InitialPoints map[string]int `json:"initialPoints"`
	TellTimeout   float64        `json:"tellTimeout"`
	MathQuiz      struct {
		MinCoolDown float64 `json:"minCoolDown"`
		MaxCoolDown float64 `json:"maxCoolDown"`
	} `json:"mathQuiz"`
}

// LoadPlugin is the extension entrypoint. It parses the configuration,
// starts the room, and claims the configured subspace. A nil return means
// the configuration was unusable and nothing was installed.
func LoadPlugin(srv host.Handle, config json.RawMessage,
	diag diagnostics.SinkFunc) (unload func()) {
	var cfg pluginConfig
	if len(config) > 0 {
		if err := json.Unmarshal(config, &cfg); err != nil {
			diag("", diagnostics.LevelError, "unable to parse configuration")
			return nil
		}
	}
	if cfg.Space == "" {
		diag("", diagnostics.LevelError, "no 'space' URI in configuration")
		return nil
	}
	spaceURI, err := url.Parse(cfg.Space)
	if err != nil {
		diag("", diagnostics.LevelError, "unable to parse 'space' URI in configuration")
		return nil
	}
	segments := router.SplitPath(spaceURI.Path)

	room := NewRoom(srv.TimeKeeper(), diag, roomConfigFrom(cfg))
	room.Start()

	upgrader := &websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	unregister := srv.RegisterResource(segments,
		func(r *http.Request, conn router.Connection) *router.Response {
			if !websocket.IsWebSocketUpgrade(r) {
				return rejection()
			}
			ws, err := upgradeWithTrailer(upgrader, r, conn)
			if err != nil {
				return rejection()
			}
			room.Admit(ws)
			return nil
		})

	return func() {
		unregister()
		room.Stop()
		room.Reset()
	}
}

// roomConfigFrom applies the defaults and fixes an inverted cooldown range.
func roomConfigFrom(cfg pluginConfig) RoomConfig {
	roomCfg := RoomConfig{
		NickNames:     cfg.NickNames,
		InitialPoints: cfg.InitialPoints,
		TellTimeout:   cfg.TellTimeout,
		MinCoolDown:   cfg.MathQuiz.MinCoolDown,
		MaxCoolDown:   cfg.MathQuiz.MaxCoolDown,
	}
	if roomCfg.TellTimeout == 0 {
		roomCfg.TellTimeout = defaultTellTimeout
	}
	if roomCfg.MinCoolDown == 0 && roomCfg.MaxCoolDown == 0 {
		roomCfg.MinCoolDown = defaultMinCoolDown
		roomCfg.MaxCoolDown = defaultMaxCoolDown
	}
	if roomCfg.MinCoolDown > roomCfg.MaxCoolDown {
		roomCfg.MinCoolDown, roomCfg.MaxCoolDown = roomCfg.MaxCoolDown, roomCfg.MinCoolDown
	}
	return roomCfg
}

func rejection() *router.Response {
	h := http.Header{}
	h.Set("Content-Type", "text/plain")
	return &router.Response{Headers: h, Body: []byte(rejectionBody)}
}
