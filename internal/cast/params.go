package cast

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/mtahle/torrent-streamer/internal/domain"
)

type Action string

const (
	ActionPlay   Action = "play"
	ActionPause  Action = "pause"
	ActionStop   Action = "stop"
	ActionSeek   Action = "seek"
	ActionVolume Action = "volume"
)

type command struct {
	action   Action
	position float64
	level    int
}

// parseCommand validates an action and its params without touching any
// device.
func parseCommand(action string, params map[string]any) (command, error) {
	cmd := command{action: Action(strings.ToLower(strings.TrimSpace(action)))}
	switch cmd.action {
	case ActionPlay, ActionPause, ActionStop:
		return cmd, nil
	case ActionSeek:
		pos, ok := numberParam(params, "position")
		if !ok || pos < 0 {
			return command{}, domain.NewError(domain.CodeInvalidParameter, "seek requires a numeric position >= 0").
				WithDetail("param", "position")
		}
		cmd.position = pos
		return cmd, nil
	case ActionVolume:
		level, ok := numberParam(params, "level")
		if !ok || level < 0 || level > 100 {
			return command{}, domain.NewError(domain.CodeInvalidParameter, "volume requires a numeric level in [0,100]").
				WithDetail("param", "level")
		}
		cmd.level = int(math.Round(level))
		return cmd, nil
	default:
		return command{}, (&domain.Error{
			Code:           domain.CodeUnsupportedAction,
			Message:        "unsupported cast action " + strconv.Quote(action),
			SuggestedFixes: []string{"Use one of: play, pause, stop, seek, volume."},
		}).WithDetail("action", action)
	}
}

func numberParam(params map[string]any, key string) (float64, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	var (
		n   float64
		err error
	)
	switch t := v.(type) {
	case float64:
		n = t
	case float32:
		n = float64(t)
	case int:
		n = float64(t)
	case int64:
		n = float64(t)
	case json.Number:
		n, err = t.Float64()
	case string:
		n, err = strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		return 0, false
	}
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}
