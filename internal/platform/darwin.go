//go:build darwin

package platform

// macOS: глобальный хук через gohook (libuiohook), ввод — robotgo.
// Терминалу/бинарю нужны разрешения Accessibility и Input Monitoring.

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-vgo/robotgo"
	hook "github.com/robotn/gohook"
	"go.uber.org/zap"
)

// darwinAliases имена в стиле pynput → имена gohook/robotgo.
var darwinAliases = map[string]string{
	"shift_r":      "rshift",
	"shift_l":      "lshift",
	"ctrl_r":       "rctrl",
	"ctrl_l":       "lctrl",
	"alt_r":        "ralt",
	"alt_l":        "lalt",
	"cmd_r":        "rcmd",
	"cmd_l":        "lcmd",
	"page_up":      "pageup",
	"page_down":    "pagedown",
	"print_screen": "printscreen",
	"scroll_lock":  "scrolllock",
}

// canonicalKey приводит имя к виду robotgo.
func canonicalKey(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if a, ok := darwinAliases[n]; ok {
		return a
	}
	return n
}

// ResolveKey переводит имя клавиши в keycode gohook.
func ResolveKey(name string) (uint16, error) {
	n := canonicalKey(name)
	if code, ok := hook.Keycode[n]; ok {
		return code, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownKey, name)
}

type darwinHandler struct {
	logger *zap.SugaredLogger
	relays relays
}

func New(logger *zap.SugaredLogger) (Handler, error) {
	return &darwinHandler{logger: logger}, nil
}

func (h *darwinHandler) StartListening(ctx context.Context, key string, cb KeyCallback) error {
	code, err := ResolveKey(key)
	if err != nil {
		return err
	}
	r := h.relays.begin()
	defer h.relays.end(r)

	raw := hook.Start()
	defer hook.End()
	h.logger.Infow("Listening for push-to-talk key", "key", key, "keycode", code)

	events := make(chan bool, 16)
	go func() {
		for ev := range raw {
			if ev.Keycode != code {
				continue
			}
			var ok bool
			switch ev.Kind {
			case hook.KeyHold:
				ok = r.send(events, true)
			case hook.KeyUp:
				ok = r.send(events, false)
			default:
				continue
			}
			if !ok {
				return
			}
		}
	}()

	r.run(ctx, events, cb)
	return nil
}

func (h *darwinHandler) StopListening() {
	h.relays.stop()
}

func (h *darwinHandler) TypeText(text string, pressEnter bool) {
	if text == "" {
		return
	}
	robotgo.TypeStr(text)
	if pressEnter {
		if err := robotgo.KeyTap("enter"); err != nil {
			h.logger.Errorw("Failed to press Enter", "error", err)
		}
	}
}

func (h *darwinHandler) ReleaseKey(key string) {
	if strings.TrimSpace(key) == "" {
		return
	}
	if err := robotgo.KeyToggle(canonicalKey(key), "up"); err != nil {
		h.logger.Warnw("Failed to release key", "key", key, "error", err)
	}
}
