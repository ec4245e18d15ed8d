//go:build linux

package platform

// Linux: клавиша читается напрямую из /dev/input/event* (evdev), поэтому работает
// и под X11, и под Wayland; пользователю нужны права группы input.
// Ввод текста — через xdotool (X11/XWayland).

import (
	"context"
	"fmt"
	"os/exec"
	"slices"
	"strings"
	"sync"

	"github.com/holoplot/go-evdev"
	"go.uber.org/zap"
)

const (
	keyValueUp   = 0
	keyValueDown = 1
)

// inputDevice часть *evdev.InputDevice, нужная слушателю.
type inputDevice interface {
	Path() string
	Name() (string, error)
	CapableEvents(t evdev.EvType) []evdev.EvCode
	ReadOne() (*evdev.InputEvent, error)
	Close() error
}

type linuxHandler struct {
	logger *zap.SugaredLogger
	relays relays
	// подменяются в тестах
	listDevices func() ([]inputDevice, error)
	lookPath    func(string) (string, error)
	run         func(name string, args ...string) error
}

// New возвращает драйвер evdev + xdotool.
func New(logger *zap.SugaredLogger) (Handler, error) {
	h := &linuxHandler{
		logger:   logger,
		lookPath: exec.LookPath,
		run: func(name string, args ...string) error {
			out, err := exec.Command(name, args...).CombinedOutput()
			if err != nil && len(out) > 0 {
				return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
			}
			return err
		},
	}
	h.listDevices = h.openAllDevices
	return h, nil
}

// ResolveKey переводит имя клавиши evdev (KEY_PAUSE, pause, f13) в код.
func ResolveKey(name string) (evdev.EvCode, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	if n == "" {
		return 0, fmt.Errorf("%w: empty name", ErrUnknownKey)
	}
	if !strings.HasPrefix(n, "KEY_") && !strings.HasPrefix(n, "BTN_") {
		n = "KEY_" + n
	}
	if code, ok := evdev.KEYFromString[n]; ok {
		return code, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownKey, name)
}

// StartListening без устройств ввода не падает: пишет предупреждение и ждёт остановки.
func (h *linuxHandler) StartListening(ctx context.Context, key string, cb KeyCallback) error {
	code, err := ResolveKey(key)
	if err != nil {
		return err
	}
	r := h.relays.begin()
	defer h.relays.end(r)

	devices := h.selectDevices(code)

	events := make(chan bool, 16)
	var wg sync.WaitGroup
	for _, d := range devices {
		wg.Add(1)
		go func(d inputDevice) {
			defer wg.Done()
			h.readDevice(r, d, code, events)
		}(d)
	}

	r.run(ctx, events, cb)

	// Close разблокирует ReadOne в горутинах чтения
	r.stop()
	for _, d := range devices {
		_ = d.Close()
	}
	wg.Wait()
	h.logger.Debugw("Key listener stopped", "key", key)
	return nil
}

// openAllDevices открывает все /dev/input/event*, которые удалось открыть.
func (h *linuxHandler) openAllDevices() ([]inputDevice, error) {
	paths, err := evdev.ListDevicePaths()
	if err != nil {
		return nil, fmt.Errorf("list input devices: %w", err)
	}
	var devices []inputDevice
	for _, p := range paths {
		d, err := evdev.Open(p.Path)
		if err != nil {
			h.logger.Debugw("Skip input device", "path", p.Path, "error", err)
			continue
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// selectDevices оставляет устройства, умеющие нужную клавишу; если таких нет —
// все устройства с клавишами. Остальные закрываются.
func (h *linuxHandler) selectDevices(code evdev.EvCode) []inputDevice {
	all, err := h.listDevices()
	if err != nil {
		h.logger.Warnw("Cannot enumerate input devices", "error", err)
	}

	var matching, keyCapable []inputDevice
	for _, d := range all {
		keys := d.CapableEvents(evdev.EV_KEY)
		switch {
		case slices.Contains(keys, code):
			matching = append(matching, d)
		case len(keys) > 0:
			keyCapable = append(keyCapable, d)
		default:
			_ = d.Close()
		}
	}

	devices := matching
	if len(devices) == 0 {
		devices = keyCapable
	} else {
		for _, d := range keyCapable {
			_ = d.Close()
		}
	}
	if len(devices) == 0 {
		h.logger.Warnw("No input devices found. Ensure you have permission to read /dev/input/event*.")
		return nil
	}
	if len(matching) == 0 {
		h.logger.Warnw("No device reports the push-to-talk key, listening on all keyboards", "devices", len(devices))
	}
	for _, d := range devices {
		name, _ := d.Name()
		h.logger.Infow(fmt.Sprintf("Listening on %s (%s)", d.Path(), name))
	}
	return devices
}

func (h *linuxHandler) readDevice(r *relay, d inputDevice, code evdev.EvCode, events chan<- bool) {
	for {
		ev, err := d.ReadOne()
		if err != nil {
			select {
			case <-r.stopped():
			default:
				h.logger.Warnw("Input device read failed", "path", d.Path(), "error", err)
			}
			return
		}
		if ev.Type != evdev.EV_KEY || ev.Code != code {
			continue
		}
		// 2 — автоповтор, игнорируем
		switch ev.Value {
		case keyValueDown:
			if !r.send(events, true) {
				return
			}
		case keyValueUp:
			if !r.send(events, false) {
				return
			}
		}
	}
}

func (h *linuxHandler) StopListening() {
	h.relays.stop()
}

func (h *linuxHandler) xdotool() (string, bool) {
	path, err := h.lookPath("xdotool")
	if err != nil {
		h.logger.Errorw("xdotool not found. Install it with: sudo apt install xdotool")
		return "", false
	}
	return path, true
}

func (h *linuxHandler) TypeText(text string, pressEnter bool) {
	if text == "" {
		return
	}
	bin, ok := h.xdotool()
	if !ok {
		return
	}
	if err := h.run(bin, "type", "--delay", "0", "--clearmodifiers", "--", text); err != nil {
		h.logger.Errorw("Failed to type text", "error", err)
		return
	}
	if pressEnter {
		if err := h.run(bin, "key", "--clearmodifiers", "Return"); err != nil {
			h.logger.Errorw("Failed to press Enter", "error", err)
		}
	}
}

// ReleaseKey принимает X keysym (Shift_R) или имя evdev (KEY_RIGHTSHIFT → rightshift).
func (h *linuxHandler) ReleaseKey(key string) {
	keysym := strings.TrimSpace(key)
	if keysym == "" {
		return
	}
	if strings.HasPrefix(keysym, "KEY_") {
		keysym = strings.ToLower(strings.TrimPrefix(keysym, "KEY_"))
	}
	bin, ok := h.xdotool()
	if !ok {
		return
	}
	if err := h.run(bin, "keyup", "--clearmodifiers", keysym); err != nil {
		h.logger.Warnw("Failed to release key", "keysym", keysym, "error", err)
	}
}
