//go:build windows

package platform

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"syscall"
	"time"
	"unsafe"

	"github.com/atotto/clipboard"
	"github.com/lxn/win"
	"github.com/micmonay/keybd_event"
	"go.uber.org/zap"
)

// Обёртки для функций, которых может не быть в lxn/win
var (
	user32                  = syscall.NewLazyDLL("user32.dll")
	kernel32                = syscall.NewLazyDLL("kernel32.dll")
	procSetWindowsHookExW   = user32.NewProc("SetWindowsHookExW")
	procUnhookWindowsHookEx = user32.NewProc("UnhookWindowsHookEx")
	procCallNextHookEx      = user32.NewProc("CallNextHookEx")
	procPostThreadMessageW  = user32.NewProc("PostThreadMessageW")
	procKeybdEvent          = user32.NewProc("keybd_event")
	procGetCurrentThreadId  = kernel32.NewProc("GetCurrentThreadId")
)

const (
	whKeyboardLL     = 13
	llkhfInjected    = 0x10
	keyeventfKeyUp   = 0x0002
	pasteSettleDelay = 80 * time.Millisecond
	pasteRestoreWait = 120 * time.Millisecond
)

type kbdllHookStruct struct {
	VkCode      uint32
	ScanCode    uint32
	Flags       uint32
	Time        uint32
	DwExtraInfo uintptr
}

// windowsKeys имена клавиш в стиле pynput → virtual-key код.
var windowsKeys = map[string]uint32{
	"pause":        win.VK_PAUSE,
	"scroll_lock":  win.VK_SCROLL,
	"print_screen": win.VK_SNAPSHOT,
	"insert":       win.VK_INSERT,
	"delete":       win.VK_DELETE,
	"home":         win.VK_HOME,
	"end":          win.VK_END,
	"page_up":      win.VK_PRIOR,
	"page_down":    win.VK_NEXT,
	"caps_lock":    win.VK_CAPITAL,
	"menu":         win.VK_APPS,
	"ctrl":         win.VK_CONTROL,
	"ctrl_l":       win.VK_LCONTROL,
	"ctrl_r":       win.VK_RCONTROL,
	"alt":          win.VK_MENU,
	"alt_l":        win.VK_LMENU,
	"alt_r":        win.VK_RMENU,
	"shift":        win.VK_SHIFT,
	"shift_l":      win.VK_LSHIFT,
	"shift_r":      win.VK_RSHIFT,
	"cmd":          win.VK_LWIN,
	"cmd_l":        win.VK_LWIN,
	"cmd_r":        win.VK_RWIN,
}

// ResolveKey переводит имя клавиши (pause, f13, shift_r, одиночный символ) в VK-код.
func ResolveKey(name string) (uint32, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if vk, ok := windowsKeys[n]; ok {
		return vk, nil
	}
	var fn int
	if _, err := fmt.Sscanf(n, "f%d", &fn); err == nil && fn >= 1 && fn <= 24 && n == fmt.Sprintf("f%d", fn) {
		return uint32(win.VK_F1 + fn - 1), nil
	}
	if len(n) == 1 {
		c := n[0]
		switch {
		case c >= 'a' && c <= 'z':
			return uint32(c - 'a' + 'A'), nil
		case c >= '0' && c <= '9':
			return uint32(c), nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownKey, name)
}

type windowsHandler struct {
	logger *zap.SugaredLogger
	relays relays
	// подменяются в тестах
	readClipboard  func() (string, error)
	writeClipboard func(string) error
	pressKeys      func(ctrl bool, vk int) error
	settleDelay    time.Duration
	restoreWait    time.Duration
}

// New возвращает драйвер на low-level хуке клавиатуры и вставке через буфер обмена.
func New(logger *zap.SugaredLogger) (Handler, error) {
	return &windowsHandler{
		logger:         logger,
		readClipboard:  clipboard.ReadAll,
		writeClipboard: clipboard.WriteAll,
		pressKeys:      pressKeys,
		settleDelay:    pasteSettleDelay,
		restoreWait:    pasteRestoreWait,
	}, nil
}

func (h *windowsHandler) StartListening(ctx context.Context, key string, cb KeyCallback) error {
	vk, err := ResolveKey(key)
	if err != nil {
		return err
	}
	r := h.relays.begin()
	defer h.relays.end(r)

	events := make(chan bool, 64)
	ready := make(chan error, 1)
	pumpDone := make(chan struct{})
	var threadID uintptr

	go func() {
		defer close(pumpDone)
		// хук и цикл сообщений должны жить в закреплённом системном потоке
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		proc := syscall.NewCallback(func(nCode, wParam, lParam uintptr) uintptr {
			if int32(nCode) == 0 {
				kb := (*kbdllHookStruct)(unsafe.Pointer(lParam))
				if kb.VkCode == vk && kb.Flags&llkhfInjected == 0 {
					switch uint32(wParam) {
					case win.WM_KEYDOWN, win.WM_SYSKEYDOWN:
						// хук нельзя блокировать: Windows снимет его по таймауту
						select {
						case events <- true:
						default:
						}
					case win.WM_KEYUP, win.WM_SYSKEYUP:
						select {
						case events <- false:
						default:
						}
					}
				}
			}
			ret, _, _ := procCallNextHookEx.Call(0, nCode, wParam, lParam)
			return ret
		})

		// создаём очередь сообщений потока до PostThreadMessage
		var msg win.MSG
		win.PeekMessage(&msg, 0, win.WM_USER, win.WM_USER, win.PM_NOREMOVE)
		threadID, _, _ = procGetCurrentThreadId.Call()

		hook, _, callErr := procSetWindowsHookExW.Call(whKeyboardLL, proc, uintptr(win.GetModuleHandle(nil)), 0)
		if hook == 0 {
			ready <- fmt.Errorf("SetWindowsHookEx: %w", callErr)
			return
		}
		defer procUnhookWindowsHookEx.Call(hook)
		ready <- nil

		for {
			r := win.GetMessage(&msg, 0, 0, 0)
			if r == 0 || r == -1 { // WM_QUIT или ошибка
				return
			}
			win.TranslateMessage(&msg)
			win.DispatchMessage(&msg)
		}
	}()

	if err := <-ready; err != nil {
		return err
	}
	h.logger.Infow("Listening for push-to-talk key", "key", key, "vk", vk)

	r.run(ctx, events, cb)
	r.stop()

	procPostThreadMessageW.Call(threadID, win.WM_QUIT, 0, 0)
	select {
	case <-pumpDone:
	case <-time.After(time.Second):
		h.logger.Warnw("Keyboard hook thread did not exit in time")
	}
	return nil
}

func (h *windowsHandler) StopListening() {
	h.relays.stop()
}

// TypeText вставляет текст через буфер обмена (Ctrl+V) и восстанавливает прежнее содержимое.
func (h *windowsHandler) TypeText(text string, pressEnter bool) {
	if text == "" {
		return
	}
	orig, readErr := h.readClipboard()
	if err := h.writeClipboard(text); err != nil {
		h.logger.Errorw("Failed to write clipboard", "error", err)
		return
	}
	defer h.restoreClipboard(orig, readErr)
	time.Sleep(h.settleDelay)

	if err := h.pressKeys(true, keybd_event.VK_V); err != nil {
		h.logger.Errorw("Failed to paste text", "error", err)
		return
	}
	if pressEnter {
		if err := h.pressKeys(false, keybd_event.VK_ENTER); err != nil {
			h.logger.Errorw("Failed to press Enter", "error", err)
		}
	}
}

// restoreClipboard возвращает прежний текст буфера. Если прочитать его не удалось
// (пусто или не текст), транскрипт остаётся в буфере.
func (h *windowsHandler) restoreClipboard(orig string, readErr error) {
	if readErr != nil {
		h.logger.Debugw("Clipboard had no text to restore", "error", readErr)
		return
	}
	// вставка читает буфер асинхронно
	time.Sleep(h.restoreWait)
	if err := h.writeClipboard(orig); err != nil {
		h.logger.Warnw("Failed to restore clipboard", "error", err)
	}
}

func pressKeys(ctrl bool, vk int) error {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return fmt.Errorf("init keyboard emulation: %w", err)
	}
	kb.HasCTRL(ctrl)
	kb.SetKeys(vk)
	return kb.Launching()
}

func (h *windowsHandler) ReleaseKey(key string) {
	if strings.TrimSpace(key) == "" {
		return
	}
	vk, err := ResolveKey(key)
	if err != nil {
		h.logger.Warnw("Failed to release key", "key", key, "error", err)
		return
	}
	procKeybdEvent.Call(uintptr(vk), 0, keyeventfKeyUp, 0)
}
