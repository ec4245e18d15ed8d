package platform

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrUnknownKey имя клавиши не распознано драйвером платформы.
	ErrUnknownKey = errors.New("platform: unknown key")
	// ErrUnsupported для этой ОС нет реализации.
	ErrUnsupported = errors.New("platform: unsupported operating system")
)

// PollInterval максимальная задержка реакции циклов платформы на остановку.
const PollInterval = 100 * time.Millisecond

// KeyCallback получает переходы клавиши: true — нажата, false — отпущена.
type KeyCallback func(pressed bool)

// Listener слушает одну глобальную клавишу.
type Listener interface {
	// StartListening блокирует до StopListening или отмены ctx.
	// Колбэк вызывается в горутине StartListening, по одному переходу за раз.
	StartListening(ctx context.Context, key string, cb KeyCallback) error
	// StopListening идемпотентна и безопасна из любой горутины.
	StopListening()
}

// Injector печатает текст в окно, которое сейчас в фокусе.
type Injector interface {
	// TypeText печатает text и при pressEnter нажимает Enter. Ошибки только логируются.
	TypeText(text string, pressEnter bool)
	// ReleaseKey отправляет синтетическое отпускание клавиши, чтобы удерживаемый
	// модификатор не исказил ввод.
	ReleaseKey(key string)
}

// Handler драйвер платформы: слушатель и инжектор вместе.
type Handler interface {
	Listener
	Injector
}

// relay доставляет сырые события драйвера в колбэк на горутине слушателя.
// Повторы (автоповтор нажатия, лишнее отпускание) отбрасываются.
type relay struct {
	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

func newRelay() *relay {
	return &relay{done: make(chan struct{})}
}

func (r *relay) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		close(r.done)
		r.closed = true
	}
}

func (r *relay) stopped() <-chan struct{} { return r.done }

// relays хранит relay активного StartListening: каждый вызов получает свой,
// поэтому слушатель можно запускать повторно после остановки.
type relays struct {
	mu  sync.Mutex
	cur *relay
}

// begin заводит relay для нового вызова StartListening.
func (rs *relays) begin() *relay {
	r := newRelay()
	rs.mu.Lock()
	rs.cur = r
	rs.mu.Unlock()
	return r
}

// end останавливает r и забывает его, если он ещё текущий.
func (rs *relays) end(r *relay) {
	r.stop()
	rs.mu.Lock()
	if rs.cur == r {
		rs.cur = nil
	}
	rs.mu.Unlock()
}

// stop останавливает текущий relay; без активного слушателя ничего не делает.
func (rs *relays) stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.cur != nil {
		rs.cur.stop()
	}
}

// run блокирует до stop, отмены ctx или закрытия events.
func (r *relay) run(ctx context.Context, events <-chan bool, cb KeyCallback) {
	pressed := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case down, ok := <-events:
			if !ok {
				return
			}
			if down == pressed {
				continue
			}
			pressed = down
			cb(down)
		}
	}
}

// send ждёт место в канале, но не дольше остановки relay.
func (r *relay) send(events chan<- bool, down bool) bool {
	select {
	case events <- down:
		return true
	case <-r.done:
		return false
	}
}
