package ptt

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"go.uber.org/zap"

	"SpeechToCLI/internal/platform"
	"SpeechToCLI/internal/service/audio"
	"SpeechToCLI/internal/service/notify"
)

type fakeRecorder struct {
	mu        sync.Mutex
	capturing bool
	startErr  error
	frames    audio.Frames
	exceeded  bool
	starts    int
	stops     int
}

func (r *fakeRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	if !r.capturing {
		r.starts++
	}
	r.capturing = true
	return nil
}

func (r *fakeRecorder) Stop() (audio.Frames, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.capturing {
		return audio.Frames{}, false
	}
	r.capturing = false
	r.stops++
	if len(r.frames.Samples) == 0 {
		return audio.Frames{}, false
	}
	return r.frames, true
}

func (r *fakeRecorder) HasExceeded(time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capturing && r.exceeded
}

func (r *fakeRecorder) setExceeded(v bool) {
	r.mu.Lock()
	r.exceeded = v
	r.mu.Unlock()
}

func (r *fakeRecorder) counts() (starts, stops int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.stops
}

type typed struct {
	text  string
	enter bool
}

type fakePlatform struct {
	mu        sync.Mutex
	cb        platform.KeyCallback
	listenCh  chan struct{}
	stop      chan struct{} // канал текущего StartListening
	listenErr error
	calls     []string // порядок вызовов ReleaseKey/TypeText
	typed     []typed
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{listenCh: make(chan struct{}, 4)}
}

func (p *fakePlatform) StartListening(ctx context.Context, _ string, cb platform.KeyCallback) error {
	if p.listenErr != nil {
		return p.listenErr
	}
	stop := make(chan struct{})
	p.mu.Lock()
	p.cb = cb
	p.stop = stop
	p.mu.Unlock()
	p.listenCh <- struct{}{}
	select {
	case <-ctx.Done():
	case <-stop:
	}
	p.mu.Lock()
	if p.stop == stop {
		p.stop = nil
	}
	p.mu.Unlock()
	return nil
}

func (p *fakePlatform) StopListening() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
}

func (p *fakePlatform) TypeText(text string, pressEnter bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "type")
	p.typed = append(p.typed, typed{text: text, enter: pressEnter})
}

func (p *fakePlatform) ReleaseKey(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "release:"+key)
}

func (p *fakePlatform) snapshot() ([]typed, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]typed(nil), p.typed...), append([]string(nil), p.calls...)
}

type fakeTranscriber struct {
	text  string
	calls atomic.Int32
	block chan struct{}

	mu    sync.Mutex
	paths []string
	check func(path string)
}

func (f *fakeTranscriber) Transcribe(_ context.Context, path string) string {
	f.calls.Add(1)
	f.mu.Lock()
	f.paths = append(f.paths, path)
	check := f.check
	f.mu.Unlock()
	if check != nil {
		check(path)
	}
	if f.block != nil {
		<-f.block
	}
	return f.text
}

type fakeNotifier struct {
	mu   sync.Mutex
	cues []notify.Cue
}

func (n *fakeNotifier) Notify(c notify.Cue) {
	n.mu.Lock()
	n.cues = append(n.cues, c)
	n.mu.Unlock()
}

func testConfig(t *testing.T) Config {
	return Config{
		Key:              "KEY_RIGHTSHIFT",
		ReleaseKey:       "Shift_R",
		PressEnter:       true,
		SampleRate:       16000,
		MaxDuration:      time.Minute,
		WatchdogInterval: 5 * time.Millisecond,
		ShutdownTimeout:  time.Second,
		TempDir:          t.TempDir(),
	}
}

func someFrames() audio.Frames {
	return audio.Frames{Samples: make([]float32, 1600), Channels: 1}
}

func newTestDaemon(t *testing.T, cfg Config, rec Recorder, tr *fakeTranscriber) (*Daemon, *fakePlatform) {
	t.Helper()
	p := newFakePlatform()
	return New(cfg, rec, p, tr, nil, zap.NewNop().Sugar()), p
}

func tempFiles(t *testing.T, dir string) []string {
	t.Helper()
	m, err := filepath.Glob(filepath.Join(dir, "ptt_*.wav"))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestKeyDownUpTypesTranscript(t *testing.T) {
	cfg := testConfig(t)
	rec := &fakeRecorder{frames: someFrames()}
	tr := &fakeTranscriber{text: "hello world"}
	d, p := newTestDaemon(t, cfg, rec, tr)
	n := &fakeNotifier{}
	d.notifier = n

	tr.check = func(path string) {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("audio file missing during transcription: %v", err)
		}
	}

	d.handleKey(true)
	if d.State() != StateRecording {
		t.Fatalf("state = %v, want recording", d.State())
	}
	d.handleKey(false)
	if d.State() != StateIdle {
		t.Fatalf("state = %v, want idle", d.State())
	}

	got, calls := p.snapshot()
	if len(got) != 1 || got[0].text != "hello world" || !got[0].enter {
		t.Fatalf("typed = %+v", got)
	}
	if len(calls) != 2 || calls[0] != "release:Shift_R" || calls[1] != "type" {
		t.Fatalf("calls = %v, want release before type", calls)
	}
	if files := tempFiles(t, cfg.TempDir); len(files) != 0 {
		t.Fatalf("temporary files left: %v", files)
	}
	if len(n.cues) != 2 || n.cues[0] != notify.CueRecordingStarted || n.cues[1] != notify.CueRecordingStopped {
		t.Fatalf("cues = %v", n.cues)
	}
}

func TestKeyUpWhileIdleIsNoop(t *testing.T) {
	rec := &fakeRecorder{frames: someFrames()}
	tr := &fakeTranscriber{text: "x"}
	d, p := newTestDaemon(t, testConfig(t), rec, tr)

	d.handleKey(false)
	if _, stops := rec.counts(); stops != 0 {
		t.Fatalf("Stop called %d times", stops)
	}
	if tr.calls.Load() != 0 {
		t.Fatalf("transcriber called while idle")
	}
	if got, _ := p.snapshot(); len(got) != 0 {
		t.Fatalf("typed while idle: %+v", got)
	}
}

func TestSecondKeyDownWhileRecordingIsNoop(t *testing.T) {
	rec := &fakeRecorder{frames: someFrames()}
	d, _ := newTestDaemon(t, testConfig(t), rec, &fakeTranscriber{text: "x"})

	d.handleKey(true)
	d.handleKey(true)
	d.handleKey(true)
	if starts, _ := rec.counts(); starts != 1 {
		t.Fatalf("Start called %d times, want 1", starts)
	}
	if d.State() != StateRecording {
		t.Fatalf("state = %v", d.State())
	}
}

func TestEmptyTranscriptTypesNothing(t *testing.T) {
	cfg := testConfig(t)
	rec := &fakeRecorder{frames: someFrames()}
	tr := &fakeTranscriber{text: ""}
	d, p := newTestDaemon(t, cfg, rec, tr)

	d.handleKey(true)
	d.handleKey(false)

	if tr.calls.Load() != 1 {
		t.Fatalf("transcriber calls = %d", tr.calls.Load())
	}
	if got, calls := p.snapshot(); len(got) != 0 || len(calls) != 0 {
		t.Fatalf("unexpected injection: %+v %v", got, calls)
	}
	if files := tempFiles(t, cfg.TempDir); len(files) != 0 {
		t.Fatalf("temporary files left: %v", files)
	}
	if d.State() != StateIdle {
		t.Fatalf("state = %v", d.State())
	}
}

func TestNoAudioSkipsTranscription(t *testing.T) {
	rec := &fakeRecorder{}
	tr := &fakeTranscriber{text: "x"}
	d, _ := newTestDaemon(t, testConfig(t), rec, tr)

	d.handleKey(true)
	d.handleKey(false)
	if tr.calls.Load() != 0 {
		t.Fatalf("transcriber called without audio")
	}
	if d.State() != StateIdle {
		t.Fatalf("state = %v", d.State())
	}
}

func TestStartFailureStaysIdle(t *testing.T) {
	rec := &fakeRecorder{startErr: audio.ErrNoDevice}
	tr := &fakeTranscriber{text: "x"}
	d, _ := newTestDaemon(t, testConfig(t), rec, tr)

	d.handleKey(true)
	if d.State() != StateIdle {
		t.Fatalf("state = %v, want idle", d.State())
	}
	d.handleKey(false)
	if tr.calls.Load() != 0 {
		t.Fatalf("transcriber called after failed start")
	}
}

func TestReleaseKeySkippedWhenNotConfigured(t *testing.T) {
	cfg := testConfig(t)
	cfg.ReleaseKey = ""
	cfg.PressEnter = false
	rec := &fakeRecorder{frames: someFrames()}
	d, p := newTestDaemon(t, cfg, rec, &fakeTranscriber{text: "hi"})

	d.handleKey(true)
	d.handleKey(false)
	got, calls := p.snapshot()
	if len(calls) != 1 || calls[0] != "type" {
		t.Fatalf("calls = %v", calls)
	}
	if got[0].enter {
		t.Fatalf("Enter pressed although disabled")
	}
}

func TestConcurrentTriggersFinalizeOnce(t *testing.T) {
	for i := 0; i < 50; i++ {
		rec := &fakeRecorder{frames: someFrames()}
		tr := &fakeTranscriber{text: "once"}
		d, p := newTestDaemon(t, testConfig(t), rec, tr)

		d.handleKey(true)
		rec.setExceeded(true)

		var wg sync.WaitGroup
		start := make(chan struct{})
		for j := 0; j < 8; j++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				<-start
				d.handleKey(false)
			}()
			go func() {
				defer wg.Done()
				<-start
				d.checkDuration()
			}()
		}
		close(start)
		wg.Wait()

		if _, stops := rec.counts(); stops != 1 {
			t.Fatalf("iteration %d: Stop called %d times, want 1", i, stops)
		}
		if tr.calls.Load() != 1 {
			t.Fatalf("iteration %d: transcriber called %d times, want 1", i, tr.calls.Load())
		}
		if got, _ := p.snapshot(); len(got) != 1 {
			t.Fatalf("iteration %d: typed %d times, want 1", i, len(got))
		}
	}
}

func TestKeyDownDuringFinalizeIgnored(t *testing.T) {
	rec := &fakeRecorder{frames: someFrames()}
	tr := &fakeTranscriber{text: "slow", block: make(chan struct{})}
	d, p := newTestDaemon(t, testConfig(t), rec, tr)

	d.handleKey(true)
	done := make(chan struct{})
	go func() {
		d.handleKey(false)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for tr.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if d.State() != StateFinalizing {
		t.Fatalf("state = %v, want finalizing", d.State())
	}
	d.handleKey(true)
	if starts, _ := rec.counts(); starts != 1 {
		t.Fatalf("new recording started during finalize")
	}

	close(tr.block)
	<-done
	if got, _ := p.snapshot(); len(got) != 1 {
		t.Fatalf("typed = %+v", got)
	}
	if d.State() != StateIdle {
		t.Fatalf("state = %v", d.State())
	}
}

func TestWatchdogFinalizesAtMaxDuration(t *testing.T) {
	rec := &fakeRecorder{frames: someFrames()}
	tr := &fakeTranscriber{text: "limit"}
	d, p := newTestDaemon(t, testConfig(t), rec, tr)

	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(context.Background()) }()
	<-p.listenCh

	p.cb(true)
	rec.setExceeded(true)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if got, _ := p.snapshot(); len(got) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("watchdog did not finalize")
		}
		time.Sleep(2 * time.Millisecond)
	}
	// пользователь отпускает клавишу уже после финализации
	p.cb(false)
	time.Sleep(30 * time.Millisecond)
	if tr.calls.Load() != 1 {
		t.Fatalf("transcriber called %d times, want 1", tr.calls.Load())
	}
	if _, stops := rec.counts(); stops != 1 {
		t.Fatalf("Stop called %d times, want 1", stops)
	}

	d.Stop()
	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after Stop")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	d, p := newTestDaemon(t, testConfig(t), &fakeRecorder{}, &fakeTranscriber{})
	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(ctx) }()
	<-p.listenCh

	if err := d.Run(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Run = %v, want ErrAlreadyRunning", err)
	}

	cancel()
	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestRunRestartsAfterStop(t *testing.T) {
	d, p := newTestDaemon(t, testConfig(t), &fakeRecorder{}, &fakeTranscriber{})
	// Stop до первого Run не должен мешать запуску
	d.Stop()

	for i := 0; i < 3; i++ {
		runErr := make(chan error, 1)
		go func() { runErr <- d.Run(context.Background()) }()
		<-p.listenCh

		select {
		case err := <-runErr:
			t.Fatalf("run %d returned while listening: %v", i, err)
		case <-time.After(20 * time.Millisecond):
		}

		d.Stop()
		select {
		case err := <-runErr:
			if err != nil {
				t.Fatalf("run %d: %v", i, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("run %d did not return after Stop", i)
		}
	}
}

func TestRunReturnsListenerError(t *testing.T) {
	d, p := newTestDaemon(t, testConfig(t), &fakeRecorder{}, &fakeTranscriber{})
	p.listenErr = platform.ErrUnknownKey
	err := d.Run(context.Background())
	if !errors.Is(err, platform.ErrUnknownKey) {
		t.Fatalf("Run = %v, want ErrUnknownKey", err)
	}
}

// fakeSource для полного прохода через audio.Capture и WAV на диске.
type fakeSource struct {
	cb func([]float32)
}

type nopStream struct{}

func (nopStream) Close() error { return nil }

func (s *fakeSource) Open(_, _ int, onSamples func([]float32)) (audio.Stream, error) {
	s.cb = onSamples
	return nopStream{}, nil
}

func TestEndToEndWithCapture(t *testing.T) {
	cfg := testConfig(t)
	src := &fakeSource{}
	capture := audio.NewCapture(src, cfg.SampleRate, 1, zap.NewNop().Sugar())
	tr := &fakeTranscriber{text: "hello world"}
	tr.check = func(path string) {
		f, err := os.Open(path)
		if err != nil {
			t.Errorf("open: %v", err)
			return
		}
		defer f.Close()
		dec := wav.NewDecoder(f)
		buf, err := dec.FullPCMBuffer()
		if err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		if len(buf.Data) != 3200 {
			t.Errorf("decoded %d samples, want 3200", len(buf.Data))
		}
	}
	d, p := newTestDaemon(t, cfg, capture, tr)

	d.handleKey(true)
	src.cb(make([]float32, 1600))
	src.cb(make([]float32, 1600))
	d.handleKey(false)

	got, _ := p.snapshot()
	if len(got) != 1 || got[0].text != "hello world" {
		t.Fatalf("typed = %+v", got)
	}
	if files := tempFiles(t, cfg.TempDir); len(files) != 0 {
		t.Fatalf("temporary files left: %v", files)
	}
}
