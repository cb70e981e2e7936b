package usecase_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sessionout "biomon/internal/modules/session/adapter/out"
	"biomon/internal/modules/session/domain"
	sessiondto "biomon/internal/modules/session/dto"
	portout "biomon/internal/modules/session/port/out"
	"biomon/internal/modules/session/service"
	"biomon/internal/modules/session/usecase"
	apperrors "biomon/internal/platform/errors"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = at
}

type fakeID struct{}

func (fakeID) New() string { return "sess-1" }

type timedLine struct {
	at   time.Duration
	text string
}

// scriptedDevice advances the shared clock as each line is read. With end set
// it parks the clock there once the script runs out; otherwise it idles.
type scriptedDevice struct {
	clock *fakeClock
	lines []timedLine
	end   time.Duration
	mu    sync.Mutex
	idx   int
}

func (d *scriptedDevice) ReadLine() (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.idx >= len(d.lines) {
		if d.end > 0 {
			d.clock.Set(t0.Add(d.end))
		}
		return "", false, nil
	}
	l := d.lines[d.idx]
	d.idx++
	d.clock.Set(t0.Add(l.at))
	return l.text, true, nil
}

func (d *scriptedDevice) Close() error { return nil }

type fakeOpener struct {
	mu      sync.Mutex
	devices []portout.Device
	err     error
}

func (f *fakeOpener) Open(context.Context, string) (portout.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	dev := f.devices[0]
	f.devices = f.devices[1:]
	return dev, nil
}

func referenceLines() []timedLine {
	return []timedLine{
		{1 * time.Second, "GSR=90 raw"},
		{2 * time.Second, "Pulse:70"},
		{3 * time.Second, "O2:97%"},
		{6 * time.Second, "GSR=95 raw"},
		{7 * time.Second, "Pulse:75"},
		{8 * time.Second, "O2:96.5%"},
	}
}

func newInteractor(t *testing.T, clk *fakeClock, opener *fakeOpener) *usecase.Interactor {
	t.Helper()
	dataDir := t.TempDir()
	history, err := sessionout.NewSQLiteHistoryStore(filepath.Join(dataDir, "biomon.db"))
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = history.Close() })
	svc := service.NewSessionService(clk, fakeID{}, service.Adapters{
		Serial:  opener,
		History: history,
		Reports: sessionout.NewReportStore(filepath.Join(dataDir, "sessions")),
	}, service.Settings{Timing: domain.DefaultTiming(), PollInterval: time.Millisecond}, nil)
	return usecase.NewInteractor(svc, sessionout.NewCSVExporter(), 3, nil)
}

func waitFor(t *testing.T, uc *usecase.Interactor, cond func(sessiondto.Snapshot) bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if snap, err := uc.Current(context.Background()); err == nil && cond(snap) {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not reached before deadline")
}

func TestCompletedSessionIsPersistedAndExportable(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{now: t0}
	opener := &fakeOpener{devices: []portout.Device{&scriptedDevice{clock: clk, lines: referenceLines(), end: 16 * time.Second}}}
	uc := newInteractor(t, clk, opener)
	ctx := context.Background()

	start, err := uc.Start(ctx, sessiondto.StartInput{Port: "/dev/ttyUSB0", Subject: sessiondto.SubjectInput{Name: "Ada", Age: 30, Gender: "F"}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if start.SessionID != "sess-1" || !start.StartedAt.Equal(t0) || start.Baseline != "5s" || start.Reading != "10s" {
		t.Fatalf("unexpected start output %+v", start)
	}

	result, err := uc.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !result.Summary.Completed || result.ReportPath == "" || result.Err != "" {
		t.Fatalf("unexpected run output %+v", result)
	}
	if gsr := result.Summary.Metrics[0]; gsr.Label != "GSR" || gsr.Baseline != 90 || gsr.Final != 95 || gsr.Change != 5 {
		t.Fatalf("unexpected gsr summary %+v", gsr)
	}

	snap, err := uc.Current(ctx)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if snap.Phase != string(domain.PhaseSealed) || snap.Running || snap.Progress != 1 || snap.Summary == nil {
		t.Fatalf("unexpected final snapshot %+v", snap)
	}
	if len(snap.RawTail) != 3 || snap.RawTail[2] != "O2:96.5%" {
		t.Fatalf("raw tail must keep the last 3 lines, got %v", snap.RawTail)
	}
	if snap.Classification != "Normal" {
		t.Fatalf("unexpected classification %q", snap.Classification)
	}

	out, err := uc.Export(ctx, sessiondto.ExportInput{Kind: sessiondto.ExportProcessed})
	if err != nil {
		t.Fatalf("export current: %v", err)
	}
	if out.Filename != "processed_biometrics_ada_20260301_090000.csv" {
		t.Fatalf("unexpected filename %q", out.Filename)
	}
	rows, err := csv.NewReader(bytes.NewReader(out.Content)).ReadAll()
	if err != nil || len(rows) != 2 {
		t.Fatalf("unexpected processed export %v %v", rows, err)
	}

	stored, err := uc.Export(ctx, sessiondto.ExportInput{SessionID: "sess-1", Kind: sessiondto.ExportSummary})
	if err != nil {
		t.Fatalf("export stored: %v", err)
	}
	if !bytes.Contains(stored.Content, []byte("Heart Rate,70,75,5,")) {
		t.Fatalf("unexpected stored summary export:\n%s", stored.Content)
	}

	history, err := uc.History(ctx, 10)
	if err != nil || len(history) != 1 || history[0].SessionID != "sess-1" {
		t.Fatalf("unexpected history %+v %v", history, err)
	}
	detail, err := uc.GetHistory(ctx, "sess-1")
	if err != nil || detail.Subject.Name != "Ada" || detail.Duration != 15 {
		t.Fatalf("unexpected history detail %+v %v", detail, err)
	}
	if _, err := uc.GetHistory(ctx, "missing"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := uc.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := uc.Current(ctx); !errors.Is(err, apperrors.ErrNoSession) {
		t.Fatalf("expected no session after clear, got %v", err)
	}
}

func TestOperatorStopKeepsDataAndFreesTheSlot(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{now: t0}
	first := &scriptedDevice{clock: clk, lines: referenceLines()[:4]}
	second := &scriptedDevice{clock: clk}
	opener := &fakeOpener{devices: []portout.Device{first, second}}
	uc := newInteractor(t, clk, opener)
	ctx := context.Background()

	if _, err := uc.Start(ctx, sessiondto.StartInput{Port: "/dev/ttyUSB0"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := uc.Start(ctx, sessiondto.StartInput{Port: "/dev/ttyUSB0"}); !errors.Is(err, apperrors.ErrSessionActive) {
		t.Fatalf("expected session active, got %v", err)
	}
	if err := uc.Clear(ctx); !errors.Is(err, apperrors.ErrSessionActive) {
		t.Fatalf("clear while running must fail, got %v", err)
	}
	if _, err := uc.Export(ctx, sessiondto.ExportInput{Kind: sessiondto.ExportRaw}); !errors.Is(err, apperrors.ErrSessionActive) {
		t.Fatalf("export while running must fail, got %v", err)
	}

	waitFor(t, uc, func(s sessiondto.Snapshot) bool { return s.DataPoints == 1 })

	snap, err := uc.Stop(ctx)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if snap.Running || snap.Phase != string(domain.PhaseIdle) || snap.Summary == nil || snap.Summary.Completed {
		t.Fatalf("unexpected stopped snapshot %+v", snap)
	}
	if snap.LastError != "" {
		t.Fatalf("operator stop is not an error, got %q", snap.LastError)
	}
	result, err := uc.Wait(ctx)
	if err != nil || result.Err != "" {
		t.Fatalf("stopped run must not report an error: %+v %v", result, err)
	}

	raw, err := uc.Export(ctx, sessiondto.ExportInput{Kind: sessiondto.ExportRaw})
	if err != nil {
		t.Fatalf("export after stop: %v", err)
	}
	if rows, _ := csv.NewReader(bytes.NewReader(raw.Content)).ReadAll(); len(rows) < 2 {
		t.Fatalf("stopped session must keep its raw lines, got %v", rows)
	}

	if _, err := uc.Start(ctx, sessiondto.StartInput{Port: "/dev/ttyUSB0"}); err != nil {
		t.Fatalf("a new session may start after stop: %v", err)
	}
	if _, err := uc.Stop(ctx); err != nil {
		t.Fatalf("stop second: %v", err)
	}
}

func TestStartFailuresLeaveNoSession(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{now: t0}
	uc := newInteractor(t, clk, &fakeOpener{err: errors.New("no such device")})
	ctx := context.Background()

	_, err := uc.Start(ctx, sessiondto.StartInput{Port: "/dev/ttyUSB9"})
	var devErr *domain.DeviceError
	if !errors.As(err, &devErr) || devErr.Op != "open" {
		t.Fatalf("expected open device error, got %v", err)
	}
	if _, err := uc.Start(ctx, sessiondto.StartInput{Port: "/dev/ttyUSB9", Subject: sessiondto.SubjectInput{Age: 200}}); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("expected invalid subject, got %v", err)
	}
	if _, err := uc.Current(ctx); !errors.Is(err, apperrors.ErrNoSession) {
		t.Fatalf("expected no session, got %v", err)
	}
	if _, err := uc.Stop(ctx); !errors.Is(err, apperrors.ErrNoSession) {
		t.Fatalf("expected no session on stop, got %v", err)
	}
	if _, err := uc.Export(ctx, sessiondto.ExportInput{Kind: "pdf", SessionID: "x"}); err == nil {
		t.Fatalf("expected error for unknown session")
	}
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{now: t0}
	opener := &fakeOpener{devices: []portout.Device{&scriptedDevice{clock: clk, lines: referenceLines(), end: 16 * time.Second}}}
	uc := newInteractor(t, clk, opener)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, err := uc.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := uc.Start(ctx, sessiondto.StartInput{Port: "/dev/ttyUSB0"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := uc.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}

	select {
	case snap := <-updates:
		if snap.SessionID != "sess-1" {
			t.Fatalf("unexpected snapshot %+v", snap)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected at least one snapshot")
	}
	cancel()
	for range updates {
	}
}

func TestExportFilenameFallsBackWithoutSubject(t *testing.T) {
	t.Parallel()
	name := usecase.ExportFilename(sessiondto.ExportRaw, domain.Summary{StartedAt: t0})
	if name != "raw_biometrics_session_20260301_090000.csv" {
		t.Fatalf("unexpected filename %q", name)
	}
}
