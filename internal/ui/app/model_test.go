package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	sessiondto "biomon/internal/modules/session/dto"
	apperrors "biomon/internal/platform/errors"
	monitorview "biomon/internal/ui/views/monitor"
)

type fakeSession struct {
	mu        sync.Mutex
	started   []string
	exported  []string
	clearErr  error
	updates   chan sessiondto.Snapshot
	summaries []sessiondto.SummaryOutput
}

func (f *fakeSession) Ports(context.Context) ([]sessiondto.PortOutput, error) {
	return []sessiondto.PortOutput{{Name: "/dev/ttyUSB0"}, {Name: "/dev/ttyUSB1"}}, nil
}

func (f *fakeSession) Start(_ context.Context, port string, replay bool, subject sessiondto.SubjectInput) (sessiondto.StartOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, port+"|"+subject.Name)
	return sessiondto.StartOutput{SessionID: "sess-1", Port: port}, nil
}

func (f *fakeSession) Stop(context.Context) (sessiondto.Snapshot, error) {
	return sessiondto.Snapshot{SessionID: "sess-1", Elapsed: 3.5}, nil
}

func (f *fakeSession) Clear(context.Context) error { return f.clearErr }

func (f *fakeSession) Current(context.Context) (sessiondto.Snapshot, error) {
	return sessiondto.Snapshot{}, apperrors.ErrNoSession
}

func (f *fakeSession) Subscribe(context.Context) (<-chan sessiondto.Snapshot, error) {
	return f.updates, nil
}

func (f *fakeSession) Export(_ context.Context, sessionID string, kind sessiondto.ExportKind) (sessiondto.ExportOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exported = append(f.exported, sessionID+"|"+string(kind))
	return sessiondto.ExportOutput{Filename: string(kind) + ".csv", Content: []byte("h\n")}, nil
}

func (f *fakeSession) History(context.Context, int) ([]sessiondto.SummaryOutput, error) {
	return f.summaries, nil
}

func TestPaletteStartRunsSessionWithSubject(t *testing.T) {
	t.Parallel()
	fake := &fakeSession{}
	m := NewModel(fake, t.TempDir())

	next, cmd := m.executePalette("start /dev/ttyUSB0 Ada Lovelace")
	if cmd == nil {
		t.Fatalf("expected start command")
	}
	msg := cmd().(statusMsg)
	if msg.err != nil || !strings.Contains(msg.text, "sess-1") {
		t.Fatalf("unexpected status: %+v", msg)
	}
	if len(fake.started) != 1 || fake.started[0] != "/dev/ttyUSB0|Ada Lovelace" {
		t.Fatalf("unexpected start calls: %v", fake.started)
	}
	if next.(Model).activeTab != tabMonitor {
		t.Fatalf("start should switch to the monitor tab")
	}
}

func TestPaletteStartRequiresPort(t *testing.T) {
	t.Parallel()
	m := NewModel(&fakeSession{}, t.TempDir())
	next, cmd := m.executePalette("start")
	if cmd != nil {
		t.Fatalf("expected no command without a port")
	}
	if status := next.(Model).status; !strings.HasPrefix(status, "usage: start") {
		t.Fatalf("unexpected status %q", status)
	}
}

func TestExportWritesEveryKind(t *testing.T) {
	t.Parallel()
	fake := &fakeSession{}
	dir := filepath.Join(t.TempDir(), "exports")
	m := NewModel(fake, dir)

	msg := m.exportCmd("", allKinds...)().(statusMsg)
	if msg.err != nil {
		t.Fatalf("export: %v", msg.err)
	}
	for _, kind := range allKinds {
		if _, err := os.Stat(filepath.Join(dir, string(kind)+".csv")); err != nil {
			t.Fatalf("missing %s export: %v", kind, err)
		}
	}
	if len(fake.exported) != 3 || fake.exported[0] != "|processed" {
		t.Fatalf("unexpected export calls: %v", fake.exported)
	}
}

func TestClearWhileRunningReportsHint(t *testing.T) {
	t.Parallel()
	m := NewModel(&fakeSession{clearErr: apperrors.ErrSessionActive}, t.TempDir())
	msg := m.clearCmd()().(statusMsg)
	if msg.err != nil || !strings.Contains(msg.text, "stop the session") {
		t.Fatalf("unexpected status: %+v", msg)
	}
}

func TestSnapshotStreamMarksSessionEnd(t *testing.T) {
	t.Parallel()
	fake := &fakeSession{updates: make(chan sessiondto.Snapshot, 2)}
	m := NewModel(fake, t.TempDir())

	sub := m.subscribeCmd()().(subscribedMsg)
	next, cmd := m.Update(sub)
	m = next.(Model)
	if cmd == nil {
		t.Fatalf("expected a reader for the snapshot stream")
	}

	fake.updates <- sessiondto.Snapshot{SessionID: "sess-1", Phase: "active", Running: true}
	next, _ = m.Update(cmd())
	m = next.(Model)
	if snap, ok := m.monitor.Snapshot(); !ok || snap.Phase != "active" {
		t.Fatalf("monitor not updated: %+v", snap)
	}

	next, _ = m.Update(monitorview.SnapshotMsg{Snapshot: sessiondto.Snapshot{SessionID: "sess-1", Phase: "sealed"}})
	if status := next.(Model).status; status != "session ended: sealed" {
		t.Fatalf("unexpected status %q", status)
	}
}
