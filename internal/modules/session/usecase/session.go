package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"biomon/internal/modules/session/domain"
	sessiondto "biomon/internal/modules/session/dto"
	sessionin "biomon/internal/modules/session/port/in"
	sessionout "biomon/internal/modules/session/port/out"
	"biomon/internal/modules/session/service"
	apperrors "biomon/internal/platform/errors"
	"biomon/internal/platform/slug"
)

type run struct {
	session *domain.Session
	port    string
	cancel  context.CancelFunc
	done    chan struct{}
	started chan struct{}
	once    sync.Once
	result  sessiondto.RunOutput
	err     error
}

func (r *run) markStarted() {
	r.once.Do(func() { close(r.started) })
}

func (r *run) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Interactor owns at most one session at a time. While a run is in flight the
// session is only touched from the polling goroutine; everything else reads the
// snapshot published after each change.
type Interactor struct {
	svc      *service.SessionService
	exporter sessionout.Exporter
	rawTail  int
	logger   hclog.Logger

	mu          sync.Mutex
	current     *run
	snapshot    sessiondto.Snapshot
	subscribers map[int]chan sessiondto.Snapshot
	nextSub     int
}

func NewInteractor(svc *service.SessionService, exporter sessionout.Exporter, rawTail int, logger hclog.Logger) *Interactor {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Interactor{
		svc:         svc,
		exporter:    exporter,
		rawTail:     rawTail,
		logger:      logger.Named("usecase"),
		subscribers: map[int]chan sessiondto.Snapshot{},
	}
}

var _ sessionin.Usecase = (*Interactor)(nil)

func (i *Interactor) ListPorts(ctx context.Context) ([]sessiondto.PortOutput, error) {
	ports, err := i.svc.ListPorts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]sessiondto.PortOutput, 0, len(ports))
	for _, p := range ports {
		out = append(out, sessiondto.PortOutput{Name: p})
	}
	return out, nil
}

func (i *Interactor) Start(ctx context.Context, input sessiondto.StartInput) (sessiondto.StartOutput, error) {
	r, err := i.launch(ctx, input)
	if err != nil {
		return sessiondto.StartOutput{}, err
	}
	// The first snapshot is published right after the session is stamped.
	<-r.started
	snap := i.snapshotFor(r)
	timing := r.session.Timing()
	return sessiondto.StartOutput{
		SessionID: r.session.ID(),
		Port:      r.port,
		StartedAt: snap.StartedAt,
		Baseline:  timing.Baseline.String(),
		Reading:   timing.Reading.String(),
		Policy:    r.session.Policy(),
	}, nil
}

func (i *Interactor) launch(ctx context.Context, input sessiondto.StartInput) (*run, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.current != nil && !i.current.finished() {
		return nil, apperrors.ErrSessionActive
	}

	session, err := i.svc.NewSession(domain.Subject{Name: input.Subject.Name, Age: input.Subject.Age, Gender: input.Subject.Gender})
	if err != nil {
		return nil, err
	}
	dev, err := i.svc.Open(ctx, input.Port, input.Replay)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{session: session, port: input.Port, cancel: cancel, done: make(chan struct{}), started: make(chan struct{})}
	i.current = r
	i.snapshot = sessiondto.Snapshot{SessionID: session.ID(), Phase: string(domain.PhaseIdle), Policy: session.Policy()}

	go func() {
		defer close(r.done)
		defer r.markStarted()
		err := i.svc.Run(runCtx, session, dev, func(s *domain.Session) {
			i.publish(r, snapshotOf(s, i.rawTail))
			r.markStarted()
		})
		cancel()
		i.finish(r, err)
	}()
	return r, nil
}

func (i *Interactor) finish(r *run, runErr error) {
	session := r.session
	result := sessiondto.RunOutput{}
	if session.Ended() {
		path, err := i.svc.Persist(context.Background(), session)
		if err != nil {
			i.logger.Error("persist session", "session", session.ID(), "error", err)
			if runErr == nil {
				runErr = err
			}
		}
		result.ReportPath = path
		result.Summary = summaryOutput(session.Summary())
	}
	if runErr != nil {
		result.Err = runErr.Error()
	}
	final := snapshotOf(session, i.rawTail)

	i.mu.Lock()
	r.result = result
	r.err = runErr
	i.mu.Unlock()
	i.publish(r, final)
}

func (i *Interactor) publish(r *run, snap sessiondto.Snapshot) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.current != r {
		return
	}
	i.snapshot = snap
	for _, ch := range i.subscribers {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (i *Interactor) snapshotFor(r *run) sessiondto.Snapshot {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.current != r {
		return sessiondto.Snapshot{}
	}
	return i.snapshot
}

func (i *Interactor) running() (*run, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.current == nil {
		return nil, apperrors.ErrNoSession
	}
	return i.current, nil
}

// Wait blocks until the current run ends and reports how it ended.
func (i *Interactor) Wait(ctx context.Context) (sessiondto.RunOutput, error) {
	r, err := i.running()
	if err != nil {
		return sessiondto.RunOutput{}, err
	}
	select {
	case <-r.done:
	case <-ctx.Done():
		return sessiondto.RunOutput{}, ctx.Err()
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	return r.result, r.err
}

// Stop is the operator stop: the session returns to Idle and keeps its data.
func (i *Interactor) Stop(ctx context.Context) (sessiondto.Snapshot, error) {
	r, err := i.running()
	if err != nil {
		return sessiondto.Snapshot{}, err
	}
	r.cancel()
	select {
	case <-r.done:
	case <-ctx.Done():
		return sessiondto.Snapshot{}, ctx.Err()
	}
	return i.snapshotFor(r), nil
}

// Clear drops a finished session. Clearing with nothing loaded is a no-op.
func (i *Interactor) Clear(context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.current == nil {
		return nil
	}
	if !i.current.finished() {
		return apperrors.ErrSessionActive
	}
	i.current = nil
	i.snapshot = sessiondto.Snapshot{}
	return nil
}

func (i *Interactor) Current(context.Context) (sessiondto.Snapshot, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.current == nil {
		return sessiondto.Snapshot{}, apperrors.ErrNoSession
	}
	return i.snapshot, nil
}

// Subscribe streams snapshots until ctx is done. Slow readers miss
// intermediate snapshots rather than stalling the polling loop.
func (i *Interactor) Subscribe(ctx context.Context) (<-chan sessiondto.Snapshot, error) {
	ch := make(chan sessiondto.Snapshot, 16)
	i.mu.Lock()
	key := i.nextSub
	i.nextSub++
	i.subscribers[key] = ch
	if i.current != nil {
		ch <- i.snapshot
	}
	i.mu.Unlock()

	go func() {
		<-ctx.Done()
		i.mu.Lock()
		delete(i.subscribers, key)
		close(ch)
		i.mu.Unlock()
	}()
	return ch, nil
}

func (i *Interactor) Export(ctx context.Context, input sessiondto.ExportInput) (sessiondto.ExportOutput, error) {
	if i.exporter == nil {
		return sessiondto.ExportOutput{}, fmt.Errorf("%w: exporter is not configured", apperrors.ErrInvalidConfig)
	}
	record, err := i.exportRecord(ctx, input.SessionID)
	if err != nil {
		return sessiondto.ExportOutput{}, err
	}

	buf := &bytes.Buffer{}
	switch input.Kind {
	case sessiondto.ExportProcessed:
		err = i.exporter.WriteProcessed(buf, record)
	case sessiondto.ExportSummary:
		err = i.exporter.WriteSummary(buf, record)
	case sessiondto.ExportRaw:
		err = i.exporter.WriteRaw(buf, record)
	default:
		return sessiondto.ExportOutput{}, fmt.Errorf("%w: unknown export kind %q", apperrors.ErrInvalidInput, input.Kind)
	}
	if err != nil {
		return sessiondto.ExportOutput{}, fmt.Errorf("export %s: %w", input.Kind, err)
	}
	return sessiondto.ExportOutput{Filename: ExportFilename(input.Kind, record.Summary), Content: buf.Bytes()}, nil
}

func (i *Interactor) exportRecord(ctx context.Context, sessionID string) (domain.Record, error) {
	if sessionID != "" {
		record, err := i.svc.Load(ctx, sessionID)
		if err != nil {
			return domain.Record{}, err
		}
		return record, nil
	}
	r, err := i.running()
	if err != nil {
		return domain.Record{}, err
	}
	if !r.finished() {
		return domain.Record{}, apperrors.ErrSessionActive
	}
	if !r.session.Ended() {
		return domain.Record{}, apperrors.ErrNoSession
	}
	return r.session.Record(), nil
}

// ExportFilename names an export after its kind, subject and start time, e.g.
// processed_biometrics_ada-lovelace_20260301_090000.csv.
func ExportFilename(kind sessiondto.ExportKind, summary domain.Summary) string {
	who := slug.Make(summary.Subject.Name, "session")
	return fmt.Sprintf("%s_biometrics_%s_%s.csv", kind, who, summary.StartedAt.Format("20060102_150405"))
}

func (i *Interactor) History(ctx context.Context, limit int) ([]sessiondto.SummaryOutput, error) {
	summaries, err := i.svc.History(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]sessiondto.SummaryOutput, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, summaryOutput(s))
	}
	return out, nil
}

func (i *Interactor) GetHistory(ctx context.Context, sessionID string) (sessiondto.SummaryOutput, error) {
	if sessionID == "" {
		return sessiondto.SummaryOutput{}, fmt.Errorf("%w: session id is required", apperrors.ErrInvalidInput)
	}
	record, err := i.svc.Load(ctx, sessionID)
	if err != nil {
		return sessiondto.SummaryOutput{}, err
	}
	return summaryOutput(record.Summary), nil
}

func snapshotOf(s *domain.Session, rawTail int) sessiondto.Snapshot {
	phase := s.Phase()
	total := s.Timing().Total()
	elapsed := s.Elapsed()
	snap := sessiondto.Snapshot{
		SessionID:  s.ID(),
		Subject:    subjectOutput(s.Subject()),
		Phase:      string(phase),
		Running:    phase == domain.PhaseBaseline || phase == domain.PhaseActive,
		StartedAt:  s.StartedAt(),
		Elapsed:    elapsed.Seconds(),
		Policy:     s.Policy(),
		DataPoints: len(s.TimeAxis()),
	}
	if total > 0 {
		snap.Progress = min(float64(elapsed)/float64(total), 1)
	}
	if snap.Running {
		snap.Remaining = max(total-elapsed, 0).Seconds()
	}
	if c, ok := s.Classification(); ok {
		snap.Classification = c.Label
		snap.Severity = int(c.Severity)
	}

	baseline := s.Baseline()
	for _, m := range domain.Metrics {
		reading := sessiondto.MetricReading{
			Metric:   string(m),
			Label:    m.Label(),
			Unit:     m.Unit(),
			Baseline: baseline.Of(m),
			Count:    len(s.Series(m)),
		}
		if latest, ok := s.Latest(m); ok {
			reading.Value = latest.Value
			reading.HasValue = true
		}
		snap.Readings = append(snap.Readings, reading)
	}

	raw := s.Raw()
	snap.ParseErrors = len(s.Failures())
	if rawTail > 0 && len(raw) > rawTail {
		raw = raw[len(raw)-rawTail:]
	}
	for _, line := range raw {
		snap.RawTail = append(snap.RawTail, line.Text)
	}
	if err := s.LastError(); err != nil && !errors.Is(err, domain.ErrStopped) {
		snap.LastError = err.Error()
	}
	if s.Ended() {
		summary := summaryOutput(s.Summary())
		snap.Summary = &summary
	}
	return snap
}

func subjectOutput(s domain.Subject) sessiondto.SubjectOutput {
	return sessiondto.SubjectOutput{Name: s.Name, Age: s.Age, Gender: s.Gender}
}

func summaryOutput(s domain.Summary) sessiondto.SummaryOutput {
	out := sessiondto.SummaryOutput{
		SessionID:   s.SessionID,
		Subject:     subjectOutput(s.Subject),
		Policy:      s.Policy,
		StartedAt:   s.StartedAt,
		EndedAt:     s.EndedAt,
		Duration:    s.Duration.Round(time.Millisecond).Seconds(),
		DataPoints:  s.DataPoints,
		Completed:   s.Completed,
		ParseErrors: s.ParseErrors,
		LastError:   s.LastError,
	}
	for _, m := range s.Metrics {
		out.Metrics = append(out.Metrics, sessiondto.MetricSummaryOutput{
			Metric:        string(m.Metric),
			Label:         m.Metric.Label(),
			Baseline:      m.Baseline,
			Final:         m.Final,
			Change:        m.Change,
			PercentChange: m.PercentChange,
			Count:         m.Count,
		})
	}
	return out
}
