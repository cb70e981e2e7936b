package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"biomon/internal/modules/session/domain"
	sessionout "biomon/internal/modules/session/port/out"
	"biomon/internal/platform/clock"
	apperrors "biomon/internal/platform/errors"
	"biomon/internal/platform/id"
)

type Adapters struct {
	Serial  sessionout.DeviceOpener
	Replay  sessionout.DeviceOpener
	Ports   sessionout.PortLister
	History sessionout.HistoryStore
	Reports sessionout.ReportStore
}

type Settings struct {
	Timing       domain.Timing
	Classifier   domain.Classifier
	PollInterval time.Duration
}

type SessionService struct {
	clock    clock.Clock
	idGen    id.Generator
	adapters Adapters
	settings Settings
	logger   hclog.Logger
}

func NewSessionService(clock clock.Clock, idGen id.Generator, adapters Adapters, settings Settings, logger hclog.Logger) *SessionService {
	if settings.PollInterval <= 0 {
		settings.PollInterval = 100 * time.Millisecond
	}
	if settings.Classifier == nil {
		settings.Classifier = domain.NewDeviationClassifier()
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &SessionService{clock: clock, idGen: idGen, adapters: adapters, settings: settings, logger: logger.Named("session")}
}

func (s *SessionService) Settings() Settings { return s.settings }

func (s *SessionService) ListPorts(ctx context.Context) ([]string, error) {
	if s.adapters.Ports == nil {
		return nil, apperrors.ErrNoPorts
	}
	ports, err := s.adapters.Ports.ListPorts(ctx)
	if err != nil {
		return nil, &domain.DeviceError{Op: "list ports", Err: err}
	}
	if len(ports) == 0 {
		return nil, apperrors.ErrNoPorts
	}
	return ports, nil
}

func (s *SessionService) NewSession(subject domain.Subject) (*domain.Session, error) {
	if err := subject.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}
	if err := s.settings.Timing.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidConfig, err)
	}
	return domain.NewSession(s.idGen.New(), subject, s.settings.Timing, s.settings.Classifier), nil
}

// Open connects to a serial port, or to a capture file when replay is set.
func (s *SessionService) Open(ctx context.Context, port string, replay bool) (sessionout.Device, error) {
	if strings.TrimSpace(port) == "" {
		return nil, fmt.Errorf("%w: port is required", apperrors.ErrInvalidInput)
	}
	opener := s.adapters.Serial
	if replay {
		opener = s.adapters.Replay
	}
	if opener == nil {
		return nil, &domain.DeviceError{Op: "open", Err: errors.New("no device opener configured")}
	}
	dev, err := opener.Open(ctx, port)
	if err != nil {
		return nil, &domain.DeviceError{Op: "open", Err: err}
	}
	s.logger.Info("device opened", "port", port, "replay", replay)
	return dev, nil
}

type timedLine struct {
	text string
	at   time.Time
}

// Run drives one session over an open device until it seals, the context is
// cancelled (operator stop) or the device fails. The device is closed on every
// path. Only a device failure is returned as an error; the session is left in
// Idle with its data intact in that case and on operator stop.
func (s *SessionService) Run(ctx context.Context, session *domain.Session, dev sessionout.Device, observe func(*domain.Session)) error {
	defer func() {
		if err := dev.Close(); err != nil {
			s.logger.Warn("close device", "session", session.ID(), "error", err)
		}
	}()
	if observe == nil {
		observe = func(*domain.Session) {}
	}
	if err := session.Start(s.clock.Now()); err != nil {
		return err
	}
	s.logger.Info("session started", "session", session.ID(), "baseline", s.settings.Timing.Baseline, "reading", s.settings.Timing.Reading, "policy", session.Policy())
	observe(session)

	lines := make(chan timedLine, 64)
	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()
	g, gctx := errgroup.WithContext(readCtx)
	g.Go(func() error {
		return s.readLines(gctx, dev, lines)
	})

	s.aggregate(gctx, session, lines, observe)
	stopReading()
	readErr := g.Wait()

	switch {
	case session.Phase() == domain.PhaseSealed:
		summary := session.Summary()
		s.logger.Info("session sealed", "session", session.ID(), "data_points", summary.DataPoints, "parse_errors", summary.ParseErrors)
		return nil
	case readErr != nil:
		session.Abort(s.clock.Now(), readErr)
		s.logger.Error("session aborted", "session", session.ID(), "error", readErr)
		observe(session)
		return readErr
	default:
		session.Abort(s.clock.Now(), domain.ErrStopped)
		s.logger.Info("session stopped", "session", session.ID(), "elapsed", session.Elapsed())
		observe(session)
		return nil
	}
}

func (s *SessionService) readLines(ctx context.Context, dev sessionout.Device, out chan<- timedLine) error {
	idle := time.NewTimer(s.settings.PollInterval)
	defer idle.Stop()
	for {
		if ctx.Err() != nil {
			return nil
		}
		text, ok, err := dev.ReadLine()
		if err != nil {
			var devErr *domain.DeviceError
			if errors.As(err, &devErr) {
				return devErr
			}
			return &domain.DeviceError{Op: "read", Err: err}
		}
		if !ok {
			idle.Reset(s.settings.PollInterval)
			select {
			case <-ctx.Done():
				return nil
			case <-idle.C:
			}
			continue
		}
		item := timedLine{text: strings.TrimSpace(text), at: s.clock.Now()}
		select {
		case out <- item:
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *SessionService) aggregate(ctx context.Context, session *domain.Session, lines <-chan timedLine, observe func(*domain.Session)) {
	ticker := time.NewTicker(s.settings.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.drain(session, lines, observe)
			return
		case line := <-lines:
			s.ingest(session, line)
			observe(session)
			if session.Phase() == domain.PhaseSealed {
				return
			}
		case <-ticker.C:
			// Read the clock before draining so every pending line is stamped
			// no later than the instant used for the phase transition.
			now := s.clock.Now()
			s.drain(session, lines, observe)
			if session.Phase() == domain.PhaseSealed {
				return
			}
			s.advance(session, now)
			observe(session)
			if session.Phase() == domain.PhaseSealed {
				return
			}
		}
	}
}

func (s *SessionService) drain(session *domain.Session, lines <-chan timedLine, observe func(*domain.Session)) {
	for {
		select {
		case line := <-lines:
			s.ingest(session, line)
			observe(session)
		default:
			return
		}
	}
}

func (s *SessionService) ingest(session *domain.Session, line timedLine) {
	before := session.Phase()
	update, err := session.Ingest(line.text, line.at)
	if err != nil {
		s.logger.Debug("line dropped", "session", session.ID(), "line", line.text, "error", err)
		return
	}
	if update.Failure != nil {
		s.logger.Debug("parse failure", "session", session.ID(), "line", update.Failure.Line, "reason", update.Failure.Reason)
	}
	if update.Classification != nil && update.Classification.Severity == domain.SeverityAlert {
		s.logger.Warn("stress alert", "session", session.ID(), "gsr", update.Sample.Value, "label", update.Classification.Label)
	}
	s.logPhase(session, before)
}

func (s *SessionService) advance(session *domain.Session, now time.Time) {
	before := session.Phase()
	session.Advance(now)
	s.logPhase(session, before)
}

func (s *SessionService) logPhase(session *domain.Session, before domain.Phase) {
	if after := session.Phase(); after != before {
		s.logger.Info("phase change", "session", session.ID(), "from", before, "to", after, "elapsed", session.Elapsed())
	}
}

// Persist stores an ended session in history and writes its report note.
func (s *SessionService) Persist(ctx context.Context, session *domain.Session) (string, error) {
	if !session.Ended() {
		return "", fmt.Errorf("%w: session %s has not ended", apperrors.ErrInvalidInput, session.ID())
	}
	record := session.Record()
	if s.adapters.History != nil {
		if err := s.adapters.History.Save(ctx, record); err != nil {
			return "", fmt.Errorf("save history: %w", err)
		}
	}
	if s.adapters.Reports == nil {
		return "", nil
	}
	path, err := s.adapters.Reports.Save(ctx, record.Summary)
	if err != nil {
		return "", fmt.Errorf("save report: %w", err)
	}
	return path, nil
}

func (s *SessionService) History(ctx context.Context, limit int) ([]domain.Summary, error) {
	if s.adapters.History == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	return s.adapters.History.List(ctx, limit)
}

func (s *SessionService) Load(ctx context.Context, sessionID string) (domain.Record, error) {
	if s.adapters.History == nil {
		return domain.Record{}, apperrors.ErrNotFound
	}
	return s.adapters.History.Get(ctx, sessionID)
}
