package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/hashicorp/go-hclog"

	sessioninadapter "biomon/internal/modules/session/adapter/in"
	sessionoutadapter "biomon/internal/modules/session/adapter/out"
	"biomon/internal/modules/session/domain"
	sessionservice "biomon/internal/modules/session/service"
	sessionusecase "biomon/internal/modules/session/usecase"
	"biomon/internal/platform/clock"
	"biomon/internal/platform/config"
	apperrors "biomon/internal/platform/errors"
	"biomon/internal/platform/id"
	uiapp "biomon/internal/ui/app"
)

type App struct {
	Config     config.Config
	Logger     hclog.Logger
	SessionCLI sessioninadapter.CLIHandler
	SessionAPI *sessioninadapter.HTTPHandler

	history *sessionoutadapter.SQLiteHistoryStore
}

func New(cfg config.Config, logger hclog.Logger) (*App, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	classifier, err := domain.NewClassifier(cfg.Classifier)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidConfig, err)
	}
	history, err := sessionoutadapter.NewSQLiteHistoryStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("new history store: %w", err)
	}

	svc := sessionservice.NewSessionService(
		clock.SystemClock{},
		id.UUID{},
		sessionservice.Adapters{
			Serial:  sessionoutadapter.NewSerialOpener(cfg.Serial.Baud, cfg.Serial.ReadTimeout),
			Replay:  sessionoutadapter.NewReplayOpener(cfg.Session.PollInterval),
			Ports:   sessionoutadapter.SerialPortLister{},
			History: history,
			Reports: sessionoutadapter.NewReportStore(cfg.SessionsDir),
		},
		sessionservice.Settings{
			Timing:       domain.Timing{Baseline: cfg.Session.Baseline, Reading: cfg.Session.Reading},
			Classifier:   classifier,
			PollInterval: cfg.Session.PollInterval,
		},
		logger,
	)
	uc := sessionusecase.NewInteractor(svc, sessionoutadapter.NewCSVExporter(), cfg.Session.RawTail, logger)

	return &App{
		Config:     cfg,
		Logger:     logger,
		SessionCLI: sessioninadapter.NewCLIHandler(uc),
		SessionAPI: sessioninadapter.NewHTTPHandler(uc, logger),
		history:    history,
	}, nil
}

// Close stops a running session, waits for it to persist and releases the database.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := a.SessionCLI.Stop(ctx); err != nil && !errors.Is(err, apperrors.ErrNoSession) {
		a.Logger.Warn("stop session on close", "error", err)
	}
	return a.history.Close()
}

func RunTUI(app *App) error {
	model := uiapp.NewModel(app.SessionCLI, app.Config.ExportDir)
	program := tea.NewProgram(model, tea.WithAltScreen())
	_, err := program.Run()
	return err
}

func NewHTTPServer(app *App, addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           app.SessionAPI.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
