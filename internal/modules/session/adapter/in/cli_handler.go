package in

import (
	"context"

	sessiondto "biomon/internal/modules/session/dto"
	sessionin "biomon/internal/modules/session/port/in"
)

type CLIHandler struct {
	usecase sessionin.Usecase
}

func NewCLIHandler(usecase sessionin.Usecase) CLIHandler {
	return CLIHandler{usecase: usecase}
}

func (h CLIHandler) Ports(ctx context.Context) ([]sessiondto.PortOutput, error) {
	return h.usecase.ListPorts(ctx)
}

func (h CLIHandler) Start(ctx context.Context, port string, replay bool, subject sessiondto.SubjectInput) (sessiondto.StartOutput, error) {
	return h.usecase.Start(ctx, sessiondto.StartInput{Port: port, Replay: replay, Subject: subject})
}

func (h CLIHandler) Wait(ctx context.Context) (sessiondto.RunOutput, error) {
	return h.usecase.Wait(ctx)
}

func (h CLIHandler) Stop(ctx context.Context) (sessiondto.Snapshot, error) {
	return h.usecase.Stop(ctx)
}

func (h CLIHandler) Clear(ctx context.Context) error {
	return h.usecase.Clear(ctx)
}

func (h CLIHandler) Current(ctx context.Context) (sessiondto.Snapshot, error) {
	return h.usecase.Current(ctx)
}

func (h CLIHandler) Subscribe(ctx context.Context) (<-chan sessiondto.Snapshot, error) {
	return h.usecase.Subscribe(ctx)
}

func (h CLIHandler) Export(ctx context.Context, sessionID string, kind sessiondto.ExportKind) (sessiondto.ExportOutput, error) {
	return h.usecase.Export(ctx, sessiondto.ExportInput{SessionID: sessionID, Kind: kind})
}

func (h CLIHandler) History(ctx context.Context, limit int) ([]sessiondto.SummaryOutput, error) {
	return h.usecase.History(ctx, limit)
}

func (h CLIHandler) Show(ctx context.Context, sessionID string) (sessiondto.SummaryOutput, error) {
	return h.usecase.GetHistory(ctx, sessionID)
}
