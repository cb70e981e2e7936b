package in

import (
	"context"

	"biomon/internal/modules/session/dto"
)

type Usecase interface {
	ListPorts(ctx context.Context) ([]dto.PortOutput, error)
	Start(ctx context.Context, input dto.StartInput) (dto.StartOutput, error)
	Wait(ctx context.Context) (dto.RunOutput, error)
	Stop(ctx context.Context) (dto.Snapshot, error)
	Clear(ctx context.Context) error
	Current(ctx context.Context) (dto.Snapshot, error)
	Subscribe(ctx context.Context) (<-chan dto.Snapshot, error)
	Export(ctx context.Context, input dto.ExportInput) (dto.ExportOutput, error)
	History(ctx context.Context, limit int) ([]dto.SummaryOutput, error)
	GetHistory(ctx context.Context, sessionID string) (dto.SummaryOutput, error)
}
