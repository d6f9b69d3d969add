package repositories

import (
	"context"

	"github.com/puertocho/assistant-gateway/domain/entities"
)

// AudioDispatcher sends an AudioJob to the remote processor and maps the
// exchange to a typed outcome. Dispatch never returns an error: every
// failure mode is expressed as an OutcomeFailure variant.
type AudioDispatcher interface {
	Dispatch(ctx context.Context, job *entities.AudioJob) entities.RemoteOutcome
}
