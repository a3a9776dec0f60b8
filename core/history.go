package generation

import (
	"context"

	"github.com/matijarozman/muse-core/core/llms"
)

// HistoryStore persists conversation turn lists between runs. Implementations
// must tolerate loads for keys that were never saved and return an empty turn
// list in that case.
type HistoryStore interface {
	LoadTurns(ctx context.Context, key string) ([]llms.Turn, error)
	SaveTurns(ctx context.Context, key string, turns []llms.Turn) error
}
