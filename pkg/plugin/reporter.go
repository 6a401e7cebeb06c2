package plugin

import (
	"context"

	"firestige.xyz/lappd/pkg/models"
)

// Reporter delivers reconstructed events to external systems. Report may be
// called from several dispatcher workers at once.
type Reporter interface {
	Plugin
	Report(ctx context.Context, rec *models.EventRecord) error
	Flush(ctx context.Context) error
}
