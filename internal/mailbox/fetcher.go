package mailbox

import (
	"context"

	"loadboard-activation-go/internal/models"
)

// ReplyFetcher pulls candidate vendor replies from the shared integrations
// mailbox. Delivery is at-least-once and unordered; the pipeline's
// idempotency ledger makes that safe. Implementations must respect the
// context deadline so one slow fetch cannot starve the rest of the cycle.
type ReplyFetcher interface {
	FetchNewReplies(ctx context.Context) ([]models.InboundEmail, error)
	Close() error
}
