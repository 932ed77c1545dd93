package dedupe

import "context"

// At-most-once gate at the ingestion boundary. The aggregation actors are
// count-sensitive (applying one event twice double-counts), so every event
// passes here before it reaches an actor. The check and the mark are split:
// an id is marked only after its event was applied, so a failed apply leaves
// the id unmarked and the caller's retry goes through.
type Deduper interface {
	// alreadySeen=true -> duplicate, skip processing
	IsDuplicate(ctx context.Context, id string) (alreadySeen bool, err error)
	// MarkSeen records the id after a successful apply
	MarkSeen(ctx context.Context, id string) error
	Health(ctx context.Context) error
}
