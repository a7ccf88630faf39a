package emit

import "context"

// Emitter receives observability events from the materialization
// pipeline. Implementations must not block the caller indefinitely;
// Emit is called from suspension-free code paths.
type Emitter interface {
	Emit(event Event)
	EmitBatch(ctx context.Context, events []Event) error
	Flush(ctx context.Context) error
}
