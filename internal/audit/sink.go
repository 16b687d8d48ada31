package audit

import "context"

// Sink consumes batches of events. Consume honors ctx deadlines; Close is
// called once when the Hub shuts down.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}
