package source

import "context"

// Source controls the underlying speech capture stream. Fragments and stream
// signals flow back to the session controller out of band; Source only
// carries the control direction.
type Source interface {
	Start(ctx context.Context) error
	Stop() error
	// Restart resumes capture after an unexpected end of stream while a
	// session is still recording.
	Restart(ctx context.Context) error
}
