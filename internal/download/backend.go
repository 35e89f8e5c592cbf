package download

import "context"

// Backend is the shared surface of the two transport engines. The
// coordinator dispatches through this interface and branches on
// TransportKind only during submission-time classification.
type Backend interface {
	// Start begins a transfer and returns the backend-native handle used
	// for every subsequent call (an aria2 GID, a swarm info-hash).
	Start(ctx context.Context, req Request) (handle string, err error)

	Pause(ctx context.Context, handle string) error
	Resume(ctx context.Context, handle string) error

	// Cancel tears the transfer down. CleanupTemp removes partial payloads,
	// CleanupPersist keeps them for a later resume.
	Cancel(ctx context.Context, handle string, policy CleanupPolicy) error

	// Sample returns the current facts about the transfer. It never mutates
	// coordinator state.
	Sample(ctx context.Context, handle string) (Sample, error)
}
