package appcore

import "context"

// Component is the lifecycle contract shared by every long-lived piece
// of the pool service (the Store connection, the Operation Registry's
// GC loop, the HTTP server). It is a deliberately narrow cousin of the
// teacher framework's Module/Startable/Stoppable interfaces, sized for
// a service with a fixed, small component graph rather than a generic
// dependency-injected module registry.
type Component interface {
	// Name identifies the component in logs and error messages.
	Name() string

	// Start begins the component's runtime operations. It must not
	// block longer than it takes to establish initial connections;
	// long-running work belongs in a goroutine observing ctx.Done().
	Start(ctx context.Context) error

	// Stop performs graceful shutdown, respecting ctx's deadline.
	Stop(ctx context.Context) error
}

// StartAll starts components in order, stopping everything already
// started if one fails.
func StartAll(ctx context.Context, components ...Component) error {
	started := make([]Component, 0, len(components))
	for _, c := range components {
		if err := c.Start(ctx); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				_ = started[i].Stop(ctx)
			}
			return err
		}
		started = append(started, c)
	}
	return nil
}

// StopAll stops components in reverse order, collecting the first error.
func StopAll(ctx context.Context, components ...Component) error {
	var firstErr error
	for i := len(components) - 1; i >= 0; i-- {
		if err := components[i].Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
