package llm

import "context"

// Gate bounds in-flight chat calls process-wide. Implemented as a
// buffered token channel so acquisition can be cancelled by context.
type Gate struct {
	tokens chan struct{}
}

// NewGate creates a gate admitting at most n concurrent holders.
func NewGate(n int) *Gate {
	if n <= 0 {
		n = 8
	}
	return &Gate{tokens: make(chan struct{}, n)}
}

// Acquire blocks until a slot is free or the context is done.
func (g *Gate) Acquire(ctx context.Context) error {
	select {
	case g.tokens <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot acquired with Acquire.
func (g *Gate) Release() {
	<-g.tokens
}
