// Package circuitbreaker guards calls to model providers.
//
// A breaker stops calling a dependency that keeps failing and lets it cool
// down before trying again. It has three states:
//
//   - CLOSED: calls pass through; consecutive failures are counted
//   - OPEN: calls are refused with ErrCircuitOpen until the reset timeout elapses
//   - HALF_OPEN: trial calls pass; a success closes the breaker
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry(3, 30*time.Second)
//	cb := registry.GetBreaker("openai")
//	text, err := circuitbreaker.Do(ctx, cb, func(ctx context.Context) (string, error) {
//	    return client.Invoke(ctx, req)
//	})
//	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
//	    // degrade
//	}
package circuitbreaker
