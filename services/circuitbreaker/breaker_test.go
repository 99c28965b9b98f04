package circuitbreaker_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sanoy-si/doom-blocker-backend/services/circuitbreaker"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errUpstream = errors.New("upstream failed")

func failing(context.Context) error { return errUpstream }
func succeeding(context.Context) error { return nil }

var _ = Describe("CircuitBreaker", func() {
	var (
		cb    *circuitbreaker.CircuitBreaker
		clock *manualClock
		ctx   context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		clock = &manualClock{now: time.Date(2025, 1, 15, 16, 0, 0, 0, time.UTC)}
		cb = circuitbreaker.NewCircuitBreaker(3, 30*time.Second).WithClock(clock.Now)
	})

	Describe("NewCircuitBreaker", func() {
		It("should create a circuit breaker in closed state", func() {
			Expect(cb).NotTo(BeNil())
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
		})
	})

	Describe("State transitions", func() {
		Context("when in CLOSED state", func() {
			It("should run the operation", func() {
				calls := 0
				err := cb.Execute(ctx, func(context.Context) error { calls++; return nil })
				Expect(err).NotTo(HaveOccurred())
				Expect(calls).To(Equal(1))
			})

			It("should remain closed after failures below threshold", func() {
				Expect(cb.Execute(ctx, failing)).To(MatchError(errUpstream))
				Expect(cb.Execute(ctx, failing)).To(MatchError(errUpstream))
				Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
			})

			It("should reset the failure streak on success", func() {
				_ = cb.Execute(ctx, failing)
				_ = cb.Execute(ctx, failing)
				Expect(cb.Execute(ctx, succeeding)).To(Succeed())
				_ = cb.Execute(ctx, failing)
				Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
				Expect(cb.Metrics().FailureCount).To(Equal(1))
			})

			It("should transition to OPEN after reaching failure threshold", func() {
				for i := 0; i < 3; i++ {
					_ = cb.Execute(ctx, failing)
				}
				Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
			})
		})

		Context("when in OPEN state", func() {
			BeforeEach(func() {
				for i := 0; i < 3; i++ {
					_ = cb.Execute(ctx, failing)
				}
				Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
			})

			It("should refuse calls without invoking the operation", func() {
				calls := 0
				err := cb.Execute(ctx, func(context.Context) error { calls++; return nil })
				Expect(err).To(MatchError(circuitbreaker.ErrCircuitOpen))
				Expect(calls).To(BeZero())
				Expect(cb.Metrics().Rejected).To(Equal(uint64(1)))
			})

			It("should remain OPEN before reset timeout expires", func() {
				clock.Advance(29 * time.Second)
				Expect(cb.Allow()).To(BeFalse())
				Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
			})

			It("should transition to HALF_OPEN after reset timeout", func() {
				clock.Advance(30 * time.Second)
				Expect(cb.Allow()).To(BeTrue())
				Expect(cb.State()).To(Equal(circuitbreaker.StateHalfOpen))
			})

			It("should close after one successful trial call", func() {
				clock.Advance(30 * time.Second)
				Expect(cb.Execute(ctx, succeeding)).To(Succeed())
				Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
				Expect(cb.Metrics().FailureCount).To(BeZero())
			})

			It("should reopen when the trial call fails", func() {
				clock.Advance(30 * time.Second)
				Expect(cb.Execute(ctx, failing)).To(MatchError(errUpstream))
				Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))

				// cool-down restarts from the new failure
				clock.Advance(10 * time.Second)
				Expect(cb.Allow()).To(BeFalse())
			})
		})

		Context("with real time", func() {
			It("should recover after the reset timeout", func() {
				cb = circuitbreaker.NewCircuitBreaker(1, 50*time.Millisecond)
				_ = cb.Execute(ctx, failing)
				Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))

				Eventually(cb.Allow).WithTimeout(time.Second).WithPolling(10 * time.Millisecond).Should(BeTrue())
				Expect(cb.State()).To(Equal(circuitbreaker.StateHalfOpen))
			})
		})
	})

	Describe("Do", func() {
		It("should return the operation's value", func() {
			v, err := circuitbreaker.Do(ctx, cb, func(context.Context) (string, error) {
				return "g1c0", nil
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal("g1c0"))
		})

		It("should return the zero value on failure", func() {
			v, err := circuitbreaker.Do(ctx, cb, func(context.Context) (string, error) {
				return "partial", errUpstream
			})
			Expect(err).To(MatchError(errUpstream))
			Expect(v).To(BeEmpty())
		})
	})

	Describe("Metrics", func() {
		It("should count requests, failures and transitions", func() {
			_ = cb.Execute(ctx, succeeding)
			for i := 0; i < 3; i++ {
				_ = cb.Execute(ctx, failing)
			}
			_ = cb.Execute(ctx, succeeding) // refused
			clock.Advance(30 * time.Second)
			_ = cb.Execute(ctx, succeeding)

			m := cb.Metrics()
			Expect(m.State).To(Equal(circuitbreaker.StateClosed))
			Expect(m.TotalRequests).To(Equal(uint64(6)))
			Expect(m.TotalFailures).To(Equal(uint64(3)))
			Expect(m.FailureRate).To(BeNumerically("~", 0.5, 1e-9))
			Expect(m.LastFailure).NotTo(BeNil())
			Expect(m.Transitions[circuitbreaker.StateOpen]).To(Equal(uint64(1)))
			Expect(m.Transitions[circuitbreaker.StateHalfOpen]).To(Equal(uint64(1)))
			Expect(m.Transitions[circuitbreaker.StateClosed]).To(Equal(uint64(1)))
		})
	})

	Describe("OnStateChange", func() {
		It("should report every transition", func() {
			var seen []string
			cb.Named("openai").OnStateChange(func(name string, from, to circuitbreaker.State) {
				seen = append(seen, name+":"+from.String()+"->"+to.String())
			})

			for i := 0; i < 3; i++ {
				_ = cb.Execute(ctx, failing)
			}
			clock.Advance(30 * time.Second)
			_ = cb.Execute(ctx, succeeding)

			Expect(seen).To(Equal([]string{
				"openai:CLOSED->OPEN",
				"openai:OPEN->HALF_OPEN",
				"openai:HALF_OPEN->CLOSED",
			}))
		})
	})

	Describe("Concurrent callers", func() {
		It("should serialize counter updates", func() {
			cb = circuitbreaker.NewCircuitBreaker(1000, time.Minute)
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < 25; j++ {
						_ = cb.Execute(ctx, failing)
					}
				}()
			}
			wg.Wait()

			m := cb.Metrics()
			Expect(m.TotalRequests).To(Equal(uint64(500)))
			Expect(m.TotalFailures).To(Equal(uint64(500)))
			Expect(m.FailureCount).To(Equal(500))
		})
	})

	Describe("State.String", func() {
		It("should return correct string representation", func() {
			Expect(circuitbreaker.StateClosed.String()).To(Equal("CLOSED"))
			Expect(circuitbreaker.StateOpen.String()).To(Equal("OPEN"))
			Expect(circuitbreaker.StateHalfOpen.String()).To(Equal("HALF_OPEN"))
		})
	})
})
