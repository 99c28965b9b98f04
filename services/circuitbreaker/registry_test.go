package circuitbreaker_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sanoy-si/doom-blocker-backend/services/circuitbreaker"
)

var _ = Describe("Registry", func() {
	var registry *circuitbreaker.Registry

	BeforeEach(func() {
		registry = circuitbreaker.NewRegistry(3, 30*time.Second)
	})

	Describe("GetBreaker", func() {
		It("should create a new breaker for an unknown provider", func() {
			cb := registry.GetBreaker("openai")
			Expect(cb).NotTo(BeNil())
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
			Expect(cb.Metrics().Name).To(Equal("openai"))
		})

		It("should return the same breaker for the same provider", func() {
			Expect(registry.GetBreaker("openai")).To(BeIdenticalTo(registry.GetBreaker("openai")))
		})

		It("should return different breakers for different providers", func() {
			Expect(registry.GetBreaker("openai")).NotTo(BeIdenticalTo(registry.GetBreaker("openai-alternate")))
		})

		It("should use registry threshold for new breakers", func() {
			registry = circuitbreaker.NewRegistry(2, time.Minute)
			cb := registry.GetBreaker("openai")
			cb.RecordFailure()
			cb.RecordFailure()
			Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
		})

		It("should be safe under concurrent lookups", func() {
			var wg sync.WaitGroup
			breakers := make([]*circuitbreaker.CircuitBreaker, 20)
			for i := range breakers {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					breakers[i] = registry.GetBreaker("openai")
				}(i)
			}
			wg.Wait()
			for _, cb := range breakers {
				Expect(cb).To(BeIdenticalTo(breakers[0]))
			}
		})
	})

	Describe("OnStateChange", func() {
		It("should install the hook on new breakers", func() {
			var mu sync.Mutex
			opened := []string{}
			registry.OnStateChange(func(name string, _, to circuitbreaker.State) {
				mu.Lock()
				defer mu.Unlock()
				if to == circuitbreaker.StateOpen {
					opened = append(opened, name)
				}
			})

			cb := registry.GetBreaker("openai")
			for i := 0; i < 3; i++ {
				_ = cb.Execute(context.Background(), failing)
			}
			Expect(opened).To(Equal([]string{"openai"}))
		})
	})

	Describe("Stats and Metrics", func() {
		It("should report every breaker", func() {
			registry.GetBreaker("b")
			registry.GetBreaker("a").RecordFailure()

			Expect(registry.Stats()).To(HaveLen(2))
			metrics := registry.Metrics()
			Expect(metrics).To(HaveLen(2))
			Expect(metrics[0].Name).To(Equal("a"))
			Expect(metrics[0].TotalFailures).To(Equal(uint64(1)))
		})

		It("should forget breakers on Reset", func() {
			registry.GetBreaker("openai")
			registry.Reset()
			Expect(registry.Stats()).To(BeEmpty())
		})
	})
})
