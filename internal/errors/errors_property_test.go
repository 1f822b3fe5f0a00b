//go:build property

package errors

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestErrorCollectorProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(2468)
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("concurrent additions are all kept", prop.ForAll(
		func(goroutines, perGoroutine int) bool {
			collector := NewErrorCollector()

			var wg sync.WaitGroup
			for g := 0; g < goroutines; g++ {
				wg.Add(1)
				go func(g int) {
					defer wg.Done()
					for i := 0; i < perGoroutine; i++ {
						collector.AddError(NewRenderError(fmt.Sprintf("doc-%d-%d.md", g, i), nil))
					}
				}(g)
			}
			wg.Wait()

			return len(collector.GetErrors()) == goroutines*perGoroutine
		},
		gen.IntRange(1, 16),
		gen.IntRange(1, 32),
	))

	properties.Property("Err is nil exactly when nothing was collected", prop.ForAll(
		func(n int) bool {
			collector := NewErrorCollector()
			for i := 0; i < n; i++ {
				collector.AddError(NewReadError(fmt.Sprintf("%d.md", i), nil))
			}
			err := collector.Err()
			return (err == nil) == (n == 0) && collector.HasErrors() == (n > 0)
		},
		gen.IntRange(0, 10),
	))

	properties.Property("every collected error is reachable through Err", prop.ForAll(
		func(paths []string) bool {
			collector := NewErrorCollector()
			for _, p := range paths {
				collector.AddError(NewRenderError(p, nil))
			}
			err := collector.Err()
			for _, p := range paths {
				var de *DocsmithError
				found := false
				for _, e := range collector.GetErrors() {
					if errors.As(e, &de) && de.Path == p {
						found = true
					}
				}
				if !found || !IsType(err, ErrorTypeRender) {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(5, gen.Identifier()),
	))

	properties.Property("Clear empties the collector", prop.ForAll(
		func(n int) bool {
			collector := NewErrorCollector()
			for i := 0; i < n; i++ {
				collector.AddError(NewIOError("out.html", nil))
			}
			collector.Clear()
			return !collector.HasErrors() && collector.Err() == nil
		},
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}
