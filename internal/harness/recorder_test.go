package harness

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderSummarize(t *testing.T) {
	rec := &Recorder{}
	rec.Record(Result{Name: "a", Passed: true, Timestamp: time.Now()})
	rec.Record(Result{Name: "b", Passed: false, Message: "nope", Timestamp: time.Now()})
	rec.Record(Result{Name: "c", Passed: true, Timestamp: time.Now()})
	rec.Record(Result{Name: "d", Passed: false, Message: "also nope", Timestamp: time.Now()})

	s := rec.Summarize()
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 2, s.Passed)
	assert.Equal(t, 2, s.Failed)
	assert.Equal(t, []string{"b", "d"}, s.Failures)
}

func TestRecorderEmptySummary(t *testing.T) {
	rec := &Recorder{}
	s := rec.Summarize()
	assert.Zero(t, s.Total)
	assert.Empty(t, s.Failures)
	assert.Empty(t, rec.Results())
}

func TestRecorderResultsReturnsCopy(t *testing.T) {
	rec := &Recorder{}
	rec.Record(Result{Name: "a", Passed: true})

	first := rec.Results()
	first[0].Name = "mutated"

	require.Equal(t, "a", rec.Results()[0].Name)
}

func TestRecorderConcurrentRecord(t *testing.T) {
	rec := &Recorder{}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				rec.Record(Result{Name: fmt.Sprintf("case-%d-%d", n, j), Passed: j%2 == 0})
			}
		}(i)
	}
	wg.Wait()

	s := rec.Summarize()
	assert.Equal(t, 200, s.Total)
	assert.Equal(t, s.Total, s.Passed+s.Failed)
}
