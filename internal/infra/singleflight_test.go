package infra

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
)

func TestGroupDeduplicates(t *testing.T) {
	var g Group[string, int]
	var executions atomic.Int64
	gate := make(chan struct{})

	const callers = 8
	var wg sync.WaitGroup
	results := make([]int, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err, _ := g.Do("key", func() (int, error) {
				executions.Add(1)
				<-gate
				return 42, nil
			})
			if err != nil {
				t.Error(err)
			}
			results[i] = v
		}(i)
	}

	// Wait until every caller has either joined the in-flight call or
	// executed, then let the single execution finish.
	for g.Stats().Hits+g.Stats().Misses < callers {
		runtime.Gosched()
	}
	close(gate)
	wg.Wait()

	if got := executions.Load(); got != 1 {
		t.Errorf("executions = %d, want 1", got)
	}
	for i, v := range results {
		if v != 42 {
			t.Errorf("caller %d got %d", i, v)
		}
	}
}

func TestGroupDistinctKeysRunSeparately(t *testing.T) {
	var g Group[string, string]
	a, _, _ := g.Do("a", func() (string, error) { return "va", nil })
	b, _, _ := g.Do("b", func() (string, error) { return "vb", nil })
	if a != "va" || b != "vb" {
		t.Errorf("a=%q b=%q", a, b)
	}
}

func TestGroupErrorShared(t *testing.T) {
	var g Group[string, int]
	boom := errors.New("boom")
	_, err, _ := g.Do("k", func() (int, error) { return 0, boom })
	if !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
	// The failed call is forgotten; the next one executes fresh.
	v, err, _ := g.Do("k", func() (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Errorf("v=%d err=%v", v, err)
	}
}

func TestGroupSequentialCallsExecuteEachTime(t *testing.T) {
	var g Group[string, int]
	calls := 0
	for i := 0; i < 3; i++ {
		g.Do("k", func() (int, error) {
			calls++
			return calls, nil
		})
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (no caching across completions)", calls)
	}
}
