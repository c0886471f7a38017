package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nao1215/refgrab/internal/model"
)

func TestBatchProcessorProcessBatch(t *testing.T) {
	t.Parallel()

	t.Run("processes every seed and keeps order", func(t *testing.T) {
		t.Parallel()

		factory := func() *Pipeline {
			p := New()
			p.AddStep(&fakeStep{
				name: "crawl",
				do: func(_ context.Context, summary *model.CrawlSummary) error {
					summary.PagesVisited = 1
					return nil
				},
			})
			return p
		}

		bp := NewBatchProcessor(factory, WithConcurrency(2))
		seeds := []string{
			"https://loinc.org/downloads/",
			"https://cms.gov/files/",
			"https://example.com/data/",
		}

		summaries, err := bp.ProcessBatch(context.Background(), seeds)
		if err != nil {
			t.Fatalf("ProcessBatch() error = %v", err)
		}

		if len(summaries) != len(seeds) {
			t.Fatalf("got %d summaries, want %d", len(summaries), len(seeds))
		}
		for i, summary := range summaries {
			if summary == nil {
				t.Fatalf("summary %d is nil", i)
			}
			if summary.Seed != seeds[i] {
				t.Errorf("summary %d seed = %q, want %q", i, summary.Seed, seeds[i])
			}
			if summary.RunID == "" {
				t.Errorf("summary %d has no run ID", i)
			}
			if summary.PagesVisited != 1 {
				t.Errorf("summary %d pages = %d, want 1", i, summary.PagesVisited)
			}
		}
	})

	t.Run("a failed run does not abort the batch", func(t *testing.T) {
		t.Parallel()

		var runs atomic.Int32
		factory := func() *Pipeline {
			p := New()
			p.AddStep(&fakeStep{
				name: "crawl",
				do: func(_ context.Context, summary *model.CrawlSummary) error {
					if runs.Add(1) == 1 {
						summary.AddError("seed unreachable")
						return context.DeadlineExceeded
					}
					return nil
				},
			})
			return p
		}

		bp := NewBatchProcessor(factory)
		summaries, err := bp.ProcessBatch(context.Background(),
			[]string{"https://a.example.com/", "https://b.example.com/"})
		if err != nil {
			t.Fatalf("ProcessBatch() error = %v", err)
		}

		if len(summaries) != 2 {
			t.Fatalf("got %d summaries, want 2", len(summaries))
		}
		if got := runs.Load(); got != 2 {
			t.Errorf("executed %d runs, want 2", got)
		}
	})

	t.Run("concurrency limit bounds simultaneous runs", func(t *testing.T) {
		t.Parallel()

		var current, peak atomic.Int32
		gate := make(chan struct{})

		factory := func() *Pipeline {
			p := New()
			p.AddStep(&fakeStep{
				name: "crawl",
				do: func(_ context.Context, _ *model.CrawlSummary) error {
					n := current.Add(1)
					for {
						old := peak.Load()
						if n <= old || peak.CompareAndSwap(old, n) {
							break
						}
					}
					<-gate
					current.Add(-1)
					return nil
				},
			})
			return p
		}

		bp := NewBatchProcessor(factory, WithConcurrency(2))

		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = bp.ProcessBatch(context.Background(), []string{
				"https://a.example.com/", "https://b.example.com/",
				"https://c.example.com/", "https://d.example.com/",
			})
		}()

		close(gate)
		<-done

		if got := peak.Load(); got > 2 {
			t.Errorf("peak concurrency = %d, want at most 2", got)
		}
	})
}

func TestBatchProcessorProcessBatchWithCallback(t *testing.T) {
	t.Parallel()

	factory := func() *Pipeline {
		return New()
	}

	bp := NewBatchProcessor(factory, WithConcurrency(2))

	var mu sync.Mutex
	got := make(map[int]string)

	seeds := []string{"https://a.example.com/", "https://b.example.com/"}
	err := bp.ProcessBatchWithCallback(context.Background(), seeds,
		func(summary *model.CrawlSummary, index int) {
			mu.Lock()
			defer mu.Unlock()
			got[index] = summary.Seed
		})
	if err != nil {
		t.Fatalf("ProcessBatchWithCallback() error = %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("callback ran %d times, want 2", len(got))
	}
	for i, seed := range seeds {
		if got[i] != seed {
			t.Errorf("callback for index %d got seed %q, want %q", i, got[i], seed)
		}
	}
}
