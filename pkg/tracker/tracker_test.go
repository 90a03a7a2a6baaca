package tracker

import (
	"sync"
	"testing"
)

func TestTracker(t *testing.T) {
	tr := New()
	provider := "wikidata"

	if stats := tr.Snapshot(); len(stats) != 0 {
		t.Errorf("Expected empty stats, got %d", len(stats))
	}

	tr.TrackCacheHit(provider)
	tr.TrackCacheMiss(provider)
	tr.TrackAPISuccess(provider)
	tr.TrackAPIFailure(provider)
	tr.TrackAPIRetry(provider)
	tr.TrackAPIRetry(provider)

	pStats, ok := tr.Snapshot()[provider]
	if !ok {
		t.Fatalf("Expected stats for provider %s", provider)
	}
	if pStats.CacheHits != 1 {
		t.Errorf("Expected 1 CacheHit, got %d", pStats.CacheHits)
	}
	if pStats.CacheMisses != 1 {
		t.Errorf("Expected 1 CacheMiss, got %d", pStats.CacheMisses)
	}
	if pStats.APISuccess != 1 {
		t.Errorf("Expected 1 APISuccess, got %d", pStats.APISuccess)
	}
	if pStats.APIFailures != 1 {
		t.Errorf("Expected 1 APIFailure, got %d", pStats.APIFailures)
	}
	if pStats.APIRetries != 2 {
		t.Errorf("Expected 2 APIRetries, got %d", pStats.APIRetries)
	}
}

func TestTracker_Concurrent(t *testing.T) {
	tr := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.TrackAPISuccess("huggingface")
			tr.TrackAPISuccess("wikidata")
		}()
	}
	wg.Wait()

	stats := tr.Snapshot()
	if stats["huggingface"].APISuccess != 50 || stats["wikidata"].APISuccess != 50 {
		t.Errorf("lost updates: %+v", stats)
	}

	got := tr.Providers()
	if len(got) != 2 || got[0] != "huggingface" || got[1] != "wikidata" {
		t.Errorf("Providers() = %v, want sorted [huggingface wikidata]", got)
	}
}
