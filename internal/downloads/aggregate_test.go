package downloads_test

import (
	"context"
	"fmt"
	"testing"

	"spool/internal/identity"
	"spool/internal/media"
	"spool/internal/transfer"
)

// seedChild registers a completed-or-otherwise episode record under a season
// and show before the orchestrator starts.
func seedChild(engine *fakeEngine, rating string, season, show identity.GlobalKey, status transfer.Status) {
	ep := media.NewEpisode(key(rating), "E"+rating, "/parts/e.mkv", &season, &show)
	engine.seed(transfer.Record{
		Key:            ep.Key,
		Status:         status,
		ParentKey:      &season,
		GrandparentKey: &show,
		MetadataJSON:   ep.ToJSON(),
	})
}

func TestAggregateStatusPrecedence(t *testing.T) {
	tests := []struct {
		name       string
		statuses   []transfer.Status
		total      int
		wantStatus transfer.Status
		wantOK     bool
		wantPct    int
	}{
		{
			name:       "all completed",
			statuses:   []transfer.Status{transfer.StatusCompleted, transfer.StatusCompleted},
			total:      2,
			wantStatus: transfer.StatusCompleted,
			wantOK:     true,
			wantPct:    100,
		},
		{
			name:       "partial outranks failed",
			statuses:   []transfer.Status{transfer.StatusCompleted, transfer.StatusCompleted, transfer.StatusFailed},
			total:      3,
			wantStatus: transfer.StatusPartial,
			wantOK:     true,
			wantPct:    67,
		},
		{
			name:       "downloading outranks queued",
			statuses:   []transfer.Status{transfer.StatusDownloading, transfer.StatusQueued},
			total:      2,
			wantStatus: transfer.StatusDownloading,
			wantOK:     true,
			wantPct:    0,
		},
		{
			name:       "active download suppresses partial",
			statuses:   []transfer.Status{transfer.StatusCompleted, transfer.StatusDownloading},
			total:      2,
			wantStatus: transfer.StatusDownloading,
			wantOK:     true,
			wantPct:    50,
		},
		{
			name:       "pending queue suppresses partial",
			statuses:   []transfer.Status{transfer.StatusCompleted, transfer.StatusQueued},
			total:      2,
			wantStatus: transfer.StatusQueued,
			wantOK:     true,
			wantPct:    50,
		},
		{
			name:       "only failures",
			statuses:   []transfer.Status{transfer.StatusFailed, transfer.StatusFailed},
			total:      2,
			wantStatus: transfer.StatusFailed,
			wantOK:     true,
			wantPct:    0,
		},
		{
			name:       "paused alongside completions still partial",
			statuses:   []transfer.Status{transfer.StatusCompleted, transfer.StatusPaused},
			total:      2,
			wantStatus: transfer.StatusPartial,
			wantOK:     true,
			wantPct:    50,
		},
		{
			name:     "only paused children yields no data",
			statuses: []transfer.Status{transfer.StatusPaused},
			total:    1,
			wantOK:   false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			engine := newFakeEngine()
			seasonKey, showKey := key("100"), key("1")
			for i, status := range tc.statuses {
				seedChild(engine, fmt.Sprintf("10%d", i+1), seasonKey, showKey, status)
			}
			fx := newFixture(t, engine, newFakeSource(), nil)
			if err := fx.counts.Set(seasonKey, tc.total); err != nil {
				t.Fatalf("seed count: %v", err)
			}

			progress, ok := fx.orch.Progress(seasonKey)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v (progress %+v)", ok, tc.wantOK, progress)
			}
			if !tc.wantOK {
				return
			}
			if progress.Status != tc.wantStatus {
				t.Fatalf("status = %q, want %q", progress.Status, tc.wantStatus)
			}
			if progress.Percent != tc.wantPct {
				t.Fatalf("percent = %d, want %d", progress.Percent, tc.wantPct)
			}
		})
	}
}

func TestAggregateRoundsHalfUp(t *testing.T) {
	tests := []struct {
		completed, total, want int
	}{
		{1, 3, 33},
		{2, 3, 67},
		{1, 2, 50},
		{1, 8, 13},
		{5, 7, 71},
	}

	for _, tc := range tests {
		t.Run(fmt.Sprintf("%d_of_%d", tc.completed, tc.total), func(t *testing.T) {
			engine := newFakeEngine()
			seasonKey, showKey := key("100"), key("1")
			for i := 0; i < tc.completed; i++ {
				seedChild(engine, fmt.Sprintf("20%d", i+1), seasonKey, showKey, transfer.StatusCompleted)
			}
			// One failed sibling keeps the set partial so the percent is visible.
			seedChild(engine, "299", seasonKey, showKey, transfer.StatusFailed)
			fx := newFixture(t, engine, newFakeSource(), nil)
			if err := fx.counts.Set(seasonKey, tc.total); err != nil {
				t.Fatalf("seed count: %v", err)
			}

			progress, ok := fx.orch.Progress(seasonKey)
			if !ok {
				t.Fatal("expected aggregate progress")
			}
			if progress.Percent != tc.want {
				t.Fatalf("percent = %d, want %d", progress.Percent, tc.want)
			}
			if wantLabel := fmt.Sprintf("%d/%d", tc.completed, tc.total); progress.Label != wantLabel {
				t.Fatalf("label = %q, want %q", progress.Label, wantLabel)
			}
		})
	}
}

func TestAggregateTotalPrefersCatalogLeafCount(t *testing.T) {
	engine := newFakeEngine()
	source := newFakeSource()

	showKey, seasonKey := key("1"), key("100")
	show := media.NewShow(showKey, "Slow Horses", 10)
	season := media.NewSeason(seasonKey, "Season 1", &showKey, 5)
	source.add(show)
	source.setChildren(showKey, season)
	var eps []media.Item
	for i := 0; i < 5; i++ {
		ep := media.NewEpisode(key(fmt.Sprintf("10%d", i+1)), fmt.Sprintf("E%d", i+1), "/parts/e.mkv", &seasonKey, &showKey)
		source.add(ep)
		eps = append(eps, ep)
	}
	source.setChildren(seasonKey, eps...)

	fx := newFixture(t, engine, source, nil)
	if _, err := fx.orch.QueueDownload(context.Background(), show); err != nil {
		t.Fatalf("QueueDownload: %v", err)
	}

	// Five queued children, but the catalog said ten leaves: the second season
	// that has not been listed yet still counts toward the denominator.
	progress, ok := fx.orch.Progress(showKey)
	if !ok {
		t.Fatal("expected aggregate progress")
	}
	if progress.Total != 10 {
		t.Fatalf("total = %d, want 10 (catalog leaf count)", progress.Total)
	}
	if progress.Status != transfer.StatusQueued {
		t.Fatalf("status = %q, want queued", progress.Status)
	}
	if progress.Label != "0/10" {
		t.Fatalf("label = %q, want 0/10", progress.Label)
	}
}

func TestAggregateTotalFallsBackToPersistedCount(t *testing.T) {
	engine := newFakeEngine()
	showKey, seasonKey := key("1"), key("100")
	seedChild(engine, "101", seasonKey, showKey, transfer.StatusCompleted)
	seedChild(engine, "102", seasonKey, showKey, transfer.StatusCompleted)

	fx := newFixture(t, engine, newFakeSource(), nil)
	if err := fx.counts.Set(showKey, 8); err != nil {
		t.Fatalf("seed count: %v", err)
	}

	progress, ok := fx.orch.Progress(showKey)
	if !ok {
		t.Fatal("expected aggregate progress")
	}
	if progress.Total != 8 {
		t.Fatalf("total = %d, want 8 (persisted count)", progress.Total)
	}
	if progress.Status != transfer.StatusPartial {
		t.Fatalf("status = %q, want partial", progress.Status)
	}
	if progress.Percent != 25 {
		t.Fatalf("percent = %d, want 25", progress.Percent)
	}
}

func TestAggregateTotalFallsBackToObservedChildren(t *testing.T) {
	engine := newFakeEngine()
	showKey, seasonKey := key("1"), key("100")
	for i := 1; i <= 3; i++ {
		seedChild(engine, fmt.Sprintf("10%d", i), seasonKey, showKey, transfer.StatusCompleted)
	}

	fx := newFixture(t, engine, newFakeSource(), nil)

	progress, ok := fx.orch.Progress(showKey)
	if !ok {
		t.Fatal("expected aggregate progress")
	}
	if progress.Total != 3 {
		t.Fatalf("total = %d, want 3 (observed children)", progress.Total)
	}
	if progress.Status != transfer.StatusCompleted || progress.Percent != 100 {
		t.Fatalf("progress = %+v, want completed at 100", progress)
	}
}

func TestAggregateRefusesTotalWithoutChildren(t *testing.T) {
	fx := newFixture(t, newFakeEngine(), newFakeSource(), nil)
	showKey := key("1")
	if err := fx.counts.Set(showKey, 10); err != nil {
		t.Fatalf("seed count: %v", err)
	}

	if progress, ok := fx.orch.Progress(showKey); ok {
		t.Fatalf("a known total with no observed children must yield no data, got %+v", progress)
	}
}

func TestProgressLeafRecordWinsOverAggregation(t *testing.T) {
	engine := newFakeEngine()
	movie := media.NewMovie(key("42"), "Heat", "/parts/heat.mkv")
	engine.seed(transfer.Record{
		Key:             movie.Key,
		Status:          transfer.StatusDownloading,
		ProgressPercent: 40,
		DownloadedBytes: 4096,
		TotalBytes:      10240,
		MetadataJSON:    movie.ToJSON(),
	})
	fx := newFixture(t, engine, newFakeSource(), nil)

	first, ok := fx.orch.Progress(movie.Key)
	if !ok {
		t.Fatal("expected leaf progress")
	}
	if first.Status != transfer.StatusDownloading || first.Percent != 40 || first.DownloadedBytes != 4096 {
		t.Fatalf("progress = %+v", first)
	}

	// Pure query: asking twice must not change the answer.
	second, _ := fx.orch.Progress(movie.Key)
	if first != second {
		t.Fatalf("progress changed between identical queries: %+v vs %+v", first, second)
	}
}

func TestProgressProbesParentReferencesWithoutMetadata(t *testing.T) {
	engine := newFakeEngine()
	showKey, seasonKey := key("1"), key("100")
	// The record itself carries no metadata snapshot: only the foreign keys
	// identify the containers.
	engine.seed(transfer.Record{
		Key:            key("101"),
		Status:         transfer.StatusQueued,
		ParentKey:      &seasonKey,
		GrandparentKey: &showKey,
	})
	fx := newFixture(t, engine, newFakeSource(), nil)

	for _, containerKey := range []identity.GlobalKey{seasonKey, showKey} {
		progress, ok := fx.orch.Progress(containerKey)
		if !ok {
			t.Fatalf("expected probed aggregate for %s", containerKey)
		}
		if progress.Status != transfer.StatusQueued || progress.Total != 1 {
			t.Fatalf("progress for %s = %+v", containerKey, progress)
		}
	}
}

func TestProgressUnknownKeyHasNoData(t *testing.T) {
	fx := newFixture(t, newFakeEngine(), newFakeSource(), nil)
	if _, ok := fx.orch.Progress(key("404")); ok {
		t.Fatal("unknown key must report no data")
	}
}
