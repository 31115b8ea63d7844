package downloads_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"spool/internal/counts"
	"spool/internal/downloads"
	"spool/internal/identity"
	"spool/internal/media"
	"spool/internal/netpolicy"
	"spool/internal/transfer"
)

// fakeEngine is an in-memory Engine standing in for the transfer layer.
type fakeEngine struct {
	mu        sync.Mutex
	records   map[identity.GlobalKey]transfer.Record
	admitted  []transfer.Job
	admitErr  error
	deleteErr map[identity.GlobalKey]error
	calls     []string
	loaded    bool

	events    chan transfer.Record
	deletions chan transfer.DeletionProgress
	recovered chan struct{}
}

func newFakeEngine() *fakeEngine {
	e := &fakeEngine{
		records:   make(map[identity.GlobalKey]transfer.Record),
		deleteErr: make(map[identity.GlobalKey]error),
		events:    make(chan transfer.Record, 64),
		deletions: make(chan transfer.DeletionProgress, 16),
		recovered: make(chan struct{}),
	}
	close(e.recovered)
	return e
}

// newUnrecoveredEngine keeps the recovery signal open until finishRecovery.
func newUnrecoveredEngine() *fakeEngine {
	e := newFakeEngine()
	e.recovered = make(chan struct{})
	return e
}

func (e *fakeEngine) finishRecovery() { close(e.recovered) }

func (e *fakeEngine) seed(record transfer.Record) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records[record.Key] = record
}

func (e *fakeEngine) Admit(_ context.Context, job transfer.Job) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.admitErr != nil {
		return e.admitErr
	}
	e.admitted = append(e.admitted, job)
	e.records[job.Item.Key] = transfer.Record{
		Key:            job.Item.Key,
		Status:         transfer.StatusQueued,
		ParentKey:      job.Item.Parent,
		GrandparentKey: job.Item.Grandparent,
		MetadataJSON:   job.Item.ToJSON(),
	}
	return nil
}

func (e *fakeEngine) record(call string, key identity.GlobalKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, call+" "+key.String())
}

func (e *fakeEngine) Pause(_ context.Context, key identity.GlobalKey) error {
	e.record("pause", key)
	return nil
}

func (e *fakeEngine) Resume(_ context.Context, key identity.GlobalKey) error {
	e.record("resume", key)
	return nil
}

func (e *fakeEngine) Retry(_ context.Context, key identity.GlobalKey) error {
	e.record("retry", key)
	return nil
}

func (e *fakeEngine) Cancel(_ context.Context, key identity.GlobalKey) error {
	e.record("cancel", key)
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.records, key)
	return nil
}

func (e *fakeEngine) Delete(_ context.Context, key identity.GlobalKey) error {
	e.record("delete", key)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.deleteErr[key]; err != nil {
		return err
	}
	delete(e.records, key)
	return nil
}

func (e *fakeEngine) AllDownloads(context.Context) ([]transfer.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loaded = true
	records := make([]transfer.Record, 0, len(e.records))
	for _, record := range e.records {
		records = append(records, record)
	}
	return records, nil
}

func (e *fakeEngine) Events() <-chan transfer.Record                    { return e.events }
func (e *fakeEngine) DeletionEvents() <-chan transfer.DeletionProgress { return e.deletions }
func (e *fakeEngine) Recovered() <-chan struct{}                       { return e.recovered }

func (e *fakeEngine) admittedKeys() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	keys := make([]string, 0, len(e.admitted))
	for _, job := range e.admitted {
		keys = append(keys, job.Item.Key.String())
	}
	return keys
}

func (e *fakeEngine) callLog() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

// fakeSource is an in-memory catalog.
type fakeSource struct {
	mu            sync.Mutex
	items         map[identity.GlobalKey]media.Item
	children      map[identity.GlobalKey][]media.Item
	itemErr       map[identity.GlobalKey]error
	childrenErr   map[identity.GlobalKey]error
	childrenCalls []identity.GlobalKey
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		items:       make(map[identity.GlobalKey]media.Item),
		children:    make(map[identity.GlobalKey][]media.Item),
		itemErr:     make(map[identity.GlobalKey]error),
		childrenErr: make(map[identity.GlobalKey]error),
	}
}

func (s *fakeSource) add(item media.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.Key] = item
}

func (s *fakeSource) setChildren(key identity.GlobalKey, children ...media.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.children[key] = children
}

func (s *fakeSource) Item(_ context.Context, key identity.GlobalKey) (media.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.itemErr[key]; err != nil {
		return media.Item{}, err
	}
	item, ok := s.items[key]
	if !ok {
		return media.Item{}, fmt.Errorf("item %s not in catalog", key)
	}
	return item, nil
}

func (s *fakeSource) Children(_ context.Context, key identity.GlobalKey) ([]media.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.childrenCalls = append(s.childrenCalls, key)
	if err := s.childrenErr[key]; err != nil {
		return nil, err
	}
	return s.children[key], nil
}

func key(rating string) identity.GlobalKey {
	return identity.GlobalKey("srv1:" + rating)
}

type orchestratorFixture struct {
	orch   *downloads.Orchestrator
	engine *fakeEngine
	source *fakeSource
	counts *counts.Store
}

func newFixture(t *testing.T, engine *fakeEngine, source *fakeSource, policy netpolicy.Policy) orchestratorFixture {
	t.Helper()
	countStore := counts.NewStore(filepath.Join(t.TempDir(), "counts.json"), nil)
	orch := downloads.New(downloads.Deps{
		Engine:      engine,
		Source:      source,
		Counts:      countStore,
		Policy:      policy,
		DownloadDir: t.TempDir(),
	})
	t.Cleanup(orch.Close)

	select {
	case <-orch.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator never became ready")
	}
	return orchestratorFixture{orch: orch, engine: engine, source: source, counts: countStore}
}

func waitForProgressStatus(t *testing.T, orch *downloads.Orchestrator, k identity.GlobalKey, want transfer.Status) downloads.Progress {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if progress, ok := orch.Progress(k); ok && progress.Status == want {
			return progress
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("key %s never reached status %q", k, want)
	return downloads.Progress{}
}

func TestQueueDownloadBlockedOnConstrainedNetwork(t *testing.T) {
	engine := newFakeEngine()
	fx := newFixture(t, engine, newFakeSource(), netpolicy.Static(true))

	movie := media.NewMovie(key("42"), "Heat", "/parts/heat.mkv")
	count, err := fx.orch.QueueDownload(context.Background(), movie)
	if !errors.Is(err, downloads.ErrNetworkBlocked) {
		t.Fatalf("expected ErrNetworkBlocked, got %v", err)
	}
	if count != 0 {
		t.Fatalf("count = %d, want 0", count)
	}
	if len(engine.admittedKeys()) != 0 {
		t.Fatal("no admission may happen while blocked")
	}
}

func TestQueueLeafAdmitsMovieAndProjectsImmediately(t *testing.T) {
	engine := newFakeEngine()
	source := newFakeSource()
	movie := media.NewMovie(key("42"), "Heat", "/parts/heat.mkv")
	source.add(movie)
	fx := newFixture(t, engine, source, nil)

	count, err := fx.orch.QueueDownload(context.Background(), movie)
	if err != nil {
		t.Fatalf("QueueDownload: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
	if got := engine.admittedKeys(); len(got) != 1 || got[0] != "srv1:42" {
		t.Fatalf("admitted = %v", got)
	}

	progress, ok := fx.orch.Progress(movie.Key)
	if !ok || progress.Status != transfer.StatusQueued {
		t.Fatalf("expected immediate queued projection, got %+v (%v)", progress, ok)
	}
}

func TestQueueLeafIdempotentForActiveAndCompleted(t *testing.T) {
	for _, status := range []transfer.Status{transfer.StatusDownloading, transfer.StatusCompleted} {
		t.Run(string(status), func(t *testing.T) {
			engine := newFakeEngine()
			movie := media.NewMovie(key("42"), "Heat", "/parts/heat.mkv")
			engine.seed(transfer.Record{Key: movie.Key, Status: status, MetadataJSON: movie.ToJSON()})
			fx := newFixture(t, engine, newFakeSource(), nil)

			count, err := fx.orch.QueueDownload(context.Background(), movie)
			if err != nil {
				t.Fatalf("QueueDownload: %v", err)
			}
			if count != 1 {
				t.Fatalf("count = %d, want 1 (attempted)", count)
			}
			if len(engine.admittedKeys()) != 0 {
				t.Fatal("no re-admission for active or completed records")
			}
		})
	}
}

func TestQueueLeafMetadataFailureFallsBackToCallerItem(t *testing.T) {
	engine := newFakeEngine()
	source := newFakeSource()
	movie := media.NewMovie(key("42"), "Heat", "/parts/heat.mkv")
	source.itemErr[movie.Key] = errors.New("catalog down")
	fx := newFixture(t, engine, source, nil)

	if _, err := fx.orch.QueueDownload(context.Background(), movie); err != nil {
		t.Fatalf("metadata failure must not abort admission: %v", err)
	}
	if got := engine.admittedKeys(); len(got) != 1 {
		t.Fatalf("admitted = %v", got)
	}
	engine.mu.Lock()
	job := engine.admitted[0]
	engine.mu.Unlock()
	if job.Item.Title != "Heat" {
		t.Fatalf("expected caller-supplied metadata, got %+v", job.Item)
	}
}

func TestQueueLeafAdmissionErrorRemovesProjection(t *testing.T) {
	engine := newFakeEngine()
	engine.admitErr = errors.New("engine rejected")
	source := newFakeSource()
	movie := media.NewMovie(key("42"), "Heat", "/parts/heat.mkv")
	source.add(movie)
	fx := newFixture(t, engine, source, nil)

	if _, err := fx.orch.QueueDownload(context.Background(), movie); err == nil {
		t.Fatal("expected admission error to propagate for a direct leaf call")
	}
	if _, ok := fx.orch.Progress(movie.Key); ok {
		t.Fatal("failed admission must not leave a projected record")
	}
}

func TestQueueShowExpandsSeasonsAndPersistsCounts(t *testing.T) {
	engine := newFakeEngine()
	source := newFakeSource()

	showKey, s1Key, s2Key := key("5"), key("7"), key("8")
	show := media.NewShow(showKey, "The Wire", 5)
	season1 := media.NewSeason(s1Key, "Season 1", &showKey, 3)
	season2 := media.NewSeason(s2Key, "Season 2", &showKey, 2)
	source.add(show)
	source.setChildren(showKey, season1, season2)

	var episodes []media.Item
	for i := 0; i < 3; i++ {
		ep := media.NewEpisode(key(fmt.Sprintf("7%d", i)), fmt.Sprintf("S1E%d", i+1), "/parts/e.mkv", &s1Key, &showKey)
		source.add(ep)
		episodes = append(episodes, ep)
	}
	source.setChildren(s1Key, episodes...)
	var s2eps []media.Item
	for i := 0; i < 2; i++ {
		ep := media.NewEpisode(key(fmt.Sprintf("8%d", i)), fmt.Sprintf("S2E%d", i+1), "/parts/e.mkv", &s2Key, &showKey)
		source.add(ep)
		s2eps = append(s2eps, ep)
	}
	source.setChildren(s2Key, s2eps...)

	fx := newFixture(t, engine, source, nil)

	count, err := fx.orch.QueueDownload(context.Background(), show)
	if err != nil {
		t.Fatalf("QueueDownload: %v", err)
	}
	if count != 5 {
		t.Fatalf("count = %d, want 5", count)
	}
	if got := len(engine.admittedKeys()); got != 5 {
		t.Fatalf("admitted %d leaves, want 5", got)
	}

	if total, ok := fx.counts.Get(showKey); !ok || total != 5 {
		t.Fatalf("show count = %d, %v", total, ok)
	}
	if total, ok := fx.counts.Get(s1Key); !ok || total != 3 {
		t.Fatalf("season 1 count = %d, %v", total, ok)
	}
	if fx.orch.IsQueueing(showKey) {
		t.Fatal("queueing flag must be cleared after expansion")
	}
}

func TestQueueShowToleratesOneSeasonFailing(t *testing.T) {
	engine := newFakeEngine()
	source := newFakeSource()

	showKey, s1Key, s2Key := key("5"), key("7"), key("8")
	show := media.NewShow(showKey, "The Wire", 0)
	season1 := media.NewSeason(s1Key, "Season 1", &showKey, 0)
	season2 := media.NewSeason(s2Key, "Season 2", &showKey, 0)
	source.add(show)
	source.setChildren(showKey, season1, season2)
	source.childrenErr[s1Key] = errors.New("season listing failed")

	ep := media.NewEpisode(key("80"), "S2E1", "/parts/e.mkv", &s2Key, &showKey)
	source.add(ep)
	source.setChildren(s2Key, ep)

	fx := newFixture(t, engine, source, nil)
	count, err := fx.orch.QueueDownload(context.Background(), show)
	if err != nil {
		t.Fatalf("one failing season must not abort the show: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}

func TestQueueShowRootFetchFailureAborts(t *testing.T) {
	engine := newFakeEngine()
	source := newFakeSource()
	showKey := key("5")
	show := media.NewShow(showKey, "The Wire", 0)
	source.add(show)
	source.childrenErr[showKey] = errors.New("server down")

	fx := newFixture(t, engine, source, nil)
	if _, err := fx.orch.QueueDownload(context.Background(), show); err == nil {
		t.Fatal("root children fetch failure must abort")
	}
	if fx.orch.IsQueueing(showKey) {
		t.Fatal("queueing flag must be cleared on the error path")
	}
}

func TestQueueSeasonCountsAttemptedIncludingInFlight(t *testing.T) {
	engine := newFakeEngine()
	source := newFakeSource()

	showKey, seasonKey := key("5"), key("7")
	season := media.NewSeason(seasonKey, "Season 1", &showKey, 2)
	ep1 := media.NewEpisode(key("71"), "E1", "/parts/e1.mkv", &seasonKey, &showKey)
	ep2 := media.NewEpisode(key("72"), "E2", "/parts/e2.mkv", &seasonKey, &showKey)
	source.add(season)
	source.add(ep1)
	source.add(ep2)
	source.setChildren(seasonKey, ep1, ep2)

	engine.seed(transfer.Record{Key: ep1.Key, Status: transfer.StatusCompleted, MetadataJSON: ep1.ToJSON()})

	fx := newFixture(t, engine, source, nil)
	count, err := fx.orch.QueueDownload(context.Background(), season)
	if err != nil {
		t.Fatalf("QueueDownload: %v", err)
	}
	if count != 2 {
		t.Fatalf("attempted = %d, want 2 (completed episode still counts)", count)
	}
	if got := engine.admittedKeys(); len(got) != 1 || got[0] != "srv1:72" {
		t.Fatalf("admitted = %v, want only the missing episode", got)
	}
}

func TestQueueRejectsUnknownType(t *testing.T) {
	fx := newFixture(t, newFakeEngine(), newFakeSource(), nil)
	item := media.Item{Key: key("9"), Type: media.Type("album"), Title: "Mixtape"}
	if _, err := fx.orch.QueueDownload(context.Background(), item); err == nil {
		t.Fatal("expected unknown type to be rejected")
	}
}

func TestEventFoldingLastWriteWins(t *testing.T) {
	engine := newFakeEngine()
	movie := media.NewMovie(key("42"), "Heat", "/parts/heat.mkv")
	fx := newFixture(t, engine, newFakeSource(), nil)

	engine.events <- transfer.Record{Key: movie.Key, Status: transfer.StatusQueued, MetadataJSON: movie.ToJSON()}
	engine.events <- transfer.Record{Key: movie.Key, Status: transfer.StatusDownloading, ProgressPercent: 10, MetadataJSON: movie.ToJSON()}
	engine.events <- transfer.Record{Key: movie.Key, Status: transfer.StatusDownloading, ProgressPercent: 55, MetadataJSON: movie.ToJSON()}

	progress := waitForProgressStatus(t, fx.orch, movie.Key, transfer.StatusDownloading)
	deadline := time.Now().Add(2 * time.Second)
	for progress.Percent != 55 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
		progress, _ = fx.orch.Progress(movie.Key)
	}
	if progress.Percent != 55 {
		t.Fatalf("percent = %d, want 55", progress.Percent)
	}
}

func TestCancelledEventRemovesProjection(t *testing.T) {
	engine := newFakeEngine()
	movie := media.NewMovie(key("42"), "Heat", "/parts/heat.mkv")
	engine.seed(transfer.Record{Key: movie.Key, Status: transfer.StatusQueued, MetadataJSON: movie.ToJSON()})
	fx := newFixture(t, engine, newFakeSource(), nil)

	if _, ok := fx.orch.Progress(movie.Key); !ok {
		t.Fatal("expected seeded record")
	}
	engine.events <- transfer.Record{Key: movie.Key, Status: transfer.StatusCancelled}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := fx.orch.Progress(movie.Key); !ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("cancelled record never left the projection")
}

func TestRecoveryGatesProjectionLoad(t *testing.T) {
	engine := newUnrecoveredEngine()
	movie := media.NewMovie(key("42"), "Heat", "/parts/heat.mkv")
	// The engine has already requeued this record during its own recovery;
	// the orchestrator must simply not look before the signal.
	engine.seed(transfer.Record{Key: movie.Key, Status: transfer.StatusQueued, MetadataJSON: movie.ToJSON()})

	countStore := counts.NewStore(filepath.Join(t.TempDir(), "counts.json"), nil)
	orch := downloads.New(downloads.Deps{
		Engine:      engine,
		Source:      newFakeSource(),
		Counts:      countStore,
		DownloadDir: t.TempDir(),
	})
	t.Cleanup(orch.Close)

	time.Sleep(50 * time.Millisecond)
	engine.mu.Lock()
	loadedEarly := engine.loaded
	engine.mu.Unlock()
	if loadedEarly {
		t.Fatal("projection must not load before the recovery signal")
	}
	if _, ok := orch.Progress(movie.Key); ok {
		t.Fatal("no progress may be reported before recovery")
	}

	engine.finishRecovery()
	select {
	case <-orch.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator never became ready after recovery")
	}

	progress, ok := orch.Progress(movie.Key)
	if !ok || progress.Status != transfer.StatusQueued {
		t.Fatalf("expected queued record after recovery, got %+v (%v)", progress, ok)
	}
}

func TestSubscribeReceivesProjectionEvents(t *testing.T) {
	engine := newFakeEngine()
	source := newFakeSource()
	movie := media.NewMovie(key("42"), "Heat", "/parts/heat.mkv")
	source.add(movie)
	fx := newFixture(t, engine, source, nil)

	events, cancel := fx.orch.Subscribe(8)
	defer cancel()

	if _, err := fx.orch.QueueDownload(context.Background(), movie); err != nil {
		t.Fatalf("QueueDownload: %v", err)
	}

	select {
	case event := <-events:
		if event.Kind != downloads.EventUpdated || event.Key != movie.Key {
			t.Fatalf("unexpected event: %+v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("never received projection event")
	}
}
