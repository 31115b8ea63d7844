package downloads

import (
	"context"
	"log/slog"
	"sync"

	"spool/internal/artwork"
	"spool/internal/catalog"
	"spool/internal/counts"
	"spool/internal/identity"
	"spool/internal/logging"
	"spool/internal/media"
	"spool/internal/netpolicy"
	"spool/internal/transfer"
)

// Engine is the transfer-layer surface the orchestrator depends on. It owns
// persisted records and restart recovery; the orchestrator only folds its
// event streams into a read-only projection.
type Engine interface {
	Admit(ctx context.Context, job transfer.Job) error
	Pause(ctx context.Context, key identity.GlobalKey) error
	Resume(ctx context.Context, key identity.GlobalKey) error
	Retry(ctx context.Context, key identity.GlobalKey) error
	Cancel(ctx context.Context, key identity.GlobalKey) error
	Delete(ctx context.Context, key identity.GlobalKey) error
	AllDownloads(ctx context.Context) ([]transfer.Record, error)
	Events() <-chan transfer.Record
	DeletionEvents() <-chan transfer.DeletionProgress
	Recovered() <-chan struct{}
}

// Deps wires the orchestrator's collaborators.
type Deps struct {
	Engine      Engine
	Source      catalog.MetadataSource
	Counts      *counts.Store
	Artwork     *artwork.Cache
	Policy      netpolicy.Policy
	Logger      *slog.Logger
	DownloadDir string
}

// Orchestrator turns container queue requests into leaf transfers and answers
// progress queries for both leaves and containers. All projection state is
// guarded by a single mutex; the event consumer goroutine is the only writer
// for engine-driven mutations.
type Orchestrator struct {
	engine      Engine
	source      catalog.MetadataSource
	counts      *counts.Store
	artwork     *artwork.Cache
	policy      netpolicy.Policy
	logger      *slog.Logger
	downloadDir string

	mu       sync.RWMutex
	records  map[identity.GlobalKey]transfer.Record
	metadata map[identity.GlobalKey]media.Item
	queueing map[identity.GlobalKey]struct{}

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int

	ready    chan struct{}
	done     chan struct{}
	consumed chan struct{}
	stopOnce sync.Once
}

// New constructs the orchestrator and starts its event consumer. The consumer
// waits for the engine's recovery signal before loading any persisted records
// into the projection.
func New(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	policy := deps.Policy
	if policy == nil {
		policy = netpolicy.Static(false)
	}

	o := &Orchestrator{
		engine:      deps.Engine,
		source:      deps.Source,
		counts:      deps.Counts,
		artwork:     deps.Artwork,
		policy:      policy,
		logger:      logging.NewComponentLogger(logger, "downloads"),
		downloadDir: deps.DownloadDir,
		records:     make(map[identity.GlobalKey]transfer.Record),
		metadata:    make(map[identity.GlobalKey]media.Item),
		queueing:    make(map[identity.GlobalKey]struct{}),
		subs:        make(map[int]chan Event),
		ready:       make(chan struct{}),
		done:        make(chan struct{}),
		consumed:    make(chan struct{}),
	}

	go o.consume()
	return o
}

// Ready is closed once the recovered projection has been loaded.
func (o *Orchestrator) Ready() <-chan struct{} {
	return o.ready
}

// Close stops the event consumer and closes all subscriber channels.
func (o *Orchestrator) Close() {
	o.stopOnce.Do(func() {
		close(o.done)
		<-o.consumed

		o.subMu.Lock()
		for id, ch := range o.subs {
			close(ch)
			delete(o.subs, id)
		}
		o.subMu.Unlock()
	})
}

// IsQueueing reports whether a container expansion rooted at key is running.
// It is an observability marker, not a lock: concurrent callers who want
// exclusion must check it themselves.
func (o *Orchestrator) IsQueueing(key identity.GlobalKey) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.queueing[key]
	return ok
}

// Snapshot returns a copy of every projected leaf record.
func (o *Orchestrator) Snapshot() []transfer.Record {
	o.mu.RLock()
	defer o.mu.RUnlock()
	records := make([]transfer.Record, 0, len(o.records))
	for _, record := range o.records {
		records = append(records, record)
	}
	return records
}

// Metadata returns the cached metadata for a key, if any.
func (o *Orchestrator) Metadata(key identity.GlobalKey) (media.Item, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	item, ok := o.metadata[key]
	return item, ok
}

// consume waits for engine recovery, loads the persisted projection, then
// folds event streams until Close.
func (o *Orchestrator) consume() {
	defer close(o.consumed)

	select {
	case <-o.engine.Recovered():
	case <-o.done:
		close(o.ready)
		return
	}

	o.loadProjection()
	close(o.ready)

	events := o.engine.Events()
	deletions := o.engine.DeletionEvents()
	for {
		select {
		case record, ok := <-events:
			if !ok {
				events = nil
				if deletions == nil {
					return
				}
				continue
			}
			o.fold(record)
		case deletion, ok := <-deletions:
			if !ok {
				deletions = nil
				if events == nil {
					return
				}
				continue
			}
			o.publish(Event{Kind: EventDeleted, Key: deletion.Key, Deletion: &deletion})
		case <-o.done:
			return
		}
	}
}

func (o *Orchestrator) loadProjection() {
	records, err := o.engine.AllDownloads(context.Background())
	if err != nil {
		logging.ErrorWithContext(o.logger, "loading persisted downloads failed", "projection_load_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the state directory and database"),
			logging.String(logging.FieldImpact, "progress queries start from an empty projection"))
		return
	}

	o.mu.Lock()
	for _, record := range records {
		o.records[record.Key] = record
		if item, ok := record.Metadata(); ok {
			o.cacheMetadataLocked(item)
		}
	}
	loaded := len(o.records)
	o.mu.Unlock()

	if loaded > 0 {
		o.logger.Info("projection loaded", logging.Int("record_count", loaded))
	}
}

// fold applies one engine event with last-write-wins semantics. A Cancelled
// record means the engine dropped it: the projection entry is removed.
func (o *Orchestrator) fold(record transfer.Record) {
	o.mu.Lock()
	if record.Status == transfer.StatusCancelled {
		_, existed := o.records[record.Key]
		delete(o.records, record.Key)
		o.mu.Unlock()
		if existed {
			o.publish(Event{Kind: EventRemoved, Key: record.Key, Record: record})
		}
		return
	}

	o.records[record.Key] = record
	if item, ok := record.Metadata(); ok {
		o.cacheMetadataLocked(item)
	}
	o.mu.Unlock()

	o.publish(Event{Kind: EventUpdated, Key: record.Key, Record: record})
}

// cacheMetadataLocked overwrites the metadata cache wholesale; callers hold mu.
func (o *Orchestrator) cacheMetadataLocked(item media.Item) {
	o.metadata[item.Key] = item
}

func (o *Orchestrator) projectedStatus(key identity.GlobalKey) (transfer.Status, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	record, ok := o.records[key]
	if !ok {
		return "", false
	}
	return record.Status, true
}
