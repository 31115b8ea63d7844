package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	"spool/internal/identity"
	"spool/internal/logging"
	"spool/internal/services"
)

// Options tunes engine behavior.
type Options struct {
	MaxConcurrent int
}

// Engine owns leaf download admission, execution, persistence, and restart
// recovery. Consumers observe it exclusively through the record and deletion
// event streams plus AllDownloads snapshots.
type Engine struct {
	store   *Store
	fetcher Fetcher
	logger  *slog.Logger

	events    chan Record
	deletions chan DeletionProgress
	recovered chan struct{}

	baseCtx context.Context
	cancel  context.CancelFunc
	sem     chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	active  map[identity.GlobalKey]*activeTransfer
	started bool

	closeOnce sync.Once
}

type activeTransfer struct {
	cancel context.CancelFunc
}

// NewEngine constructs an engine over the given store and fetcher.
func NewEngine(store *Store, fetcher Fetcher, logger *slog.Logger, opts Options) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:     store,
		fetcher:   fetcher,
		logger:    logging.NewComponentLogger(logger, "transfer"),
		events:    make(chan Record, 256),
		deletions: make(chan DeletionProgress, 64),
		recovered: make(chan struct{}),
		baseCtx:   baseCtx,
		cancel:    cancel,
		sem:       make(chan struct{}, maxConcurrent),
		active:    make(map[identity.GlobalKey]*activeTransfer),
	}
}

// Events streams record mutations. Status transitions are delivered reliably
// and in emission order; byte-progress updates between them may be dropped
// under backpressure.
func (e *Engine) Events() <-chan Record {
	return e.events
}

// DeletionEvents streams deletion outcomes.
func (e *Engine) DeletionEvents() <-chan DeletionProgress {
	return e.deletions
}

// Recovered is closed once restart recovery has settled. Consumers must not
// read persisted state before it resolves.
func (e *Engine) Recovered() <-chan struct{} {
	return e.recovered
}

// Start runs restart recovery and resumes any queued records, then closes the
// recovery signal.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("transfer engine already started")
	}
	e.started = true
	e.mu.Unlock()

	requeued, err := e.store.RequeueInterrupted(ctx)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "transfer", "start", "recover interrupted downloads", err)
	}
	if requeued > 0 {
		e.logger.Info("requeued interrupted downloads", logging.Int("count", requeued))
	}

	records, err := e.store.All(ctx)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "transfer", "start", "load persisted downloads", err)
	}

	close(e.recovered)

	for _, record := range records {
		if record.Status == StatusQueued {
			e.spawn(record.Key)
		}
	}
	return nil
}

// Admit persists a Queued record for the job and schedules its transfer.
// Admitting a key that already has a record restarts it from the stored state.
func (e *Engine) Admit(ctx context.Context, job Job) error {
	if err := job.Item.Validate(); err != nil {
		return services.Wrap(services.ErrValidation, "transfer", "admit", "invalid item", err)
	}
	if !job.Item.IsLeaf() {
		return services.Wrap(services.ErrValidation, "transfer", "admit", fmt.Sprintf("item %s is a %s, only leaves are admitted", job.Item.Key, job.Item.Type), nil)
	}
	if job.SourceURL == "" {
		return services.Wrap(services.ErrValidation, "transfer", "admit", fmt.Sprintf("item %s has no source url", job.Item.Key), nil)
	}

	record := Record{
		Key:              job.Item.Key,
		TransferID:       uuid.NewString(),
		Status:           StatusQueued,
		CurrentFileLabel: job.Item.Title,
		ThumbPath:        job.ThumbPath,
		SourceURL:        job.SourceURL,
		TargetPath:       job.TargetPath,
		ParentKey:        job.Item.Parent,
		GrandparentKey:   job.Item.Grandparent,
		MetadataJSON:     job.Item.ToJSON(),
	}
	if err := e.store.Put(ctx, record); err != nil {
		return services.Wrap(services.ErrTransient, "transfer", "admit", "persist record", err)
	}

	e.publish(record)
	e.spawn(record.Key)

	e.logger.Info("download admitted",
		logging.String(logging.FieldItemKey, record.Key.String()),
		logging.String("transfer_id", record.TransferID),
		logging.String("title", job.Item.Title))
	return nil
}

// Pause stops an active or queued transfer, settling the record in Paused.
func (e *Engine) Pause(ctx context.Context, key identity.GlobalKey) error {
	return e.settle(ctx, key, StatusPaused, []Status{StatusQueued, StatusDownloading})
}

// Resume reschedules a paused transfer from its stored source.
func (e *Engine) Resume(ctx context.Context, key identity.GlobalKey) error {
	return e.reschedule(ctx, key, []Status{StatusPaused})
}

// Retry reschedules a failed transfer from its stored source.
func (e *Engine) Retry(ctx context.Context, key identity.GlobalKey) error {
	return e.reschedule(ctx, key, []Status{StatusFailed})
}

// Cancel stops a transfer, removes its record, and discards partial data. The
// emitted Cancelled event tells observers to drop the entry.
func (e *Engine) Cancel(ctx context.Context, key identity.GlobalKey) error {
	record, err := e.store.Get(ctx, key)
	if err != nil {
		return services.Wrap(services.ErrTransient, "transfer", "cancel", "load record", err)
	}
	if record == nil {
		return nil
	}

	e.stopWorker(key)

	if record.TargetPath != "" {
		_ = os.Remove(record.TargetPath + ".part")
	}
	if err := e.store.Delete(ctx, key); err != nil {
		return services.Wrap(services.ErrTransient, "transfer", "cancel", "remove record", err)
	}

	record.Status = StatusCancelled
	e.publish(*record)
	e.logger.Info("download cancelled", logging.String(logging.FieldItemKey, key.String()))
	return nil
}

// Delete removes a download's record and any data on disk. A deletion event
// reports the outcome.
func (e *Engine) Delete(ctx context.Context, key identity.GlobalKey) error {
	record, err := e.store.Get(ctx, key)
	if err != nil {
		return services.Wrap(services.ErrTransient, "transfer", "delete", "load record", err)
	}
	if record == nil {
		e.publishDeletion(DeletionProgress{Key: key, Removed: false})
		return nil
	}

	e.stopWorker(key)

	if record.TargetPath != "" {
		_ = os.Remove(record.TargetPath + ".part")
		if err := removeFile(record.TargetPath); err != nil {
			e.publishDeletion(DeletionProgress{Key: key, Removed: false, Error: err.Error()})
			return services.Wrap(services.ErrTransient, "transfer", "delete", "remove downloaded file", err)
		}
	}

	if err := e.store.Delete(ctx, key); err != nil {
		e.publishDeletion(DeletionProgress{Key: key, Removed: false, Error: err.Error()})
		return services.Wrap(services.ErrTransient, "transfer", "delete", "remove record", err)
	}

	record.Status = StatusCancelled
	e.publish(*record)
	e.publishDeletion(DeletionProgress{Key: key, Removed: true})
	e.logger.Info("download deleted", logging.String(logging.FieldItemKey, key.String()))
	return nil
}

// AllDownloads returns a snapshot of every persisted record.
func (e *Engine) AllDownloads(ctx context.Context) ([]Record, error) {
	return e.store.All(ctx)
}

// Close stops all workers and closes the event streams.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.cancel()
		e.wg.Wait()
		close(e.events)
		close(e.deletions)
	})
}

// settle moves a record to a terminal-ish state initiated by the caller and
// stops its worker. Records outside the legal source states are left alone.
func (e *Engine) settle(ctx context.Context, key identity.GlobalKey, target Status, legalFrom []Status) error {
	record, err := e.store.Get(ctx, key)
	if err != nil {
		return services.Wrap(services.ErrTransient, "transfer", "settle", "load record", err)
	}
	if record == nil || !statusIn(record.Status, legalFrom) {
		return nil
	}

	record.Status = target
	if err := e.store.Put(ctx, *record); err != nil {
		return services.Wrap(services.ErrTransient, "transfer", "settle", "persist record", err)
	}
	e.stopWorker(key)
	e.publish(*record)
	e.logger.Info("download state changed",
		logging.String(logging.FieldItemKey, key.String()),
		logging.String(logging.FieldStatus, string(target)))
	return nil
}

func (e *Engine) reschedule(ctx context.Context, key identity.GlobalKey, legalFrom []Status) error {
	record, err := e.store.Get(ctx, key)
	if err != nil {
		return services.Wrap(services.ErrTransient, "transfer", "reschedule", "load record", err)
	}
	if record == nil || !statusIn(record.Status, legalFrom) {
		return nil
	}
	if record.SourceURL == "" {
		return services.Wrap(services.ErrValidation, "transfer", "reschedule", fmt.Sprintf("record %s has no stored source url", key), nil)
	}

	record.Status = StatusQueued
	record.ErrorMessage = ""
	if err := e.store.Put(ctx, *record); err != nil {
		return services.Wrap(services.ErrTransient, "transfer", "reschedule", "persist record", err)
	}
	e.publish(*record)
	e.spawn(key)
	return nil
}

// spawn registers a worker for the key and runs the transfer once a
// concurrency slot frees up.
func (e *Engine) spawn(key identity.GlobalKey) {
	transferCtx, cancel := context.WithCancel(e.baseCtx)
	entry := &activeTransfer{cancel: cancel}

	e.mu.Lock()
	if old, exists := e.active[key]; exists {
		old.cancel()
	}
	e.active[key] = entry
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.unregister(key, entry)
		defer cancel()

		select {
		case e.sem <- struct{}{}:
			defer func() { <-e.sem }()
		case <-transferCtx.Done():
			return
		}

		e.run(transferCtx, key)
	}()
}

func (e *Engine) run(ctx context.Context, key identity.GlobalKey) {
	record, err := e.store.Get(ctx, key)
	if err != nil || record == nil || record.Status != StatusQueued {
		return
	}

	record.Status = StatusDownloading
	if err := e.store.Put(ctx, *record); err != nil {
		e.logger.Error("persist downloading state failed",
			logging.String(logging.FieldItemKey, key.String()),
			logging.Error(err))
		return
	}
	e.publish(*record)

	lastPersisted := record.ProgressPercent
	fetchErr := e.fetcher.Fetch(ctx, record.SourceURL, record.TargetPath, func(downloaded, total int64, label string) {
		record.DownloadedBytes = downloaded
		record.TotalBytes = total
		record.CurrentFileLabel = label
		if total > 0 {
			record.ProgressPercent = clampPercent(int(downloaded * 100 / total))
		}
		e.publishProgress(*record)
		if record.ProgressPercent != lastPersisted {
			lastPersisted = record.ProgressPercent
			if err := e.store.Put(ctx, *record); err != nil {
				e.logger.Warn("persist progress failed",
					logging.String(logging.FieldItemKey, key.String()),
					logging.Error(err))
			}
		}
	})

	if fetchErr == nil {
		record.Status = StatusCompleted
		record.ProgressPercent = 100
		record.ErrorMessage = ""
		if err := e.store.Put(context.Background(), *record); err != nil {
			e.logger.Error("persist completed state failed",
				logging.String(logging.FieldItemKey, key.String()),
				logging.Error(err))
		}
		e.publish(*record)
		return
	}

	if ctx.Err() != nil {
		// A pause/cancel initiator already settled the record; an engine
		// shutdown leaves it Downloading so recovery requeues it.
		return
	}

	record.Status = StatusFailed
	record.ErrorMessage = fetchErr.Error()
	if err := e.store.Put(context.Background(), *record); err != nil {
		e.logger.Error("persist failed state failed",
			logging.String(logging.FieldItemKey, key.String()),
			logging.Error(err))
	}
	e.publish(*record)
	logging.WarnWithContext(e.logger, "download failed", "transfer_failed",
		logging.String(logging.FieldItemKey, key.String()),
		logging.Error(fetchErr),
		logging.String(logging.FieldErrorHint, "retry the download once the source is reachable"),
		logging.String(logging.FieldImpact, "item stays in failed state until retried"))
}

func (e *Engine) stopWorker(key identity.GlobalKey) {
	e.mu.Lock()
	entry, ok := e.active[key]
	e.mu.Unlock()
	if ok {
		entry.cancel()
	}
}

// unregister removes the worker's own entry; a replacement spawned for the
// same key must survive the old worker's teardown.
func (e *Engine) unregister(key identity.GlobalKey, entry *activeTransfer) {
	e.mu.Lock()
	if e.active[key] == entry {
		delete(e.active, key)
	}
	e.mu.Unlock()
}

// publish delivers a status-bearing record mutation. Consumers rebuild their
// view from these, so a send blocks under backpressure until the consumer
// drains or the engine shuts down; it is never dropped.
func (e *Engine) publish(record Record) {
	select {
	case e.events <- record:
	case <-e.baseCtx.Done():
	}
}

// publishProgress delivers a byte-progress update. Dropping one under
// backpressure is harmless: a later update or the status publish that ends
// the transfer supersedes it.
func (e *Engine) publishProgress(record Record) {
	select {
	case e.events <- record:
	default:
		e.logger.Debug("event stream full, dropping progress event",
			logging.String(logging.FieldItemKey, record.Key.String()))
	}
}

func (e *Engine) publishDeletion(progress DeletionProgress) {
	select {
	case e.deletions <- progress:
	case <-e.baseCtx.Done():
	}
}

func statusIn(status Status, set []Status) bool {
	for _, candidate := range set {
		if status == candidate {
			return true
		}
	}
	return false
}

func clampPercent(percent int) int {
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}

func removeFile(path string) error {
	err := os.Remove(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
