package downloads

import (
	"context"

	"spool/internal/identity"
	"spool/internal/logging"
	"spool/internal/transfer"
)

// Pause suspends a queued or active download. Calls on any other state are
// silently ignored: they can legitimately race with incoming progress events.
func (o *Orchestrator) Pause(ctx context.Context, key identity.GlobalKey) error {
	if !o.statusAllows(key, transfer.StatusQueued, transfer.StatusDownloading) {
		return nil
	}
	return o.engine.Pause(ctx, key)
}

// Resume restarts a paused download.
func (o *Orchestrator) Resume(ctx context.Context, key identity.GlobalKey) error {
	if !o.statusAllows(key, transfer.StatusPaused) {
		return nil
	}
	return o.engine.Resume(ctx, key)
}

// Retry reschedules a failed download.
func (o *Orchestrator) Retry(ctx context.Context, key identity.GlobalKey) error {
	if !o.statusAllows(key, transfer.StatusFailed) {
		return nil
	}
	return o.engine.Retry(ctx, key)
}

// Cancel drops a download. The projection entry is removed optimistically on
// acceptance, without waiting for the engine to confirm teardown.
func (o *Orchestrator) Cancel(ctx context.Context, key identity.GlobalKey) error {
	o.mu.Lock()
	record, ok := o.records[key]
	if ok {
		delete(o.records, key)
	}
	o.mu.Unlock()
	if !ok {
		return nil
	}

	record.Status = transfer.StatusCancelled
	o.publish(Event{Kind: EventRemoved, Key: key, Record: record})
	return o.engine.Cancel(ctx, key)
}

// Delete removes an item's downloads and durable companion state. For a
// container, the episode count entry is removed *before* the transfer-level
// deletions: if those later fail, the count is deliberately not restored — a
// small accepted leak instead of a rollback path.
func (o *Orchestrator) Delete(ctx context.Context, key identity.GlobalKey) error {
	if o.isContainerKey(key) {
		return o.deleteContainer(ctx, key)
	}

	if o.artwork != nil {
		o.artwork.Remove(key)
	}
	return o.engine.Delete(ctx, key)
}

func (o *Orchestrator) deleteContainer(ctx context.Context, key identity.GlobalKey) error {
	if o.counts != nil {
		if err := o.counts.Remove(key); err != nil {
			o.logger.Warn("remove episode count failed",
				logging.String(logging.FieldItemKey, key.String()),
				logging.Error(err))
		}
	}
	if o.artwork != nil {
		o.artwork.Remove(key)
	}

	o.mu.RLock()
	var childKeys []identity.GlobalKey
	for _, record := range o.records {
		if (record.ParentKey != nil && *record.ParentKey == key) ||
			(record.GrandparentKey != nil && *record.GrandparentKey == key) {
			childKeys = append(childKeys, record.Key)
		}
	}
	o.mu.RUnlock()

	var firstErr error
	for _, childKey := range childKeys {
		if o.artwork != nil {
			o.artwork.Remove(childKey)
		}
		if err := o.engine.Delete(ctx, childKey); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	o.mu.Lock()
	delete(o.metadata, key)
	o.mu.Unlock()
	return firstErr
}

func (o *Orchestrator) statusAllows(key identity.GlobalKey, legal ...transfer.Status) bool {
	status, ok := o.projectedStatus(key)
	if !ok {
		return false
	}
	for _, candidate := range legal {
		if status == candidate {
			return true
		}
	}
	return false
}

func (o *Orchestrator) isContainerKey(key identity.GlobalKey) bool {
	o.mu.RLock()
	meta, hasMeta := o.metadata[key]
	o.mu.RUnlock()
	if hasMeta {
		return meta.IsContainer()
	}
	if o.counts != nil {
		if _, ok := o.counts.Get(key); ok {
			return true
		}
	}
	return o.isObservedContainer(key)
}
