package downloads

import (
	"context"
	"path/filepath"

	"spool/internal/identity"
	"spool/internal/logging"
	"spool/internal/media"
	"spool/internal/services"
	"spool/internal/transfer"
)

// QueueDownload requests download of an item. Leaves are admitted directly;
// shows and seasons are expanded recursively into their episodes. The return
// value counts leaves *attempted*: an episode already completed or in flight
// still counts as touched.
//
// The network gate and the type check run before any state mutation;
// everything after that degrades instead of aborting.
func (o *Orchestrator) QueueDownload(ctx context.Context, item media.Item) (int, error) {
	if o.policy.Constrained() {
		return 0, ErrNetworkBlocked
	}
	if err := item.Validate(); err != nil {
		return 0, services.Wrap(services.ErrValidation, "downloads", "queue", "invalid item", err)
	}

	switch item.Type {
	case media.TypeMovie, media.TypeEpisode:
		if err := o.queueLeaf(ctx, item); err != nil {
			return 0, err
		}
		return 1, nil
	case media.TypeShow:
		o.setQueueing(item.Key)
		defer o.clearQueueing(item.Key)
		return o.queueShow(ctx, item)
	case media.TypeSeason:
		o.setQueueing(item.Key)
		defer o.clearQueueing(item.Key)
		return o.queueSeason(ctx, item)
	default:
		return 0, unsupportedType(item.Type)
	}
}

// queueLeaf runs the idempotent leaf path: refresh metadata best-effort,
// resolve container references for episodes, project a Queued record for
// immediate feedback, then admit.
func (o *Orchestrator) queueLeaf(ctx context.Context, item media.Item) error {
	if status, ok := o.projectedStatus(item.Key); ok {
		if status == transfer.StatusDownloading || status == transfer.StatusCompleted {
			return nil
		}
	}

	item = o.refreshLeafMetadata(ctx, item)
	if item.Type == media.TypeEpisode {
		o.resolveContainerRefs(ctx, item)
	}
	if o.artwork != nil {
		o.artwork.Ensure(ctx, item)
	}

	thumbPath := ""
	if o.artwork != nil {
		if path, cached := o.artwork.Path(item.Key); cached {
			thumbPath = path
		}
	}

	record := transfer.Record{
		Key:              item.Key,
		Status:           transfer.StatusQueued,
		CurrentFileLabel: item.Title,
		ThumbPath:        thumbPath,
		ParentKey:        item.Parent,
		GrandparentKey:   item.Grandparent,
		MetadataJSON:     item.ToJSON(),
	}

	o.mu.Lock()
	o.records[item.Key] = record
	o.cacheMetadataLocked(item)
	o.mu.Unlock()
	o.publish(Event{Kind: EventUpdated, Key: item.Key, Record: record})

	job := transfer.Job{
		Item:       item,
		SourceURL:  o.sourceURLFor(item),
		TargetPath: o.targetPathFor(item),
		ThumbPath:  thumbPath,
	}
	if err := o.engine.Admit(ctx, job); err != nil {
		o.mu.Lock()
		delete(o.records, item.Key)
		o.mu.Unlock()
		o.publish(Event{Kind: EventRemoved, Key: item.Key, Record: record})
		return admissionError(err)
	}
	return nil
}

func (o *Orchestrator) queueShow(ctx context.Context, show media.Item) (int, error) {
	o.rememberContainer(show)

	children, err := o.source.Children(ctx, show.Key)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "downloads", "queue", "fetch show seasons", err)
	}

	attempted := 0
	for _, child := range children {
		if child.Type != media.TypeSeason {
			continue
		}
		count, err := o.queueSeason(ctx, child)
		attempted += count
		if err != nil {
			// One season failing to list must not abandon its siblings.
			logging.WarnWithContext(logging.WithContext(ctx, o.logger), "season expansion failed", "season_expansion_failed",
				logging.String(logging.FieldItemKey, child.Key.String()),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "queue the season again once the server responds"),
				logging.String(logging.FieldImpact, "episodes of this season were not queued"))
		}
	}
	return attempted, nil
}

func (o *Orchestrator) queueSeason(ctx context.Context, season media.Item) (int, error) {
	o.rememberContainer(season)

	children, err := o.source.Children(ctx, season.Key)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "downloads", "queue", "fetch season episodes", err)
	}

	attempted := 0
	for _, child := range children {
		if child.Type != media.TypeEpisode {
			continue
		}
		attempted++
		if err := o.queueLeaf(ctx, child); err != nil {
			logging.WarnWithContext(logging.WithContext(ctx, o.logger), "episode admission failed", "episode_admission_failed",
				logging.String(logging.FieldItemKey, child.Key.String()),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "retry via queue missing episodes"),
				logging.String(logging.FieldImpact, "episode is not downloading"))
		}
	}
	return attempted, nil
}

// rememberContainer caches a container's metadata and persists its leaf count
// when the catalog supplied a usable one.
func (o *Orchestrator) rememberContainer(item media.Item) {
	o.mu.Lock()
	o.cacheMetadataLocked(item)
	o.mu.Unlock()

	if o.counts == nil {
		return
	}
	if item.LeafCount > 0 {
		if err := o.counts.Set(item.Key, item.LeafCount); err != nil {
			o.logger.Warn("persist episode count failed",
				logging.String(logging.FieldItemKey, item.Key.String()),
				logging.Error(err))
		}
		return
	}
	o.logger.Debug("container has no leaf count, aggregation will fall back to observed children",
		logging.String(logging.FieldItemKey, item.Key.String()))
}

// refreshLeafMetadata fetches full metadata, falling back to the caller's
// partial item when the catalog is unreachable.
func (o *Orchestrator) refreshLeafMetadata(ctx context.Context, item media.Item) media.Item {
	fresh, err := o.source.Item(ctx, item.Key)
	if err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, o.logger), "metadata refresh failed", "metadata_fetch_failed",
			logging.String(logging.FieldItemKey, item.Key.String()),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "continuing with caller-supplied metadata"),
			logging.String(logging.FieldImpact, "titles or file paths may be stale"))
		return item
	}
	if fresh.Type != item.Type {
		return item
	}
	return fresh
}

// resolveContainerRefs best-effort caches the episode's season and show
// metadata and artwork. Each reference fails independently; none of them may
// block the leaf's admission.
func (o *Orchestrator) resolveContainerRefs(ctx context.Context, episode media.Item) {
	for _, ref := range []*identity.GlobalKey{episode.Parent, episode.Grandparent} {
		if ref == nil {
			continue
		}
		if _, cached := o.Metadata(*ref); cached {
			continue
		}
		container, err := o.source.Item(ctx, *ref)
		if err != nil {
			o.logger.Debug("container metadata fetch failed",
				logging.String(logging.FieldItemKey, ref.String()),
				logging.Error(err))
			continue
		}
		o.rememberContainer(container)
		if o.artwork != nil {
			o.artwork.Ensure(ctx, container)
		}
	}
}

func (o *Orchestrator) sourceURLFor(item media.Item) string {
	if resolver, ok := o.source.(interface{ ResourceURL(string) string }); ok {
		return resolver.ResourceURL(item.SourcePath)
	}
	return item.SourcePath
}

// targetPathFor derives a stable on-disk location. The rating key suffix keeps
// same-titled items from clobbering each other.
func (o *Orchestrator) targetPathFor(item media.Item) string {
	ext := filepath.Ext(item.SourcePath)
	if ext == "" {
		ext = ".mkv"
	}
	name := media.SanitizeFilename(item.Title) + "-" + item.Key.RatingKey() + ext
	return filepath.Join(o.downloadDir, name)
}

func (o *Orchestrator) setQueueing(key identity.GlobalKey) {
	o.mu.Lock()
	o.queueing[key] = struct{}{}
	o.mu.Unlock()
}

func (o *Orchestrator) clearQueueing(key identity.GlobalKey) {
	o.mu.Lock()
	delete(o.queueing, key)
	o.mu.Unlock()
}
