package downloads

import (
	"context"

	"spool/internal/identity"
	"spool/internal/logging"
	"spool/internal/media"
	"spool/internal/services"
	"spool/internal/transfer"
)

// QueueMissingEpisodes re-fetches a container's children from the catalog and
// queues only the episodes that are not already completed or in flight. The
// catalog is always consulted fresh: local caches cannot be trusted against
// out-of-band library changes. Returns the count of episodes newly queued.
func (o *Orchestrator) QueueMissingEpisodes(ctx context.Context, key identity.GlobalKey) (int, error) {
	if o.policy.Constrained() {
		return 0, ErrNetworkBlocked
	}

	container, err := o.source.Item(ctx, key)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "downloads", "queue_missing", "fetch container metadata", err)
	}
	if !container.IsContainer() {
		return 0, unsupportedType(container.Type)
	}

	o.setQueueing(key)
	defer o.clearQueueing(key)
	o.rememberContainer(container)

	episodes, err := o.collectEpisodes(ctx, container)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, episode := range episodes {
		if status, ok := o.projectedStatus(episode.Key); ok {
			switch status {
			case transfer.StatusCompleted, transfer.StatusDownloading, transfer.StatusQueued:
				continue
			}
		}
		if err := o.queueLeaf(ctx, episode); err != nil {
			logging.WarnWithContext(o.logger, "episode admission failed", "episode_admission_failed",
				logging.String(logging.FieldItemKey, episode.Key.String()),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "run queue missing episodes again"),
				logging.String(logging.FieldImpact, "episode is not downloading"))
			continue
		}
		queued++
	}
	return queued, nil
}

// collectEpisodes flattens a show or season into its episode children.
func (o *Orchestrator) collectEpisodes(ctx context.Context, container media.Item) ([]media.Item, error) {
	children, err := o.source.Children(ctx, container.Key)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "downloads", "queue_missing", "fetch container children", err)
	}

	if container.Type == media.TypeSeason {
		return filterEpisodes(children), nil
	}

	var episodes []media.Item
	for _, child := range children {
		if child.Type != media.TypeSeason {
			continue
		}
		o.rememberContainer(child)
		grandchildren, err := o.source.Children(ctx, child.Key)
		if err != nil {
			logging.WarnWithContext(o.logger, "season listing failed", "season_expansion_failed",
				logging.String(logging.FieldItemKey, child.Key.String()),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "run queue missing episodes again"),
				logging.String(logging.FieldImpact, "episodes of this season were not considered"))
			continue
		}
		episodes = append(episodes, filterEpisodes(grandchildren)...)
	}
	return episodes, nil
}

func filterEpisodes(items []media.Item) []media.Item {
	episodes := make([]media.Item, 0, len(items))
	for _, item := range items {
		if item.Type == media.TypeEpisode {
			episodes = append(episodes, item)
		}
	}
	return episodes
}
