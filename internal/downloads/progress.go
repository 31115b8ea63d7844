package downloads

import (
	"spool/internal/identity"
)

// Progress resolves an item's progress. Resolution order trades a small
// misclassification risk for availability during race windows:
//
//  1. an exact projected record (movies, episodes) is returned verbatim;
//  2. cached metadata typing the key as show/season delegates to aggregation;
//  3. with no metadata yet, any leaf record naming the key as parent or
//     grandparent marks it a container, covering the window between "user
//     tapped queue" and "container metadata fetch completed";
//  4. otherwise there is no data.
func (o *Orchestrator) Progress(key identity.GlobalKey) (Progress, bool) {
	o.mu.RLock()
	record, hasRecord := o.records[key]
	meta, hasMeta := o.metadata[key]
	o.mu.RUnlock()

	if hasRecord {
		return leafProgress(record), true
	}

	if hasMeta && meta.IsContainer() {
		return o.aggregateFor(key)
	}
	if hasMeta {
		return Progress{}, false
	}

	if o.isObservedContainer(key) {
		return o.aggregateFor(key)
	}
	return Progress{}, false
}

func (o *Orchestrator) isObservedContainer(key identity.GlobalKey) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, record := range o.records {
		if record.ParentKey != nil && *record.ParentKey == key {
			return true
		}
		if record.GrandparentKey != nil && *record.GrandparentKey == key {
			return true
		}
	}
	return false
}
