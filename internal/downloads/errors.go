package downloads

import (
	"errors"
	"fmt"

	"spool/internal/media"
	"spool/internal/services"
)

// ErrNetworkBlocked aborts queueing before any state mutation while the
// network policy reports a constrained link.
var ErrNetworkBlocked = errors.New("downloads blocked on constrained network")

// ErrUnsupportedType rejects queue requests for item types the orchestrator
// cannot expand.
var ErrUnsupportedType = errors.New("unsupported item type")

func unsupportedType(t media.Type) error {
	return fmt.Errorf("%w: %q", ErrUnsupportedType, t)
}

func admissionError(err error) error {
	return services.Wrap(services.ErrTransient, "downloads", "admit", "transfer admission failed", err)
}
