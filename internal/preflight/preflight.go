package preflight

import (
	"context"

	"spool/internal/config"
	"spool/internal/netpolicy"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Directory checks always run; the server check is skipped when no token is
// configured so a fresh install can still inspect its own paths.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckDirectoryAccess("State directory", cfg.Paths.StateDir))
	results = append(results, CheckDirectoryAccess("Download directory", cfg.Paths.DownloadDir))
	if cfg.Paths.ArtworkCacheDir != "" {
		results = append(results, CheckDirectoryAccess("Artwork cache", cfg.Paths.ArtworkCacheDir))
	}

	if cfg.Server.Token != "" {
		results = append(results, CheckServer(ctx, cfg.Server.URL, cfg.Server.Token))
	}

	if cfg.Network.BlockConstrained {
		results = append(results, CheckNetwork(netpolicy.NewMarkerFile(cfg.Network.MeteredMarkerPath)))
	}

	return results
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, result := range results {
		if !result.Passed {
			return false
		}
	}
	return true
}
