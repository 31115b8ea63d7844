// Package services defines shared utilities consumed by the downloads
// orchestrator and the external catalog/transfer integrations.
//
// Key responsibilities:
//   - Context helpers that stamp item keys, operation names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that keep failure
//     classification (transient vs caller error) uniform across components.
//
// Use these helpers when wiring new collaborator logic so operational
// behaviour (error handling, observability, retries) stays uniform.
package services
