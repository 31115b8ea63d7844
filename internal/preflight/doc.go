// Package preflight provides readiness checks for the media server and the
// filesystem paths that Spool depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup. Directory failures are fatal; a
//     constrained network or unreachable server is reported and tolerated.
//   - The CLI "spool status" command uses individual check functions
//     (CheckServer, CheckDirectoryAccess) to display service health.
package preflight
