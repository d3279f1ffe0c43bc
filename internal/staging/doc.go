// Package staging is the filesystem (or object store) boundary of the
// bridge: it enumerates candidate bundle files and persists processed
// results.
//
// Sources list files named bundle-*.json and read them with a size cap.
// Sinks write processed-{bundleId}.json, pretty-printed, and refuse
// bundle ids that are not safe single path segments.
package staging
