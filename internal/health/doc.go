// Package health provides composable health check probes and HTTP handlers
// for liveness and readiness endpoints.
//
// Probes are combined with [All]. [Fixed] is static and [MaxAge] tracks how
// long ago something last succeeded. [CheckFunc] adapts a plain function
// into a [Probe].
//
// [ShutdownGate] coordinates graceful shutdown: once closed, readiness probes
// fail immediately while in-flight bundles finish.
package health
