// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, hot reload, metrics and debug introspection for the
// reactor process.
//
// Provides:
//   - Config loading from YAML with HIOLOAD_* environment overrides
//   - A file watcher that hands validated reloads to a ConfigUpdater
//   - Prometheus collectors on a private registry
//   - Named debug probes
package control
