// Package broadcast is the fan-out plane: an in-process subscriber
// registry with bounded per-subscriber queues, the snapshot/update frame
// protocol, and an optional Redis mirror for multi-process deployments.
package broadcast
