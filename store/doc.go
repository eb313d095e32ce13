// Package store is the optional Postgres adapter for historical rows:
// position history, travel-time statistics, the catalog mirror, and the
// router geometry cache. The pipeline runs unchanged without it.
package store
