// Package tracking runs the per-tick vehicle pipeline: snapping raw GPS
// fixes onto route geometry, inferring travel direction, locating the
// surrounding stops, and estimating arrival times. The Tracker owns the
// current vehicle state table.
package tracking
