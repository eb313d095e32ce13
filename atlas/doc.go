// Package atlas builds and holds the route index: route topology joined
// against the stop catalog, street-following geometry with arc-length
// tables, and per-direction stop placement. Each build produces an
// immutable generation that is swapped in atomically.
package atlas
