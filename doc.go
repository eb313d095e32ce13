// Package trammonitor is the live tram telemetry service for the
// Yekaterinburg network: it polls the municipal ETTU API, enriches every
// GPS fix with map-matched route context and stop ETAs, and publishes
// the resulting vehicle states over REST and WebSocket.
package trammonitor
