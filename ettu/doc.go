// Package ettu is the client for the municipal transit API at
// map.ettu.ru: tram boards (live positions), routes, and points (the
// stop catalog).
package ettu
