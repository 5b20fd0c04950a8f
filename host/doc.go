// Package host implements the client side of the HostLink control
// protocol.
//
// A ManagedHost represents one logical runtime host subprocess from the
// caller's point of view. It never spawns processes itself: start, stop
// and restart are delegated to a manager daemon over HTTP, and the
// controller adopts whatever connection configuration the manager reports
// back. The manager is the sole authority for whether a subprocess is
// already running and which port it is bound to; the controller only
// caches the last value it received.
package host
