// Package registry owns the named expiring stores hosted by expirystore-server.
//
// New(logger) creates an empty Registry; Apply(specs) opens, reopens and
// closes stores to match the configured list and is called again on every
// config hot-reload. Every store carries JSON payloads (json.RawMessage).
//
// Evictions from all stores are fanned into one buffered channel, Events(),
// which the WebSocket hub drains. A full buffer drops events instead of
// blocking store schedulers.
package registry
