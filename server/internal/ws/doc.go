// Package ws implements the WebSocket hub for expirystore-server.
//
// New(registry, interval) creates a Hub. Hub.Run(ctx) blocks until ctx is
// cancelled, then closes all active connections. Hub.ServeHTTP upgrades an
// HTTP connection, sends the current stats immediately and then streams:
//
//	{"event": "stats",   "data": { /* same schema as GET /api/v1/snapshot */ }}
//	{"event": "evicted", "data": {"store": "...", "id": "...", "reason": "expired", "expires_at": "..."}}
//
// Stats go out every interval (broadcast_interval in config, default 5s).
// Evictions are forwarded as the registry reports them; reason is one of
// expired, removed, replaced or exhausted. Clients whose send buffer fills
// up are disconnected.
//
// The upgrader accepts all origins. The server mounts the hub at /ws/stream.
package ws
