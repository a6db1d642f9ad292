// Package api implements the HTTP REST API for expirystore-server.
//
// New(registry) returns an http.Handler that serves:
//
//	GET    /api/v1/health                            status, store and entry counts
//	GET    /api/v1/stores                            all stores with counters ([]StoreResponse)
//	GET    /api/v1/stores/{name}                     one store; 404 if unknown
//	POST   /api/v1/stores/{name}/entries             strict add; 409 if the id exists
//	GET    /api/v1/stores/{name}/entries/{id}        read without spending retries
//	PUT    /api/v1/stores/{name}/entries/{id}        add or replace
//	DELETE /api/v1/stores/{name}/entries/{id}        remove; 204 even if absent
//	POST   /api/v1/stores/{name}/entries/{id}/retry  spend one retry (retry stores)
//	GET    /api/v1/snapshot                          all stores + generated_at
//
// All endpoints:
//   - Respond with Content-Type: application/json
//   - Return 405 for unsupported methods
//   - Map expiring.ErrExpired to 422, ErrAlreadyExists to 409 and a store
//     closed by a concurrent reload to 410
//
// Entry ids must not contain "/". JSON types are defined in types.go.
// No external HTTP framework is used.
package api
