// Package config loads the server-side configuration from the `server:` section
// of config.yaml.
//
// Config fields:
//   - HTTPPort          port for the REST API, /metrics and /ws/stream (default 8080)
//   - LogLevel          debug | info | warn | error (default info)
//   - Auth.Mode         "apikey" or "none"
//   - Auth.KeyEnv       environment variable holding the expected API key
//   - Auth.Header       HTTP header name (default "x-api-key")
//   - BroadcastInterval WebSocket stats push interval (default 5s)
//   - Stores[]          name, kind (plain|retry), default_ttl (5m), default_retries (4)
//
// Load(path) applies defaults before unmarshalling, then validates.
// Watch(ctx, path, onChange) reloads the file on every write.
package config
