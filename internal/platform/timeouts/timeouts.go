// Package timeouts defines shared timeout constants used across the engine.
// Centralizing these values prevents drift between service boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// Generation caps a single call to the external generation service. Expiry
// is treated as a generation failure and leaves session state untouched.
const Generation = 60 * time.Second

// Embedding caps a single call to the external embedding endpoint.
const Embedding = 15 * time.Second
