package httpserver

import "time"

// ShutdownTimeout controls how long to wait for in-flight requests, including webhook
// updates still being processed, during graceful shutdown.
var ShutdownTimeout = 30 * time.Second
