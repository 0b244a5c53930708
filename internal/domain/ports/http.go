package ports

import (
	"context"
	"time"
)

// EventBroadcaster pushes events to connected diagnostics clients
type EventBroadcaster interface {
	Broadcast(event UpdateEvent) error
}

// DiagnosticsServer defines the interface for the diagnostics HTTP server
type DiagnosticsServer interface {
	EventBroadcaster
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
}

// UpdateEvent represents an event sent to WebSocket clients
type UpdateEvent struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// UpdateEventType constants
const (
	EventTypeConnected    = "connected"
	EventTypeStats        = "stats"
	EventTypeGC           = "gc"
	EventTypeCacheCleared = "cache_cleared"
	EventTypeLimits       = "limits_updated"
	EventTypeConfigReload = "config_reloaded"
)
