package pubsub

import (
	"context"
	"encoding/json"
)

// Topics published by the analysis runner
const (
	TopicAnalysisStatus = "analysis_status"
	TopicAnalysisReport = "analysis_report"
)

// Event represents a pub/sub event
type Event struct {
	Topic   string          `json:"topic"`   // Subscription topic (e.g., "analysis_status")
	Type    string          `json:"type"`    // Event type (e.g., "loading", "ranking", "complete")
	Data    json.RawMessage `json:"data"`    // Event payload
	Version int             `json:"version"` // Version number for ordering
}

// Subscription represents a client subscription to a topic
type Subscription interface {
	// Topic returns the subscription topic
	Topic() string

	// Events returns a channel for receiving events. It is closed when the
	// subscription or the publisher is closed.
	Events() <-chan Event

	// Close closes the subscription
	Close() error
}

// Publisher manages pub/sub subscriptions and event publishing
type Publisher interface {
	// Subscribe creates a new subscription to a topic
	// Context cancellation will close the subscription
	Subscribe(ctx context.Context, topic string) (Subscription, error)

	// Publish sends an event to all subscribers of a topic
	Publish(topic string, eventType string, data interface{}) error

	// Close shuts down the publisher and all subscriptions
	Close() error
}

// AnalysisStatus represents the progress of an analysis run
type AnalysisStatus struct {
	RunID   string `json:"run_id,omitempty"`
	State   string `json:"state"`   // loading, geometry, consistency, pooling, ranking, complete, failed
	Message string `json:"message"` // Human-readable status message
	Step    int    `json:"step"`    // Current step number (1-based)
	Total   int    `json:"total"`   // Total number of steps
}

// ReportSummary announces a finished report; the full report is served by GET /api/report
type ReportSummary struct {
	RunID                 string `json:"run_id"`
	Treatments            int    `json:"treatments"`
	Comparisons           int    `json:"comparisons"`
	GeometryQuality       string `json:"geometry_quality"`
	ConsistencyAssessed   bool   `json:"consistency_assessed"`
	InconsistencySeverity string `json:"inconsistency_severity"`
	BestTreatment         string `json:"best_treatment,omitempty"`
	Warnings              int    `json:"warnings"`
}
