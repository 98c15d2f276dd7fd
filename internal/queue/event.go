// Package queue defines message payloads exchanged over the message broker.
package queue

import "time"

// Kinds of TenantEvent.
const (
	TenantProvisioned = "provisioned"
	TenantDeleted     = "deleted"
)

// TenantEvent is published when an event database is created or dropped.
// It carries enough information for downstream consumers to log or audit
// the tenant lifecycle without querying the primary database.
type TenantEvent struct {
	Kind     string    `json:"kind"`
	EventID  int64     `json:"event_id"`
	Database string    `json:"database"`
	Actor    string    `json:"actor"`
	At       time.Time `json:"at"`
}
