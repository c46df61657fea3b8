package model

import "time"

type HubStats struct {
	ActiveSessions int           `json:"active_sessions"`
	Routed         uint64        `json:"routed"`
	NotFound       uint64        `json:"not_found"`
	Uptime         time.Duration `json:"uptime"`
}
