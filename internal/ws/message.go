package ws

import (
	"time"

	"piwebcam/internal/motion"
)

// EventMessage announces a state-machine transition.
type EventMessage struct {
	Type      string        `json:"type"` // "motion_event"
	Event     string        `json:"event"`
	Timestamp time.Time     `json:"timestamp"`
	Status    motion.Status `json:"status"`
}

// StatusMessage carries a periodic detector status push.
type StatusMessage struct {
	Type      string        `json:"type"` // "status"
	Timestamp time.Time     `json:"timestamp"`
	Status    motion.Status `json:"status"`
}
