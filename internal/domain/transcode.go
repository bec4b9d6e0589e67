package domain

import "time"

type Protocol string

const (
	ProtocolRTP Protocol = "rtp"
	ProtocolUDP Protocol = "udp"
)

type StreamStatus string

const (
	StreamStarting  StreamStatus = "starting"
	StreamStreaming StreamStatus = "streaming"
	StreamStopping  StreamStatus = "stopping"
	StreamStopped   StreamStatus = "stopped"
	StreamError     StreamStatus = "error"
)

type TranscodeStream struct {
	StreamID       string       `json:"stream_id"`
	Protocol       Protocol     `json:"protocol"`
	Address        string       `json:"address"`
	Port           int          `json:"port"`
	Multicast      bool         `json:"multicast"`
	TTL            int          `json:"ttl,omitempty"`
	Title          string       `json:"title,omitempty"`
	Status         StreamStatus `json:"status"`
	StartedAt      time.Time    `json:"started_at"`
	EndedAt        time.Time    `json:"ended_at,omitzero"`
	AnnouncementID string       `json:"announcement_id,omitempty"`
	ExitReason     string       `json:"exit_reason,omitempty"`
}

type AnnouncementInfo struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Destination string        `json:"destination"`
	Uptime      time.Duration `json:"uptime_ns"`
}
