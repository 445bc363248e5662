package ws

import "github.com/zerverless/studio/internal/session"

type BaseMessage struct {
	Type string `json:"type"`
}

// Client → Server: "ping", "refresh"

// Server → Client

type StateMessage struct {
	Type string `json:"type"`
	session.Snapshot
}

type PongMessage struct {
	Type string `json:"type"`
}
