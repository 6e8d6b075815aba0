package api

// GET /streams, GET /streams/{id}
type sessionResp struct {
	ID         string `json:"id"`
	Token      string `json:"token"`
	State      string `json:"state"`
	Throttle   bool   `json:"throttle"`
	BytesSent  int64  `json:"bytes_sent"`
	ChunksSent int64  `json:"chunks_sent"`
	StartedAt  string `json:"started_at"`
	UpdatedAt  string `json:"updated_at"`
}

type sessionsResp struct {
	Active   int           `json:"active"`
	Sessions []sessionResp `json:"sessions"`
}
