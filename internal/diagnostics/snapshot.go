package diagnostics

import "time"

// RecentErrorsInSnapshot is how many entries a snapshot carries.
const RecentErrorsInSnapshot = 10

// TransportStatus is the signaling transport as seen by the snapshot.
type TransportStatus struct {
	Connected bool   `json:"connected"`
	Kind      string `json:"kind"`
}

// SessionSummary is the meeting session as seen by the snapshot.
type SessionSummary struct {
	MeetingID       string `json:"meeting_id,omitempty"`
	Title           string `json:"title,omitempty"`
	HostID          string `json:"host_id,omitempty"`
	LocalID         string `json:"local_id,omitempty"`
	IsHost          bool   `json:"is_host"`
	IsActive        bool   `json:"is_active"`
	Participants    int    `json:"participants"`
	HasLocalStream  bool   `json:"has_local_stream"`
	HasScreenStream bool   `json:"has_screen_stream"`
}

// Sources are read on every snapshot. Nil funcs are skipped.
type Sources struct {
	Transport    func() TransportStatus
	Capabilities func() map[string]bool
	Connections  func() map[string]string
	Session      func() SessionSummary
}

// Snapshot is a point-in-time health view.
type Snapshot struct {
	Timestamp         time.Time         `json:"timestamp"`
	Transport         TransportStatus   `json:"transport"`
	Capabilities      map[string]bool   `json:"capabilities"`
	ActiveConnections int               `json:"active_connections"`
	ConnectionStates  map[string]string `json:"connection_states,omitempty"`
	ParticipantCount  int               `json:"participant_count"`
	Session           SessionSummary    `json:"session"`
	RecentErrors      []Entry           `json:"recent_errors"`
}

// SetSources replaces the snapshot sources.
func (c *Collector) SetSources(s Sources) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources = s
}

// Snapshot reads every source. Sources are called without the collector's
// lock held, so they may record diagnostics themselves.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	src := c.sources
	c.mu.RUnlock()

	s := Snapshot{
		Timestamp:    c.clock.Now(),
		Transport:    TransportStatus{Kind: "none"},
		Capabilities: map[string]bool{},
	}
	if src.Transport != nil {
		s.Transport = src.Transport()
	}
	if src.Capabilities != nil {
		for k, v := range src.Capabilities() {
			s.Capabilities[k] = v
		}
	}
	if src.Connections != nil {
		s.ConnectionStates = src.Connections()
		for _, state := range s.ConnectionStates {
			if state != "closed" && state != "failed" {
				s.ActiveConnections++
			}
		}
	}
	if src.Session != nil {
		s.Session = src.Session()
		s.ParticipantCount = s.Session.Participants
	}
	s.RecentErrors = c.Recent(RecentErrorsInSnapshot)
	return s
}
