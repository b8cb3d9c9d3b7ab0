package types

import "time"

// EventType identifies the kind of message sent to real-time subscribers.
type EventType string

const (
	EventTypeSample EventType = "SAMPLE"
	EventTypeStatus EventType = "STATUS"
)

// Event is anything that can be broadcast to subscribers.
type Event interface {
	EventSiteID() string
}

// SampleEvent is the live reading broadcast on every simulation tick.
type SampleEvent struct {
	Type       EventType `json:"type"`
	SiteID     string    `json:"siteId"`
	Timestamp  time.Time `json:"timestamp"`
	PowerKW    float64   `json:"powerKw"`
	Irradiance float64   `json:"irradiance"`
	Temp       float64   `json:"temp"`
}

// EventSiteID implements Event.
func (e SampleEvent) EventSiteID() string { return e.SiteID }

// NewSampleEvent builds the broadcast form of a sample. Temp carries the
// module temperature.
func NewSampleEvent(s Sample) SampleEvent {
	return SampleEvent{
		Type:       EventTypeSample,
		SiteID:     s.SiteID,
		Timestamp:  s.Timestamp,
		PowerKW:    s.PowerKW,
		Irradiance: s.Irradiance,
		Temp:       s.ModuleTemp,
	}
}

// StatusEvent announces that a site's simulation started or stopped.
type StatusEvent struct {
	Type    EventType `json:"type"`
	SiteID  string    `json:"siteId"`
	Running bool      `json:"running"`
}

// EventSiteID implements Event.
func (e StatusEvent) EventSiteID() string { return e.SiteID }

// NewStatusEvent builds a status announcement.
func NewStatusEvent(siteID string, running bool) StatusEvent {
	return StatusEvent{Type: EventTypeStatus, SiteID: siteID, Running: running}
}
