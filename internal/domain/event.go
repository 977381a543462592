package domain

import (
	"regexp"
	"sort"
	"strings"
	"time"
	_ "time/tzdata" // IANA zones must resolve on minimal images
)

// SlotKeyLayout is the canonical UTC form of a slot key.
const SlotKeyLayout = "2006-01-02T15:04:05Z"

type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

type Event struct {
	ID            string    `json:"id"`
	CreatorID     string    `json:"creatorId"`
	Name          string    `json:"name"`
	DateRange     DateRange `json:"dateRange"`
	Duration      int       `json:"duration"`
	Timezone      string    `json:"timezone"`
	DisabledSlots []string  `json:"disabledSlots"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type Participant struct {
	ID           string
	EventID      string
	UserID       string
	Username     string
	Availability Availability
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Availability maps a slot key to presence. Only true entries are meaningful.
type Availability map[string]bool

// NormalizeSlotKey parses an RFC 3339 instant and renders it in UTC.
func NormalizeSlotKey(key string) (string, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(key))
	if err != nil {
		return "", Validation(CodeInvalidSlot, "invalid slot key: "+key)
	}
	return t.UTC().Format(SlotKeyLayout), nil
}

// NormalizeSlots canonicalises, de-duplicates and sorts slot keys.
func NormalizeSlots(keys []string) ([]string, error) {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		n, err := NormalizeSlotKey(k)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

// Prune returns a copy holding only true entries whose key is not disabled.
// Keys are normalised; an unparsable key is an error.
func (a Availability) Prune(disabled []string) (Availability, error) {
	blocked := make(map[string]struct{}, len(disabled))
	for _, d := range disabled {
		blocked[d] = struct{}{}
	}
	out := make(Availability, len(a))
	for k, v := range a {
		if !v {
			continue
		}
		n, err := NormalizeSlotKey(k)
		if err != nil {
			return nil, err
		}
		if _, ok := blocked[n]; ok {
			continue
		}
		out[n] = true
	}
	return out, nil
}

type DateRangeInput struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type CreateEventRequest struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	DateRange     DateRangeInput `json:"dateRange"`
	Duration      int            `json:"duration"`
	Timezone      string         `json:"timezone"`
	Participants  []string       `json:"participants,omitempty"`
	DisabledSlots []string       `json:"disabledSlots,omitempty"`
}

type ParticipantInput struct {
	UserID       string       `json:"userId"`
	Availability Availability `json:"availability"`
}

// UpdateEventRequest is the wire shape of PUT /events/{id}. Which fields
// take effect is decided by the caller's role, see ReplaceEvent and
// UpdateOwnAvailability.
type UpdateEventRequest struct {
	Name          *string            `json:"name,omitempty"`
	DateRange     *DateRangeInput    `json:"dateRange,omitempty"`
	Duration      *int               `json:"duration,omitempty"`
	Timezone      *string            `json:"timezone,omitempty"`
	DisabledSlots *[]string          `json:"disabledSlots,omitempty"`
	Participants  []ParticipantInput `json:"participants,omitempty"`
	Availability  Availability       `json:"availability,omitempty"`
}

// EventMutation is either ReplaceEvent or UpdateOwnAvailability.
type EventMutation interface {
	isEventMutation()
}

// ReplaceEvent is the creator's whole-event write. A nil Roster leaves the
// participant list untouched; a nil CreatorAvailability leaves the creator's
// row untouched.
type ReplaceEvent struct {
	Name                string
	DateRange           DateRange
	Duration            int
	Timezone            string
	DisabledSlots       []string
	Roster              []ParticipantInput
	CreatorAvailability Availability
}

// UpdateOwnAvailability is the only write a non-creator participant may make.
type UpdateOwnAvailability struct {
	UserID       string
	Availability Availability
}

func (ReplaceEvent) isEventMutation()          {}
func (UpdateOwnAvailability) isEventMutation() {}

// AsReplace merges the request over the current event and validates the result.
func (r UpdateEventRequest) AsReplace(current *Event) (ReplaceEvent, error) {
	m := ReplaceEvent{
		Name:          current.Name,
		DateRange:     current.DateRange,
		Duration:      current.Duration,
		Timezone:      current.Timezone,
		DisabledSlots: current.DisabledSlots,
	}
	if r.Name != nil {
		m.Name = strings.TrimSpace(*r.Name)
	}
	if r.Duration != nil {
		m.Duration = *r.Duration
	}
	if r.Timezone != nil {
		m.Timezone = strings.TrimSpace(*r.Timezone)
	}
	dr := DateRangeInput{
		From: current.DateRange.From.UTC().Format(time.RFC3339),
		To:   current.DateRange.To.UTC().Format(time.RFC3339),
	}
	if r.DateRange != nil {
		dr = *r.DateRange
	}
	parsed, err := ValidateEventFields(m.Name, dr, m.Duration, m.Timezone)
	if err != nil {
		return ReplaceEvent{}, err
	}
	m.DateRange = parsed
	if r.DisabledSlots != nil {
		if m.DisabledSlots, err = NormalizeSlots(*r.DisabledSlots); err != nil {
			return ReplaceEvent{}, err
		}
	}
	if len(r.Participants) > 0 {
		m.Roster = r.Participants
	}
	if r.Availability != nil {
		m.CreatorAvailability = r.Availability
	}
	return m, nil
}

// AsOwnAvailability extracts the caller's availability, ignoring everything
// else in the request. ok is false when the request carries none.
func (r UpdateEventRequest) AsOwnAvailability(userID string) (m UpdateOwnAvailability, ok bool) {
	if r.Availability != nil {
		return UpdateOwnAvailability{UserID: userID, Availability: r.Availability}, true
	}
	for _, p := range r.Participants {
		if p.UserID == userID {
			return UpdateOwnAvailability{UserID: userID, Availability: p.Availability}, true
		}
	}
	return UpdateOwnAvailability{}, false
}

var eventIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func ValidateEventID(id string) error {
	if !eventIDRegex.MatchString(id) {
		return Validation(CodeInvalidEvent, "event id must be 1-64 letters, digits, '-' or '_'")
	}
	return nil
}

// ValidateEventFields checks the fields shared by create and replace and
// returns the parsed date range.
func ValidateEventFields(name string, dr DateRangeInput, duration int, timezone string) (DateRange, error) {
	if strings.TrimSpace(name) == "" {
		return DateRange{}, Validation(CodeInvalidEvent, "name is required")
	}
	if strings.TrimSpace(dr.From) == "" || strings.TrimSpace(dr.To) == "" {
		return DateRange{}, Validation(CodeInvalidEvent, "dateRange.from and dateRange.to are required")
	}
	if strings.TrimSpace(timezone) == "" {
		return DateRange{}, Validation(CodeInvalidEvent, "timezone is required")
	}
	if duration <= 0 {
		return DateRange{}, Validation(CodeInvalidEvent, "duration must be positive")
	}
	if _, err := time.LoadLocation(timezone); err != nil || timezone == "Local" {
		return DateRange{}, Validation(CodeInvalidEvent, "unknown timezone")
	}
	from, err := time.Parse(time.RFC3339, strings.TrimSpace(dr.From))
	if err != nil {
		return DateRange{}, Validation(CodeInvalidEvent, "dateRange.from must be an ISO timestamp")
	}
	to, err := time.Parse(time.RFC3339, strings.TrimSpace(dr.To))
	if err != nil {
		return DateRange{}, Validation(CodeInvalidEvent, "dateRange.to must be an ISO timestamp")
	}
	if to.Before(from) {
		return DateRange{}, Validation(CodeInvalidEvent, "dateRange.to must not precede dateRange.from")
	}
	return DateRange{From: from.UTC(), To: to.UTC()}, nil
}

type ParticipantView struct {
	UserID       string       `json:"userId"`
	Username     string       `json:"username"`
	Availability Availability `json:"availability"`
}

type EventView struct {
	Event
	Participants []ParticipantView `json:"participants"`
	IsOwner      bool              `json:"isOwner"`
}

type EventSummary struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	CreatorID        string    `json:"creatorId"`
	DateRange        DateRange `json:"dateRange"`
	Duration         int       `json:"duration"`
	Timezone         string    `json:"timezone"`
	ParticipantCount int       `json:"participantCount"`
	IsOwner          bool      `json:"isOwner"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// NewEventView assembles the client representation of an event.
func NewEventView(ev *Event, participants []Participant, viewerID string) EventView {
	view := EventView{
		Event:        *ev,
		Participants: make([]ParticipantView, 0, len(participants)),
		IsOwner:      viewerID != "" && viewerID == ev.CreatorID,
	}
	if view.DisabledSlots == nil {
		view.DisabledSlots = []string{}
	}
	for _, p := range participants {
		avail := p.Availability
		if avail == nil {
			avail = Availability{}
		}
		view.Participants = append(view.Participants, ParticipantView{
			UserID:       p.UserID,
			Username:     p.Username,
			Availability: avail,
		})
	}
	return view
}
