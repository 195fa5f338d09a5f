package opsmcp

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Incident is a tracked incident record.
type Incident struct {
	ID            string    `json:"incident_id"`
	Title         string    `json:"title"`
	Summary       string    `json:"summary"`
	Severity      string    `json:"severity"`
	Status        string    `json:"status"`
	EvidenceLinks []string  `json:"evidence_links,omitempty"`
	Hypotheses    []string  `json:"hypotheses,omitempty"`
	NextSteps     []string  `json:"next_steps,omitempty"`
	URL           string    `json:"url"`
	CreatedAt     time.Time `json:"created_at"`
}

// Case is a tracked follow-up case record.
type Case struct {
	ID            string    `json:"case_id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Priority      string    `json:"priority"`
	Status        string    `json:"status"`
	EvidenceLinks []string  `json:"evidence_links,omitempty"`
	Hypotheses    []string  `json:"hypotheses,omitempty"`
	NextSteps     []string  `json:"next_steps,omitempty"`
	URL           string    `json:"url"`
	CreatedAt     time.Time `json:"created_at"`
}

// Registry is the in-memory incident and case store behind the write tools.
// Records do not survive a restart; deployments that need durable tracking
// point the write tools at a real tracker instead.
type Registry struct {
	baseURL string

	mu        sync.RWMutex
	incidents map[string]*Incident
	cases     map[string]*Case
}

// NewRegistry creates an empty registry. Record URLs are rooted at baseURL;
// an empty baseURL yields relative URLs.
func NewRegistry(baseURL string) *Registry {
	return &Registry{
		baseURL:   strings.TrimRight(baseURL, "/"),
		incidents: make(map[string]*Incident),
		cases:     make(map[string]*Case),
	}
}

// CreateIncident stores the incident, assigning its ID, URL, status, and
// creation time. The stored record is returned.
func (r *Registry) CreateIncident(inc *Incident) *Incident {
	inc.ID = "INC-" + ulid.Make().String()
	inc.URL = fmt.Sprintf("%s/incidents/%s", r.baseURL, inc.ID)
	inc.Status = "open"
	inc.CreatedAt = time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.incidents[inc.ID] = inc
	return inc
}

// CreateCase stores the case, assigning its ID, URL, status, and creation
// time. The stored record is returned.
func (r *Registry) CreateCase(c *Case) *Case {
	c.ID = "CASE-" + ulid.Make().String()
	c.URL = fmt.Sprintf("%s/cases/%s", r.baseURL, c.ID)
	c.Status = "open"
	c.CreatedAt = time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cases[c.ID] = c
	return c
}

// Incident looks up an incident by ID.
func (r *Registry) Incident(id string) (*Incident, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inc, ok := r.incidents[id]
	return inc, ok
}

// Case looks up a case by ID.
func (r *Registry) Case(id string) (*Case, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cases[id]
	return c, ok
}

// Incidents returns all incidents, newest first.
func (r *Registry) Incidents() []*Incident {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Incident, 0, len(r.incidents))
	for _, inc := range r.incidents {
		out = append(out, inc)
	}
	slices.SortFunc(out, func(a, b *Incident) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out
}
