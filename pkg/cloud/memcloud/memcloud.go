// Package memcloud provides an in-memory implementation of the pkg/cloud
// collaborator interfaces. It backs tests, dry runs, and local
// experimentation; it is not a real provider binding.
package memcloud

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/poolhand/poolhand/pkg/cloud"
	"github.com/poolhand/poolhand/pkg/core"
)

// Store is an in-memory cloud.ResourceStore. It also implements
// cloud.QueryChannel, cloud.NotificationSink, and cloud.AddrResolver so a
// single instance can stand in for the whole provider surface.
type Store struct {
	mu sync.Mutex

	resources map[cloud.Kind]map[string]*cloud.Snapshot

	// statusScript queues the statuses successive Get calls report for a
	// database. When the queue drains the last value repeats.
	statusScript map[string][]string

	// Failure injection, keyed by resource ID. An empty key matches every ID
	// of the call type.
	FailExists map[string]error
	FailCreate map[string]error
	FailGet    map[string]error
	FailUpdate map[string]error

	// Call accounting for idempotency and purity assertions.
	CreateCalls int
	UpdateCalls int
	GetCalls    int

	// Mutations records every state-changing call in order.
	Mutations []string

	// Query channel scripting.
	results  []scriptedResult
	Executed []ExecutedStatement
	FailExec map[string]error

	// Notification sink state.
	Sent     []cloud.Message
	FailSend error

	// Address resolver state.
	Addr        string
	FailResolve error
}

type scriptedResult struct {
	match string
	rows  cloud.RowSet
}

// ExecutedStatement is one statement the query channel received.
type ExecutedStatement struct {
	Target    cloud.Target
	Statement string
}

// New creates an empty in-memory provider.
func New() *Store {
	return &Store{
		resources:    make(map[cloud.Kind]map[string]*cloud.Snapshot),
		statusScript: make(map[string][]string),
		FailExists:   make(map[string]error),
		FailCreate:   make(map[string]error),
		FailGet:      make(map[string]error),
		FailUpdate:   make(map[string]error),
		FailExec:     make(map[string]error),
		Addr:         "203.0.113.10",
	}
}

// Exists reports whether the identified object is present.
func (s *Store) Exists(_ context.Context, kind cloud.Kind, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(s.FailExists, id); err != nil {
		return false, err
	}
	_, ok := s.resources[kind][id]
	return ok, nil
}

// Create provisions a new object.
func (s *Store) Create(_ context.Context, spec cloud.ResourceSpec) (*cloud.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CreateCalls++
	s.Mutations = append(s.Mutations, fmt.Sprintf("create %s %s", spec.Kind, spec.ID))
	if err := s.injected(s.FailCreate, spec.ID); err != nil {
		return nil, err
	}
	if _, ok := s.resources[spec.Kind][spec.ID]; ok {
		return nil, fmt.Errorf("memcloud: %s %s already exists", spec.Kind, spec.ID)
	}

	snap := &cloud.Snapshot{
		Kind:       spec.Kind,
		ID:         spec.ID,
		Name:       leaf(spec.ID),
		Status:     core.StatusOnline,
		Tags:       copyTags(spec.Tags),
		ObservedAt: time.Now(),
	}
	if spec.Pool != nil {
		p := *spec.Pool
		snap.Pool = &p
	}
	if spec.Database != nil {
		snap.Placement = core.Placement{
			ServerID:         parentID(spec.ID),
			PoolName:         spec.Database.PoolName,
			Edition:          spec.Database.Edition,
			ServiceObjective: spec.Database.ServiceObjective,
			Status:           core.StatusOnline,
		}
	}

	if s.resources[spec.Kind] == nil {
		s.resources[spec.Kind] = make(map[string]*cloud.Snapshot)
	}
	s.resources[spec.Kind][spec.ID] = snap
	out := *snap
	return &out, nil
}

// Get reads the current snapshot of an object. For databases the reported
// status follows any script installed with ScriptStatuses.
func (s *Store) Get(_ context.Context, kind cloud.Kind, id string) (*cloud.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.GetCalls++
	if err := s.injected(s.FailGet, id); err != nil {
		return nil, err
	}
	snap, ok := s.resources[kind][id]
	if !ok {
		return nil, fmt.Errorf("memcloud: %s %s not found", kind, id)
	}

	out := *snap
	if kind == cloud.KindDatabase {
		if script := s.statusScript[id]; len(script) > 0 {
			out.Status = script[0]
			if len(script) > 1 {
				s.statusScript[id] = script[1:]
			}
		}
		out.Placement.Status = out.Status
	}
	out.ObservedAt = time.Now()
	return &out, nil
}

// Update applies a partial change to an existing object.
func (s *Store) Update(_ context.Context, kind cloud.Kind, id string, delta cloud.Delta) (*cloud.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.UpdateCalls++
	s.Mutations = append(s.Mutations, fmt.Sprintf("update %s %s", kind, id))
	if err := s.injected(s.FailUpdate, id); err != nil {
		return nil, err
	}
	snap, ok := s.resources[kind][id]
	if !ok {
		return nil, fmt.Errorf("memcloud: %s %s not found", kind, id)
	}

	if delta.PoolName != nil {
		snap.Placement.PoolName = *delta.PoolName
		snap.Placement.Edition = ""
		snap.Placement.ServiceObjective = ""
	}
	if delta.Edition != nil {
		snap.Placement.Edition = *delta.Edition
		snap.Placement.PoolName = ""
	}
	if delta.ServiceObjective != nil {
		snap.Placement.ServiceObjective = *delta.ServiceObjective
		snap.Placement.PoolName = ""
	}
	if delta.Tags != nil {
		snap.Tags = copyTags(delta.Tags)
	}

	out := *snap
	return &out, nil
}

// Seed installs a snapshot directly, bypassing call accounting. Tests use it
// to set up pre-existing infrastructure.
func (s *Store) Seed(snap cloud.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resources[snap.Kind] == nil {
		s.resources[snap.Kind] = make(map[string]*cloud.Snapshot)
	}
	c := snap
	if c.Status == "" {
		c.Status = core.StatusOnline
	}
	s.resources[snap.Kind][snap.ID] = &c
}

// ScriptStatuses queues the statuses successive Get calls report for the
// database. The last entry repeats once the queue drains.
func (s *Store) ScriptStatuses(databaseID string, statuses ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusScript[databaseID] = statuses
}

// Count returns how many objects of the kind exist.
func (s *Store) Count(kind cloud.Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.resources[kind])
}

// Execute implements cloud.QueryChannel against the scripted results.
func (s *Store) Execute(_ context.Context, target cloud.Target, statement string) (cloud.RowSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Executed = append(s.Executed, ExecutedStatement{Target: target, Statement: statement})
	for match, err := range s.FailExec {
		if match == "" || strings.Contains(statement, match) {
			return nil, err
		}
	}
	for _, r := range s.results {
		if strings.Contains(statement, r.match) {
			return r.rows, nil
		}
	}
	return cloud.RowSet{}, nil
}

// ScriptResult registers rows returned for any statement containing match.
func (s *Store) ScriptResult(match string, rows cloud.RowSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, scriptedResult{match: match, rows: rows})
}

// Send implements cloud.NotificationSink.
func (s *Store) Send(_ context.Context, msg cloud.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSend != nil {
		return s.FailSend
	}
	s.Sent = append(s.Sent, msg)
	return nil
}

// PublicAddress implements cloud.AddrResolver.
func (s *Store) PublicAddress(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailResolve != nil {
		return "", s.FailResolve
	}
	return s.Addr, nil
}

func (s *Store) injected(m map[string]error, id string) error {
	if err, ok := m[id]; ok {
		return err
	}
	if err, ok := m[""]; ok {
		return err
	}
	return nil
}

func leaf(id string) string {
	if i := strings.LastIndex(id, "/"); i >= 0 {
		return id[i+1:]
	}
	return id
}

func parentID(id string) string {
	if i := strings.LastIndex(id, "/"); i >= 0 {
		return id[:i]
	}
	return ""
}

func copyTags(tags map[string]string) map[string]string {
	if tags == nil {
		return nil
	}
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}
