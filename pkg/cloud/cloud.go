// Package cloud declares the collaborator interfaces poolhand consumes: the
// resource store, the query channel, the notification sink, and the caller
// address resolver. Concrete provider bindings live outside this repository;
// pkg/cloud/memcloud ships an in-memory implementation for tests and dry runs.
package cloud

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/poolhand/poolhand/pkg/core"
)

// Kind identifies the type of an infrastructure object.
type Kind string

const (
	// KindResourceGroup is the containing group.
	KindResourceGroup Kind = "resource_group"

	// KindServer is the logical database server.
	KindServer Kind = "server"

	// KindFirewallRule is one address-range rule on a server.
	KindFirewallRule Kind = "firewall_rule"

	// KindPool is an elastic pool.
	KindPool Kind = "pool"

	// KindDatabase is a member or standalone database.
	KindDatabase Kind = "database"
)

// Validate checks if the kind is known.
func (k Kind) Validate() error {
	switch k {
	case KindResourceGroup, KindServer, KindFirewallRule, KindPool, KindDatabase:
		return nil
	default:
		return fmt.Errorf("invalid resource kind: %s", k)
	}
}

// JoinID builds a hierarchical resource identifier from its path segments.
func JoinID(segments ...string) string {
	return strings.Join(segments, "/")
}

// Snapshot is a point-in-time read of one infrastructure object.
type Snapshot struct {
	// Kind is the object type.
	Kind Kind `json:"kind"`

	// ID is the fully qualified identifier.
	ID string `json:"id"`

	// Name is the leaf name.
	Name string `json:"name"`

	// Status is the provider-reported operational status.
	Status string `json:"status"`

	// Placement is set for databases.
	Placement core.Placement `json:"placement,omitempty"`

	// Pool is set for elastic pools.
	Pool *core.PoolSpec `json:"pool,omitempty"`

	// Tags are the object's tags as stored by the provider.
	Tags map[string]string `json:"tags,omitempty"`

	// ObservedAt is when the snapshot was taken.
	ObservedAt time.Time `json:"observed_at"`
}

// ResourceSpec is the create-time description of one object. Only the field
// matching Kind is consulted.
type ResourceSpec struct {
	// Kind is the object type to create.
	Kind Kind `json:"kind"`

	// ID is the fully qualified identifier the object should get.
	ID string `json:"id"`

	// Location is the region, required for groups and servers.
	Location string `json:"location,omitempty"`

	// Tags are applied on creation.
	Tags map[string]string `json:"tags,omitempty"`

	// Server describes a server object.
	Server *core.ServerSpec `json:"server,omitempty"`

	// Firewall describes a firewall rule object.
	Firewall *core.FirewallRuleSpec `json:"firewall,omitempty"`

	// Pool describes an elastic pool object.
	Pool *core.PoolSpec `json:"pool,omitempty"`

	// Database describes a database object.
	Database *core.DatabaseSpec `json:"database,omitempty"`
}

// Delta is a partial update applied to an existing object. Nil fields are
// left untouched. Moving a database between placements sets either PoolName
// or both Edition and ServiceObjective, never both forms.
type Delta struct {
	// PoolName reassigns a database into the named pool.
	PoolName *string `json:"pool_name,omitempty"`

	// Edition retargets a database to a standalone edition.
	Edition *string `json:"edition,omitempty"`

	// ServiceObjective retargets a database to a standalone tier.
	ServiceObjective *string `json:"service_objective,omitempty"`

	// Tags replaces the object's tags when non-nil.
	Tags map[string]string `json:"tags,omitempty"`
}

// ResourceStore is the provider surface for infrastructure objects. All calls
// are synchronous-with-retry at the transport level; failures surface as
// transport errors with original detail.
type ResourceStore interface {
	// Exists reports whether the identified object is present.
	Exists(ctx context.Context, kind Kind, id string) (bool, error)

	// Create provisions a new object and returns its initial snapshot.
	Create(ctx context.Context, spec ResourceSpec) (*Snapshot, error)

	// Get reads the current snapshot of an object.
	Get(ctx context.Context, kind Kind, id string) (*Snapshot, error)

	// Update applies a partial change and returns the resulting snapshot.
	Update(ctx context.Context, kind Kind, id string, delta Delta) (*Snapshot, error)
}

// Row is one result row keyed by column name.
type Row map[string]interface{}

// Float reads a numeric column, tolerating the integer widths drivers
// actually return.
func (r Row) Float(column string) float64 {
	switch v := r[column].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}

// Int reads an integer column.
func (r Row) Int(column string) int64 {
	switch v := r[column].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// String reads a text column.
func (r Row) String(column string) string {
	if s, ok := r[column].(string); ok {
		return s
	}
	return ""
}

// RowSet is an ordered query result.
type RowSet []Row

// Target addresses one database for query execution.
type Target struct {
	// ServerAddress is the network address of the server.
	ServerAddress string `json:"server_address"`

	// Database is the database name.
	Database string `json:"database"`

	// CredentialToken authenticates the session. Opaque to poolhand.
	CredentialToken string `json:"-"`
}

// QueryChannel executes maintenance statements and reads diagnostic views.
// Execution is synchronous and bounded by the context deadline.
type QueryChannel interface {
	Execute(ctx context.Context, target Target, statement string) (RowSet, error)
}

// Message is one notification payload.
type Message struct {
	// Subject is the short summary line.
	Subject string `json:"subject"`

	// Body is the full text.
	Body string `json:"body"`

	// Fields carries structured detail for sinks that support it.
	Fields map[string]string `json:"fields,omitempty"`
}

// NotificationSink delivers run summaries. Fire-and-forget: failures are
// warnings, never fatal.
type NotificationSink interface {
	Send(ctx context.Context, msg Message) error
}

// AddrResolver resolves the caller's public address for the default firewall
// rule. Resolution failure is a warning, not an error.
type AddrResolver interface {
	PublicAddress(ctx context.Context) (string, error)
}
