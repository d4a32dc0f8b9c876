package citadel

import (
	"fmt"
	"time"
)

// LocationKind distinguishes the two addressing schemes a Location supports.
type LocationKind int

const (
	// LocationGeneric addresses a record by name within a named vault or store.
	LocationGeneric LocationKind = iota

	// LocationCounter addresses a numbered slot within a named vault or store.
	LocationCounter
)

// Location is an addressable coordinate identifying a record inside a vault
// or store. It is a pure value type: two locations with equal fields address
// the same record.
type Location struct {
	Kind    LocationKind
	Vault   string
	Record  string
	Counter uint64
}

// GenericLocation builds a name-addressed location.
func GenericLocation(vault, record string) Location {
	return Location{Kind: LocationGeneric, Vault: vault, Record: record}
}

// CounterLocation builds a counter-addressed location.
func CounterLocation(vault string, counter uint64) Location {
	return Location{Kind: LocationCounter, Vault: vault, Counter: counter}
}

// key returns the storage key for the record this location addresses. The
// kind prefix keeps generic and counter namespaces disjoint.
func (l Location) key() string {
	if l.Kind == LocationCounter {
		return fmt.Sprintf("c/%d", l.Counter)
	}
	return "g/" + l.Record
}

func (l Location) String() string {
	if l.Kind == LocationCounter {
		return fmt.Sprintf("%s#%d", l.Vault, l.Counter)
	}
	return l.Vault + "/" + l.Record
}

// RecordHintSize is the fixed size of a record hint.
const RecordHintSize = 24

// RecordHint is a fixed-size opaque annotation attached to a vault record at
// write time. It is carried for bookkeeping only and never used for lookup.
type RecordHint [RecordHintSize]byte

// NewRecordHint builds a hint from a string, truncating to RecordHintSize.
func NewRecordHint(s string) RecordHint {
	var h RecordHint
	copy(h[:], s)
	return h
}

func (h RecordHint) String() string {
	end := len(h)
	for end > 0 && h[end-1] == 0 {
		end--
	}
	return string(h[:end])
}

// IsZero reports whether the hint carries no annotation.
func (h RecordHint) IsZero() bool {
	return h == RecordHint{}
}

// SnapshotFlag is a reserved access-control modifier for vault and store
// handles. No variants are currently defined; the type exists so the handle
// signatures remain stable when flags gain semantics.
type SnapshotFlag uint8

// SnapshotState is the lock state of a snapshot path.
type SnapshotState string

const (
	// StateLocked means no key material for the path is resident in memory.
	StateLocked SnapshotState = "locked"

	// StateUnlocked means the snapshot is open and serving operations.
	StateUnlocked SnapshotState = "unlocked"
)

// Status reports the lock state of a snapshot path and, when unlocked, how
// long it has been idle. Status transitions are pushed asynchronously to
// every listener registered for the path.
type Status struct {
	State     SnapshotState `json:"state"`
	IdleSince time.Duration `json:"idle_since,omitempty"`
}
