// Package comm layers peer-to-peer remote-vault access over the citadel
// engine: a listening node, a peer and relay registry, a per-peer
// per-permission firewall, and typed request/response envelopes routed
// through a handler registry.
package comm

import (
	"errors"
	"time"

	"southwinds.dev/citadel"
)

var errUnknownProcedure = errors.New("unknown procedure kind")

// RequestPermission identifies one remotely invokable capability. Firewall
// rules grant or deny capabilities per peer or by default.
type RequestPermission uint

const (
	PermCheckVault RequestPermission = iota
	PermCheckRecord
	PermWriteToVault
	PermRevokeData
	PermGarbageCollect
	PermListIds
	PermReadFromStore
	PermWriteToStore
	PermDeleteFromStore
	PermCreateNewVault
	PermReadSnapshot
	PermWriteSnapshot
	PermProcedures
	PermClearCache

	permCount
)

var permissionNames = map[RequestPermission]string{
	PermCheckVault:      "check_vault",
	PermCheckRecord:     "check_record",
	PermWriteToVault:    "write_to_vault",
	PermRevokeData:      "revoke_data",
	PermGarbageCollect:  "garbage_collect",
	PermListIds:         "list_ids",
	PermReadFromStore:   "read_from_store",
	PermWriteToStore:    "write_to_store",
	PermDeleteFromStore: "delete_from_store",
	PermCreateNewVault:  "create_new_vault",
	PermReadSnapshot:    "read_snapshot",
	PermWriteSnapshot:   "write_snapshot",
	PermProcedures:      "procedures",
	PermClearCache:      "clear_cache",
}

func (p RequestPermission) String() string {
	if name, ok := permissionNames[p]; ok {
		return name
	}
	return "unknown"
}

// AllPermissions returns every defined permission, for blanket rule helpers.
func AllPermissions() []RequestPermission {
	perms := make([]RequestPermission, 0, permCount)
	for p := RequestPermission(0); p < permCount; p++ {
		perms = append(perms, p)
	}
	return perms
}

// RequestKind tags one request envelope variant. Each kind maps to exactly
// one permission the firewall checks before dispatch.
type RequestKind string

const (
	KindCheckVault      RequestKind = "check_vault"
	KindCheckRecord     RequestKind = "check_record"
	KindWriteToVault    RequestKind = "write_to_vault"
	KindRevokeData      RequestKind = "revoke_data"
	KindGarbageCollect  RequestKind = "garbage_collect"
	KindListIds         RequestKind = "list_ids"
	KindReadFromStore   RequestKind = "read_from_store"
	KindWriteToStore    RequestKind = "write_to_store"
	KindDeleteFromStore RequestKind = "delete_from_store"
	KindCreateNewVault  RequestKind = "create_new_vault"
	KindReadSnapshot    RequestKind = "read_snapshot"
	KindWriteSnapshot   RequestKind = "write_snapshot"
	KindProcedure       RequestKind = "procedure"
	KindClearCache      RequestKind = "clear_cache"
)

// kindPermissions maps each request kind to the permission it requires.
var kindPermissions = map[RequestKind]RequestPermission{
	KindCheckVault:      PermCheckVault,
	KindCheckRecord:     PermCheckRecord,
	KindWriteToVault:    PermWriteToVault,
	KindRevokeData:      PermRevokeData,
	KindGarbageCollect:  PermGarbageCollect,
	KindListIds:         PermListIds,
	KindReadFromStore:   PermReadFromStore,
	KindWriteToStore:    PermWriteToStore,
	KindDeleteFromStore: PermDeleteFromStore,
	KindCreateNewVault:  PermCreateNewVault,
	KindReadSnapshot:    PermReadSnapshot,
	KindWriteSnapshot:   PermWriteSnapshot,
	KindProcedure:       PermProcedures,
	KindClearCache:      PermClearCache,
}

// locationDTO is the wire form of a citadel.Location.
type locationDTO struct {
	Kind    string `json:"kind"`
	Vault   string `json:"vault,omitempty"`
	Record  string `json:"record,omitempty"`
	Counter uint64 `json:"counter,omitempty"`
}

func toLocationDTO(loc citadel.Location) locationDTO {
	dto := locationDTO{Vault: loc.Vault}
	if loc.Kind == citadel.LocationCounter {
		dto.Kind = "counter"
		dto.Counter = loc.Counter
	} else {
		dto.Kind = "generic"
		dto.Record = loc.Record
	}
	return dto
}

func fromLocationDTO(dto locationDTO) citadel.Location {
	if dto.Kind == "counter" {
		return citadel.CounterLocation(dto.Vault, dto.Counter)
	}
	return citadel.GenericLocation(dto.Vault, dto.Record)
}

// procedureDTO is the wire form of a citadel.Procedure. Kind selects the
// variant; unused fields stay zero.
type procedureDTO struct {
	Kind       string       `json:"kind"`
	Output     *locationDTO `json:"output,omitempty"`
	Source     *locationDTO `json:"source,omitempty"`
	SourceKind string       `json:"source_kind,omitempty"`
	Chain      []uint32     `json:"chain,omitempty"`
	SizeBytes  int          `json:"size_bytes,omitempty"`
	Mnemonic   string       `json:"mnemonic,omitempty"`
	Passphrase string       `json:"passphrase,omitempty"`
	Hint       []byte       `json:"hint,omitempty"`
	PrivateKey *locationDTO `json:"private_key,omitempty"`
	Message    []byte       `json:"message,omitempty"`
}

func toProcedureDTO(procedure citadel.Procedure) (procedureDTO, error) {
	switch p := procedure.(type) {
	case citadel.SLIP10Generate:
		out := toLocationDTO(p.Output)
		return procedureDTO{Kind: "slip10_generate", Output: &out, SizeBytes: p.SizeBytes, Hint: hintBytes(p.Hint)}, nil
	case citadel.SLIP10Derive:
		out := toLocationDTO(p.Output)
		src := toLocationDTO(p.Source)
		return procedureDTO{
			Kind: "slip10_derive", Output: &out, Source: &src,
			SourceKind: string(p.SourceKind), Chain: p.Chain, Hint: hintBytes(p.Hint),
		}, nil
	case citadel.BIP39Generate:
		out := toLocationDTO(p.Output)
		return procedureDTO{Kind: "bip39_generate", Output: &out, Passphrase: p.Passphrase, Hint: hintBytes(p.Hint)}, nil
	case citadel.BIP39Recover:
		out := toLocationDTO(p.Output)
		return procedureDTO{Kind: "bip39_recover", Output: &out, Mnemonic: p.Mnemonic, Passphrase: p.Passphrase, Hint: hintBytes(p.Hint)}, nil
	case citadel.Ed25519PublicKey:
		key := toLocationDTO(p.PrivateKey)
		return procedureDTO{Kind: "ed25519_public_key", PrivateKey: &key}, nil
	case citadel.Ed25519Sign:
		key := toLocationDTO(p.PrivateKey)
		return procedureDTO{Kind: "ed25519_sign", PrivateKey: &key, Message: p.Message}, nil
	default:
		return procedureDTO{}, errUnknownProcedure
	}
}

func fromProcedureDTO(dto procedureDTO) (citadel.Procedure, error) {
	loc := func(p *locationDTO) citadel.Location {
		if p == nil {
			return citadel.Location{}
		}
		return fromLocationDTO(*p)
	}
	switch dto.Kind {
	case "slip10_generate":
		return citadel.SLIP10Generate{Output: loc(dto.Output), SizeBytes: dto.SizeBytes, Hint: hintFromBytes(dto.Hint)}, nil
	case "slip10_derive":
		return citadel.SLIP10Derive{
			Chain:      dto.Chain,
			SourceKind: citadel.SourceType(dto.SourceKind),
			Source:     loc(dto.Source),
			Output:     loc(dto.Output),
			Hint:       hintFromBytes(dto.Hint),
		}, nil
	case "bip39_generate":
		return citadel.BIP39Generate{Passphrase: dto.Passphrase, Output: loc(dto.Output), Hint: hintFromBytes(dto.Hint)}, nil
	case "bip39_recover":
		return citadel.BIP39Recover{Mnemonic: dto.Mnemonic, Passphrase: dto.Passphrase, Output: loc(dto.Output), Hint: hintFromBytes(dto.Hint)}, nil
	case "ed25519_public_key":
		return citadel.Ed25519PublicKey{PrivateKey: loc(dto.PrivateKey)}, nil
	case "ed25519_sign":
		return citadel.Ed25519Sign{PrivateKey: loc(dto.PrivateKey), Message: dto.Message}, nil
	default:
		return nil, errUnknownProcedure
	}
}

func hintBytes(h citadel.RecordHint) []byte {
	if h.IsZero() {
		return nil
	}
	return append([]byte(nil), h[:]...)
}

func hintFromBytes(b []byte) citadel.RecordHint {
	var h citadel.RecordHint
	copy(h[:], b)
	return h
}

// Request is the envelope posted to /v1/invoke. Kind selects the operation;
// only the fields that operation uses are populated.
type Request struct {
	ID        string        `json:"id"`
	Kind      RequestKind   `json:"kind"`
	Path      string        `json:"path,omitempty"`
	Vault     string        `json:"vault,omitempty"`
	Store     string        `json:"store,omitempty"`
	Location  *locationDTO  `json:"location,omitempty"`
	Record    []byte        `json:"record,omitempty"`
	Hint      []byte        `json:"hint,omitempty"`
	Lifetime  time.Duration `json:"lifetime,omitempty"`
	Collect   bool          `json:"collect,omitempty"`
	Procedure *procedureDTO `json:"procedure,omitempty"`
}

// recordInfoDTO is the wire form of one ListIds entry.
type recordInfoDTO struct {
	Location locationDTO `json:"location"`
	Hint     []byte      `json:"hint,omitempty"`
}

// Response is the envelope returned from /v1/invoke. Failures carry an
// ErrorKind string the client maps back to an engine sentinel.
type Response struct {
	ID        string                   `json:"id"`
	OK        bool                     `json:"ok"`
	ErrorKind string                   `json:"error_kind,omitempty"`
	Error     string                   `json:"error,omitempty"`
	Exists    bool                     `json:"exists,omitempty"`
	Record    []byte                   `json:"record,omitempty"`
	Records   []recordInfoDTO          `json:"records,omitempty"`
	Status    *citadel.Status          `json:"status,omitempty"`
	Output    *citadel.ProcedureOutput `json:"output,omitempty"`
}
