package comm

import (
	"context"
	"time"

	"southwinds.dev/citadel"
)

// RemoteVault mirrors the citadel.Vault surface against a vault on a remote
// peer. Operations are subject to the remote firewall.
type RemoteVault struct {
	peer *RemotePeer
	path string
	name string
}

func (v *RemoteVault) Name() string { return v.name }

// SaveRecord writes a record into the remote vault.
func (v *RemoteVault) SaveRecord(ctx context.Context, loc citadel.Location, record []byte, hint citadel.RecordHint) error {
	_, err := v.peer.invoke(ctx, Request{
		Kind:     KindWriteToVault,
		Path:     v.path,
		Vault:    v.name,
		Location: requestLocationDTO(loc),
		Record:   record,
		Hint:     hintBytes(hint),
	})
	return err
}

// RemoveRecord revokes a record in the remote vault. When collect is set the
// remote engine compacts reclaimable state with the removal.
func (v *RemoteVault) RemoveRecord(ctx context.Context, loc citadel.Location, collect bool) error {
	_, err := v.peer.invoke(ctx, Request{
		Kind:     KindRevokeData,
		Path:     v.path,
		Vault:    v.name,
		Location: requestLocationDTO(loc),
		Collect:  collect,
	})
	return err
}

// ContainsRecord checks for a record in the remote vault.
func (v *RemoteVault) ContainsRecord(ctx context.Context, loc citadel.Location) (bool, error) {
	response, err := v.peer.invoke(ctx, Request{
		Kind:     KindCheckRecord,
		Path:     v.path,
		Vault:    v.name,
		Location: requestLocationDTO(loc),
	})
	if err != nil {
		return false, err
	}
	return response.Exists, nil
}

// ListRecords lists location and hint for every record in the remote vault.
func (v *RemoteVault) ListRecords(ctx context.Context) ([]citadel.RecordInfo, error) {
	response, err := v.peer.invoke(ctx, Request{Kind: KindListIds, Path: v.path, Vault: v.name})
	if err != nil {
		return nil, err
	}
	infos := make([]citadel.RecordInfo, 0, len(response.Records))
	for _, record := range response.Records {
		infos = append(infos, citadel.RecordInfo{
			Location: fromLocationDTO(record.Location),
			Hint:     hintFromBytes(record.Hint),
		})
	}
	return infos, nil
}

// Execute runs a procedure in the remote vault. Only derived outputs come
// back; key material stays on the remote side.
func (v *RemoteVault) Execute(ctx context.Context, procedure citadel.Procedure) (citadel.ProcedureOutput, error) {
	dto, err := toProcedureDTO(procedure)
	if err != nil {
		return citadel.ProcedureOutput{}, err
	}
	response, err := v.peer.invoke(ctx, Request{
		Kind:      KindProcedure,
		Path:      v.path,
		Vault:     v.name,
		Procedure: &dto,
	})
	if err != nil {
		return citadel.ProcedureOutput{}, err
	}
	if response.Output == nil {
		return citadel.ProcedureOutput{}, nil
	}
	return *response.Output, nil
}

// RemoteStore mirrors the citadel.Store surface against a store on a remote
// peer.
type RemoteStore struct {
	peer *RemotePeer
	path string
	name string
}

func (s *RemoteStore) Name() string { return s.name }

// Get reads an entry from the remote store.
func (s *RemoteStore) Get(ctx context.Context, loc citadel.Location) ([]byte, error) {
	response, err := s.peer.invoke(ctx, Request{
		Kind:     KindReadFromStore,
		Path:     s.path,
		Store:    s.name,
		Location: requestLocationDTO(loc),
	})
	if err != nil {
		return nil, err
	}
	return response.Record, nil
}

// Save writes an entry into the remote store.
func (s *RemoteStore) Save(ctx context.Context, loc citadel.Location, record []byte, lifetime time.Duration) error {
	_, err := s.peer.invoke(ctx, Request{
		Kind:     KindWriteToStore,
		Path:     s.path,
		Store:    s.name,
		Location: requestLocationDTO(loc),
		Record:   record,
		Lifetime: lifetime,
	})
	return err
}

// Remove deletes an entry from the remote store.
func (s *RemoteStore) Remove(ctx context.Context, loc citadel.Location) error {
	_, err := s.peer.invoke(ctx, Request{
		Kind:     KindDeleteFromStore,
		Path:     s.path,
		Store:    s.name,
		Location: requestLocationDTO(loc),
	})
	return err
}

func requestLocationDTO(loc citadel.Location) *locationDTO {
	dto := toLocationDTO(loc)
	return &dto
}
