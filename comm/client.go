package comm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"southwinds.dev/citadel"
)

// RemotePeer invokes engine operations on one registered peer. Every call
// is bounded by the node's timeout; a deadline overrun surfaces as
// ErrTimeout. Failures carry the same sentinel the remote engine produced,
// reconstructed from the wire kind.
type RemotePeer struct {
	id      string
	selfID  string
	baseURL string
	client  *http.Client
	timeout time.Duration
}

// ID returns the remote peer's identity.
func (p *RemotePeer) ID() string { return p.id }

func (p *RemotePeer) invoke(ctx context.Context, req Request) (Response, error) {
	req.ID = uuid.New().String()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(peerHeader, p.selfID)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return Response{}, fmt.Errorf("%w: peer %s", citadel.ErrTimeout, p.id)
		case errors.Is(err, context.Canceled):
			// Caller-canceled, not a deadline overrun
			return Response{}, fmt.Errorf("request to peer %s canceled: %w", p.id, context.Canceled)
		}
		return Response{}, fmt.Errorf("%w: peer %s unreachable: %v", citadel.ErrIO, p.id, err)
	}
	defer httpResp.Body.Close()

	var response Response
	if err = json.NewDecoder(httpResp.Body).Decode(&response); err != nil {
		return Response{}, fmt.Errorf("%w: malformed response from peer %s: %v", citadel.ErrIO, p.id, err)
	}

	if !response.OK {
		if sentinel := citadel.ErrorForKind(response.ErrorKind); sentinel != nil {
			return response, fmt.Errorf("%w: %s", sentinel, response.Error)
		}
		return response, fmt.Errorf("remote error: %s", response.Error)
	}
	return response, nil
}

// Status reads the lock state of a snapshot path on the remote peer.
func (p *RemotePeer) Status(ctx context.Context, path string) (citadel.Status, error) {
	response, err := p.invoke(ctx, Request{Kind: KindReadSnapshot, Path: path})
	if err != nil {
		return citadel.Status{}, err
	}
	if response.Status == nil {
		return citadel.Status{}, fmt.Errorf("%w: peer %s returned no status", citadel.ErrIO, p.id)
	}
	return *response.Status, nil
}

// Save asks the remote peer to persist the snapshot at path.
func (p *RemotePeer) Save(ctx context.Context, path string) error {
	_, err := p.invoke(ctx, Request{Kind: KindWriteSnapshot, Path: path})
	return err
}

// ClearCache asks the remote peer to relock the snapshot at path.
func (p *RemotePeer) ClearCache(ctx context.Context, path string) error {
	_, err := p.invoke(ctx, Request{Kind: KindClearCache, Path: path})
	return err
}

// CreateVault ensures the named vault exists on the remote peer.
func (p *RemotePeer) CreateVault(ctx context.Context, path, vault string) error {
	_, err := p.invoke(ctx, Request{Kind: KindCreateNewVault, Path: path, Vault: vault})
	return err
}

// ContainsVault checks whether the named vault exists on the remote peer.
func (p *RemotePeer) ContainsVault(ctx context.Context, path, vault string) (bool, error) {
	response, err := p.invoke(ctx, Request{Kind: KindCheckVault, Path: path, Vault: vault})
	if err != nil {
		return false, err
	}
	return response.Exists, nil
}

// GarbageCollect reclaims expired state at path on the remote peer.
func (p *RemotePeer) GarbageCollect(ctx context.Context, path, vault string) error {
	_, err := p.invoke(ctx, Request{Kind: KindGarbageCollect, Path: path, Vault: vault})
	return err
}

// Vault returns a remote vault handle on this peer.
func (p *RemotePeer) Vault(path, name string) *RemoteVault {
	return &RemoteVault{peer: p, path: path, name: name}
}

// Store returns a remote store handle on this peer.
func (p *RemotePeer) Store(path, name string) *RemoteStore {
	return &RemoteStore{peer: p, path: path, name: name}
}
