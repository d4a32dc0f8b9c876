package comm

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"southwinds.dev/citadel"
	"southwinds.dev/citadel/audit"
)

// DefaultTimeout bounds each remote invocation unless the node overrides it.
const DefaultTimeout = 10 * time.Second

// Engine is the engine surface the comm layer exposes remotely. It is
// satisfied by *citadel.Manager.
type Engine interface {
	ContainsVault(path, vault string) (bool, error)
	ContainsRecord(path, vault string, loc citadel.Location) (bool, error)
	SaveRecord(path, vault string, loc citadel.Location, record []byte, hint citadel.RecordHint) error
	RemoveRecord(path, vault string, loc citadel.Location, collect bool) error
	GarbageCollect(path, vault string) error
	ListRecords(path, vault string) ([]citadel.RecordInfo, error)
	CreateVault(path, vault string) error
	GetStoreRecord(path, store string, loc citadel.Location) ([]byte, error)
	SaveStoreRecord(path, store string, loc citadel.Location, record []byte, lifetime time.Duration) error
	RemoveStoreRecord(path, store string, loc citadel.Location) error
	Execute(path, vault string, procedure citadel.Procedure) (citadel.ProcedureOutput, error)
	Status(path string) citadel.Status
	Save(path string) error
	Lock(path string) error
}

// RelayDirection describes how a relay relationship is used.
type RelayDirection string

const (
	RelayDialing   RelayDirection = "dialing"
	RelayListening RelayDirection = "listening"
	RelayBoth      RelayDirection = "both"
)

// SwarmInfo reports a node's identity and bound addresses.
type SwarmInfo struct {
	PeerID             string   `json:"peer_id"`
	ListeningAddresses []string `json:"listening_addresses"`
}

// NodeConfig configures a listening node.
type NodeConfig struct {
	// Timeout bounds each outbound remote invocation. Zero selects
	// DefaultTimeout.
	Timeout time.Duration

	// Audit receives comm-layer events. Nil disables them.
	Audit audit.Logger
}

// Node binds an Engine to the network: it serves inbound peer requests
// through the firewall and tracks known peers and relays for outbound calls.
type Node struct {
	engine   Engine
	firewall *Firewall
	peerID   string
	timeout  time.Duration
	audit    audit.Logger

	mu         sync.RWMutex
	peers      map[string]*RemotePeer
	relays     map[string]RelayDirection
	listenAddr string

	server *http.Server
	group  *errgroup.Group
}

// NewNode creates a node for the given engine. The firewall starts with no
// rules, so every inbound request is rejected until rules are added.
func NewNode(engine Engine, config NodeConfig) *Node {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	auditLogger := config.Audit
	if auditLogger == nil {
		auditLogger = audit.NewNoOpLogger()
	}
	return &Node{
		engine:   engine,
		firewall: NewFirewall(),
		peerID:   uuid.New().String(),
		timeout:  timeout,
		audit:    auditLogger,
		peers:    make(map[string]*RemotePeer),
		relays:   make(map[string]RelayDirection),
	}
}

// Firewall returns the node's firewall for rule management.
func (n *Node) Firewall() *Firewall { return n.firewall }

// PeerID returns this node's stable identity.
func (n *Node) PeerID() string { return n.peerID }

// StartListening binds the node to addr and serves inbound requests until
// Stop. An empty addr binds an ephemeral port on the loopback interface.
// The bound address is returned in /ip4/<host>/tcp/<port> form.
func (n *Node) StartListening(addr string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.server != nil {
		return "", fmt.Errorf("node is already listening on %s", n.listenAddr)
	}

	if addr == "" {
		addr = "/ip4/127.0.0.1/tcp/0"
	}
	host, port, err := splitMultiaddr(addr)
	if err != nil {
		return "", err
	}

	listener, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return "", fmt.Errorf("%w: failed to bind %s: %v", citadel.ErrIO, addr, err)
	}

	tcpAddr := listener.Addr().(*net.TCPAddr)
	n.listenAddr = fmt.Sprintf("/ip4/%s/tcp/%d", tcpAddr.IP.String(), tcpAddr.Port)

	n.server = &http.Server{
		Handler:           n.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := n.server

	n.group = &errgroup.Group{}
	n.group.Go(func() error {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	_ = n.audit.Log("swarm_listen", true, map[string]interface{}{"address": n.listenAddr})
	return n.listenAddr, nil
}

// Stop shuts the listener down, draining in-flight requests until ctx
// expires.
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	server := n.server
	group := n.group
	n.server = nil
	n.group = nil
	n.listenAddr = ""
	n.mu.Unlock()

	if server == nil {
		return nil
	}
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down listener: %w", err)
	}
	if group != nil {
		return group.Wait()
	}
	return nil
}

// SwarmInfo reports the node identity and its bound addresses.
func (n *Node) SwarmInfo() SwarmInfo {
	n.mu.RLock()
	defer n.mu.RUnlock()

	info := SwarmInfo{PeerID: n.peerID}
	if n.listenAddr != "" {
		info.ListeningAddresses = []string{n.listenAddr}
	}
	return info
}

// AddPeer registers a remote peer under its ID and address and returns a
// handle for invoking it.
func (n *Node) AddPeer(peerID, addr string) (*RemotePeer, error) {
	host, port, err := splitMultiaddr(addr)
	if err != nil {
		return nil, err
	}

	peer := &RemotePeer{
		id:      peerID,
		selfID:  n.peerID,
		baseURL: fmt.Sprintf("http://%s/v1/invoke", net.JoinHostPort(host, strconv.Itoa(port))),
		client:  &http.Client{},
		timeout: n.timeout,
	}

	n.mu.Lock()
	n.peers[peerID] = peer
	n.mu.Unlock()

	_ = n.audit.Log("swarm_add_peer", true, map[string]interface{}{"peer_id": peerID, "address": addr})
	return peer, nil
}

// Peer returns the registered handle for peerID.
func (n *Node) Peer(peerID string) (*RemotePeer, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	peer, ok := n.peers[peerID]
	return peer, ok
}

// RemovePeer drops a registered peer and its firewall rules.
func (n *Node) RemovePeer(peerID string) {
	n.mu.Lock()
	delete(n.peers, peerID)
	delete(n.relays, peerID)
	n.mu.Unlock()
	n.firewall.RemoveRules([]string{peerID})
}

// ChangeRelayDirection sets how the relay relationship with peerID is used.
// The peer must already be registered.
func (n *Node) ChangeRelayDirection(peerID string, direction RelayDirection) error {
	switch direction {
	case RelayDialing, RelayListening, RelayBoth:
	default:
		return fmt.Errorf("unknown relay direction %q", direction)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.peers[peerID]; !ok {
		return fmt.Errorf("peer %q is not registered", peerID)
	}
	n.relays[peerID] = direction
	return nil
}

// RemoveRelay drops the relay relationship with peerID, keeping the peer
// itself registered.
func (n *Node) RemoveRelay(peerID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.relays[peerID]; !ok {
		return fmt.Errorf("no relay relationship with peer %q", peerID)
	}
	delete(n.relays, peerID)
	return nil
}

// RelayDirectionFor reports the relay relationship with peerID, if any.
func (n *Node) RelayDirectionFor(peerID string) (RelayDirection, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	direction, ok := n.relays[peerID]
	return direction, ok
}

// splitMultiaddr parses a /ip4/<host>/tcp/<port> address string.
func splitMultiaddr(addr string) (string, int, error) {
	parts := strings.Split(strings.TrimPrefix(addr, "/"), "/")
	if len(parts) != 4 || parts[0] != "ip4" || parts[2] != "tcp" {
		return "", 0, fmt.Errorf("invalid address %q, want /ip4/<host>/tcp/<port>", addr)
	}
	port, err := strconv.Atoi(parts[3])
	if err != nil || port < 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port in address %q", addr)
	}
	return parts[1], port, nil
}
