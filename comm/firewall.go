package comm

import "sync"

// ruleSet holds the firewall decision state for one peer (or the default).
// A per-permission entry overrides the blanket rule; a nil blanket means no
// blanket rule exists at this level.
type ruleSet struct {
	blanket *bool
	perms   map[RequestPermission]bool
}

func (r *ruleSet) setBlanket(allow bool) {
	v := allow
	r.blanket = &v
}

func (r *ruleSet) setPerm(perm RequestPermission, allow bool) {
	if r.perms == nil {
		r.perms = make(map[RequestPermission]bool)
	}
	r.perms[perm] = allow
}

// Firewall decides whether a peer may invoke a permission. Decision
// precedence, most specific first:
//
//	peer permission rule → peer blanket rule → default permission rule →
//	default blanket rule → reject
type Firewall struct {
	mu    sync.RWMutex
	peers map[string]*ruleSet
	dflt  ruleSet
}

func NewFirewall() *Firewall {
	return &Firewall{peers: make(map[string]*ruleSet)}
}

func (f *Firewall) peerRules(peer string) *ruleSet {
	rules, ok := f.peers[peer]
	if !ok {
		rules = &ruleSet{}
		f.peers[peer] = rules
	}
	return rules
}

// AllowAll grants every permission to the listed peers. With setDefault,
// the grant applies to peers with no rules of their own instead.
func (f *Firewall) AllowAll(peers []string, setDefault bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if setDefault {
		f.dflt.setBlanket(true)
	}
	for _, peer := range peers {
		f.peerRules(peer).setBlanket(true)
	}
}

// RejectAll denies every permission to the listed peers, or by default.
func (f *Firewall) RejectAll(peers []string, setDefault bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if setDefault {
		f.dflt.setBlanket(false)
	}
	for _, peer := range peers {
		f.peerRules(peer).setBlanket(false)
	}
}

// Allow grants specific permissions to the listed peers, or by default.
// Existing rules for other permissions are untouched.
func (f *Firewall) Allow(peers []string, permissions []RequestPermission, setDefault bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, perm := range permissions {
		if setDefault {
			f.dflt.setPerm(perm, true)
		}
		for _, peer := range peers {
			f.peerRules(peer).setPerm(perm, true)
		}
	}
}

// Reject denies specific permissions to the listed peers, or by default.
func (f *Firewall) Reject(peers []string, permissions []RequestPermission, setDefault bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, perm := range permissions {
		if setDefault {
			f.dflt.setPerm(perm, false)
		}
		for _, peer := range peers {
			f.peerRules(peer).setPerm(perm, false)
		}
	}
}

// RemoveRules drops all peer-specific rules for the listed peers, reverting
// them to the default rule set.
func (f *Firewall) RemoveRules(peers []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, peer := range peers {
		delete(f.peers, peer)
	}
}

// Check reports whether peer may invoke perm.
func (f *Firewall) Check(peer string, perm RequestPermission) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if rules, ok := f.peers[peer]; ok {
		if allow, ok := rules.perms[perm]; ok {
			return allow
		}
		if rules.blanket != nil {
			return *rules.blanket
		}
	}
	if allow, ok := f.dflt.perms[perm]; ok {
		return allow
	}
	if f.dflt.blanket != nil {
		return *f.dflt.blanket
	}
	return false
}
