package blade

import (
	"strconv"
	"sync"

	"github.com/google/uuid"
	sf "github.com/tinode/snowflake"
)

// NodeId is an opaque non-empty string, globally unique within the fabric.
type NodeId string

// SessionId is an opaque non-empty string assigned by the session layer.
type SessionId string

// Realm is an opaque string naming an administrative scope.
type Realm string

// Protocol is a namespace grouping a set of methods and events.
type Protocol string

// identityState holds the process-wide identity: the local id is set
// once at startup and never changes; the master id is set from config on
// the Master, otherwise learned during upstream session establishment;
// realms is append-only while running.
type identityState struct {
	mu       sync.RWMutex
	localID  NodeId
	masterID NodeId
	isMaster bool
	realms   map[Realm]struct{}
}

func newIdentityState() *identityState {
	return &identityState{realms: make(map[Realm]struct{})}
}

// setLocal is called exactly once during Handle.Startup.
func (s *identityState) setLocal(local, master NodeId, isMaster bool, realms []Realm) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localID = local
	s.masterID = master
	s.isMaster = isMaster
	for _, r := range realms {
		s.realms[r] = struct{}{}
	}
}

func (s *identityState) LocalID() NodeId {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localID
}

// MasterID returns the current master id. Non-Master nodes learn this via
// upstream session establishment (out of scope here); setMasterID lets
// that collaborator update it.
func (s *identityState) MasterID() NodeId {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.masterID
}

func (s *identityState) setMasterID(id NodeId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.masterID = id
}

// IsMaster reports whether this node is the fabric's Master.
func (s *identityState) IsMaster() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isMaster
}

// AddRealm appends a realm to the accepted set. Only the Master asserts
// realms originally; other nodes learn accepted realms out of band.
func (s *identityState) AddRealm(r Realm) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.realms[r] = struct{}{}
}

func (s *identityState) HasRealm(r Realm) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.realms[r]
	return ok
}

// idGenerator produces process-unique, time-ordered ids for request
// correlation.
type idGenerator struct {
	seq *sf.SnowFlake
}

func newIDGenerator(workerID uint32) (*idGenerator, error) {
	seq, err := sf.NewSnowFlake(workerID)
	if err != nil {
		return nil, WrapError(CodeInternal, err, "initialize snowflake generator")
	}
	return &idGenerator{seq: seq}, nil
}

// NextRequestID returns a new id suitable for a JSON-RPC request id. The
// snowflake sequence can refuse an id when the clock steps backwards; a
// random id keeps request correlation working through that window.
func (g *idGenerator) NextRequestID() string {
	id, err := g.seq.Next()
	if err != nil {
		return uuid.NewString()
	}
	return strconv.FormatUint(id, 10)
}
