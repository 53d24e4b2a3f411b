package blade

import "sync"

// eventKey identifies one (protocol, realm, event) subscription point.
type eventKey struct {
	protocol Protocol
	realm    Realm
	event    string
}

// subscriptionRecord is the per-key bookkeeping: the set of
// subscriber node ids plus an optional local callback. Existence of the
// record implies subscribers is non-empty; the last removal deletes it.
type subscriptionRecord struct {
	subscribers map[NodeId]struct{}
	localCB     EventCallback
}

// subscriptionManager is the Subscription Tree, maintained at every node.
// It tracks, per (protocol, realm, event), which downstream sessions
// (recorded under their session ids) or the local node itself currently
// want delivery, and reports refcount
// transitions so the owning dispatcher knows when to propagate a
// blade.subscribe upstream: exactly once per empty->non-empty and
// non-empty->empty transition, never on intermediate changes. The effect
// is a refcount at the branch edge: at most one upstream subscribe per
// key per downstream branch, independent of how many leaves below
// subscribed.
type subscriptionManager struct {
	mu      sync.RWMutex
	records map[eventKey]*subscriptionRecord
}

func newSubscriptionManager() *subscriptionManager {
	return &subscriptionManager{records: make(map[eventKey]*subscriptionRecord)}
}

// AddSubscriber records subscriber's interest in (protocol, realm, event).
// It reports propagate=true the first time any subscriber appears for
// this key (the 0->1 transition), false otherwise (including when
// subscriber was already present).
func (s *subscriptionManager) AddSubscriber(protocol Protocol, realm Realm, event string, subscriber NodeId) (propagate bool) {
	key := eventKey{protocol, realm, event}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		rec = &subscriptionRecord{subscribers: make(map[NodeId]struct{})}
		s.records[key] = rec
	}
	wasEmpty := len(rec.subscribers) == 0
	rec.subscribers[subscriber] = struct{}{}
	return wasEmpty
}

// RemoveSubscriber withdraws subscriber's interest. It reports
// propagate=true when this removal empties the subscriber set (the
// ≥1->0 transition), deleting the record in that case.
func (s *subscriptionManager) RemoveSubscriber(protocol Protocol, realm Realm, event string, subscriber NodeId) (propagate bool) {
	key := eventKey{protocol, realm, event}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return false
	}
	delete(rec.subscribers, subscriber)
	if len(rec.subscribers) == 0 {
		delete(s.records, key)
		return true
	}
	return false
}

// SetLocalCallback installs or clears the local callback for
// (protocol, realm, event), used by the local subscribe generator.
// Installing a callback does not by itself add
// local_id to subscribers; callers must also call AddSubscriber(localID).
func (s *subscriptionManager) SetLocalCallback(protocol Protocol, realm Realm, event string, cb EventCallback) {
	key := eventKey{protocol, realm, event}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[key]; ok {
		rec.localCB = cb
	}
}

// Subscribers returns the current subscriber set of (protocol, realm,
// event) and the installed local callback, if any. Iteration order of the
// returned slice is unspecified.
func (s *subscriptionManager) Subscribers(protocol Protocol, realm Realm, event string) (subscribers []NodeId, localCB EventCallback) {
	key := eventKey{protocol, realm, event}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	out := make([]NodeId, 0, len(rec.subscribers))
	for n := range rec.subscribers {
		out = append(out, n)
	}
	return out, rec.localCB
}

func (s *subscriptionManager) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[eventKey]*subscriptionRecord)
}

// RemoveAllForSubscriber withdraws subscriber from every key it
// participates in, used when a downstream session tears down and its
// session id must be purged from every subscription it held. It returns the
// keys that transitioned to empty, so the caller can propagate one
// blade.subscribe{remove:true} upstream per key.
func (s *subscriptionManager) RemoveAllForSubscriber(subscriber NodeId) []eventKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	var emptied []eventKey
	for key, rec := range s.records {
		if _, ok := rec.subscribers[subscriber]; !ok {
			continue
		}
		delete(rec.subscribers, subscriber)
		if len(rec.subscribers) == 0 {
			delete(s.records, key)
			emptied = append(emptied, key)
		}
	}
	return emptied
}
