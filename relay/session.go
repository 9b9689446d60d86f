package relay

import (
	"sort"
	"sync"
	"time"
)

// ChatSession is a registered client connection for one chat.
type ChatSession struct {
	ChatID       string
	AppID        string
	Transport    Transport
	ConnectedAt  time.Time
	LastActivity time.Time
}

// SessionStatus is a point-in-time view of a chat.
type SessionStatus struct {
	Active       bool      `json:"active"`
	LastActivity time.Time `json:"lastActivity"`
	Processing   bool      `json:"processing"`
}

// SessionRegistry owns the chat → session and chat → in-flight request
// maps. Every mutation for a chat happens under one lock.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*ChatSession
	inflight map[string]*CancellableRequest
	now      func() time.Time
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*ChatSession),
		inflight: make(map[string]*CancellableRequest),
		now:      time.Now,
	}
}

// Register binds t to chatID and returns the transport it replaced, if any.
// The previous transport is not closed.
func (r *SessionRegistry) Register(chatID, appID string, t Transport) Transport {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var prev Transport
	if s, ok := r.sessions[chatID]; ok {
		prev = s.Transport
	}
	r.sessions[chatID] = &ChatSession{
		ChatID:       chatID,
		AppID:        appID,
		Transport:    t,
		ConnectedAt:  now,
		LastActivity: now,
	}
	return prev
}

// Transport returns the transport registered for chatID.
func (r *SessionRegistry) Transport(chatID string) (Transport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[chatID]
	if !ok {
		return nil, false
	}
	return s.Transport, true
}

// Session returns a copy of the session for chatID.
func (r *SessionRegistry) Session(chatID string) (ChatSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[chatID]
	if !ok {
		return ChatSession{}, false
	}
	return *s, true
}

// Touch records activity on chatID.
func (r *SessionRegistry) Touch(chatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[chatID]; ok {
		s.LastActivity = r.now()
	}
}

// Unregister removes the session for chatID if t is still its transport,
// together with the in-flight request. A nil t matches any transport.
func (r *SessionRegistry) Unregister(chatID string, t Transport) (*ChatSession, *CancellableRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[chatID]
	if !ok || (t != nil && s.Transport != t) {
		return nil, nil, false
	}
	delete(r.sessions, chatID)
	req := r.inflight[chatID]
	delete(r.inflight, chatID)
	return s, req, true
}

// Take removes both the session and the in-flight request for chatID.
// Either result may be nil.
func (r *SessionRegistry) Take(chatID string) (*ChatSession, *CancellableRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[chatID]
	req := r.inflight[chatID]
	delete(r.sessions, chatID)
	delete(r.inflight, chatID)
	return s, req
}

// BeginRequest makes req the in-flight request for chatID and returns the
// request it replaced. The caller cancels the previous request.
func (r *SessionRegistry) BeginRequest(chatID string, req *CancellableRequest) *CancellableRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.begin(chatID, req)
}

// BeginTurn is BeginRequest for streamed turns: it fails when no session
// is registered for chatID, so a turn cannot outlive a concurrent stop.
func (r *SessionRegistry) BeginTurn(chatID string, req *CancellableRequest) (*CancellableRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[chatID]; !ok {
		return nil, false
	}
	return r.begin(chatID, req), true
}

func (r *SessionRegistry) begin(chatID string, req *CancellableRequest) *CancellableRequest {
	prev := r.inflight[chatID]
	r.inflight[chatID] = req
	if s, ok := r.sessions[chatID]; ok {
		s.LastActivity = r.now()
	}
	return prev
}

// EndRequest clears the in-flight slot if req still owns it.
func (r *SessionRegistry) EndRequest(chatID string, req *CancellableRequest) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inflight[chatID] != req {
		return false
	}
	delete(r.inflight, chatID)
	return true
}

// InFlight returns the in-flight request for chatID.
func (r *SessionRegistry) InFlight(chatID string) (*CancellableRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.inflight[chatID]
	return req, ok
}

// Status reports whether chatID has a transport and an in-flight request.
func (r *SessionRegistry) Status(chatID string) SessionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var st SessionStatus
	if s, ok := r.sessions[chatID]; ok {
		st.Active = true
		st.LastActivity = s.LastActivity
	}
	_, st.Processing = r.inflight[chatID]
	return st
}

// RemoveIdle removes sessions inactive since before cutoff that have no
// in-flight request, and returns them sorted by chat ID.
func (r *SessionRegistry) RemoveIdle(cutoff time.Time) []*ChatSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []*ChatSession
	for id, s := range r.sessions {
		if _, busy := r.inflight[id]; busy {
			continue
		}
		if s.LastActivity.Before(cutoff) {
			delete(r.sessions, id)
			removed = append(removed, s)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].ChatID < removed[j].ChatID })
	return removed
}

// TakeAll empties the registry and returns everything it held.
func (r *SessionRegistry) TakeAll() ([]*ChatSession, []*CancellableRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessions := make([]*ChatSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	reqs := make([]*CancellableRequest, 0, len(r.inflight))
	for _, req := range r.inflight {
		reqs = append(reqs, req)
	}
	r.sessions = make(map[string]*ChatSession)
	r.inflight = make(map[string]*CancellableRequest)
	return sessions, reqs
}

// Len returns the number of registered sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// InFlightCount returns the number of in-flight requests.
func (r *SessionRegistry) InFlightCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}
