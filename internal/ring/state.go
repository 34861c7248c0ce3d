// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package ring

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// FileTag identifies one pushed file globally: the port holding part index
// 0, the total byte size, and the ring size at push time. Tags are never
// mutated, only replaced wholesale by a re-push or a FILE TAGS-SET.
type FileTag struct {
	Start string
	Size  uint64
	Parts uint32
}

// State is the per-peer in-memory node state: successor slot, netmap,
// topology map, file-tag index, and the walk rendezvous table. Every
// mutable field is protected by a single RWMutex held only across the
// in-memory read/write itself, never across socket I/O — callers that need
// both must snapshot under lock, release, then do I/O.
type State struct {
	ownPort string

	mu         sync.RWMutex
	successor  string // "" means none
	netmap     map[string]bool
	topology   map[string]string // from -> to
	fileTags   map[string]FileTag
	walkCounter int64
	pending    map[string]chan string // walk token -> result-delivery channel
}

// NewState creates node state for ownPort, with the peer's own entry
// present and Alive, as required by the netmap invariant.
func NewState(ownPort string) *State {
	return &State{
		ownPort:  ownPort,
		netmap:   map[string]bool{ownPort: true},
		topology: make(map[string]string),
		fileTags: make(map[string]FileTag),
		pending:  make(map[string]chan string),
	}
}

// OwnPort returns this peer's own port.
func (s *State) OwnPort() string {
	return s.ownPort
}

// Successor returns the current successor address and whether one is set.
func (s *State) Successor() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.successor, s.successor != ""
}

// SetSuccessor replaces the successor slot.
func (s *State) SetSuccessor(addr string) {
	s.mu.Lock()
	s.successor = addr
	s.mu.Unlock()
}

// NetmapSnapshot returns a copy of the netmap safe to read without holding
// the lock.
func (s *State) NetmapSnapshot() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.netmap))
	for k, v := range s.netmap {
		out[k] = v
	}
	return out
}

// SetNetmap overwrites the netmap unconditionally (last-write-wins), except
// that this peer's own entry is always forced Alive.
func (s *State) SetNetmap(m map[string]bool) {
	s.mu.Lock()
	s.netmap = make(map[string]bool, len(m)+1)
	for k, v := range m {
		s.netmap[k] = v
	}
	s.netmap[s.ownPort] = true
	s.mu.Unlock()
}

// SetPeerAlive mutates a single netmap entry in place.
func (s *State) SetPeerAlive(port string, alive bool) {
	s.mu.Lock()
	if s.netmap == nil {
		s.netmap = make(map[string]bool)
	}
	s.netmap[port] = alive
	s.mu.Unlock()
}

// TopologySnapshot returns a copy of the topology edge set.
func (s *State) TopologySnapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.topology))
	for k, v := range s.topology {
		out[k] = v
	}
	return out
}

// SetTopology overwrites the topology map unconditionally.
func (s *State) SetTopology(edges map[string]string) {
	s.mu.Lock()
	s.topology = make(map[string]string, len(edges))
	for k, v := range edges {
		s.topology[k] = v
	}
	s.mu.Unlock()
}

// Predecessor derives the unique port whose outbound edge points to
// ownPort, per the topology map. Unknown (ok=false) if the topology map is
// empty or no edge names ownPort as the destination.
func (s *State) Predecessor() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for from, to := range s.topology {
		if to == s.ownPort {
			return from, true
		}
	}
	return "", false
}

// FileTagsSnapshot returns a copy of the file-tag index.
func (s *State) FileTagsSnapshot() map[string]FileTag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]FileTag, len(s.fileTags))
	for k, v := range s.fileTags {
		out[k] = v
	}
	return out
}

// SetFileTag inserts or overwrites a single tag (the push path).
func (s *State) SetFileTag(name string, tag FileTag) {
	s.mu.Lock()
	s.fileTags[name] = tag
	s.mu.Unlock()
}

// GetFileTag looks up a tag by file name.
func (s *State) GetFileTag(name string) (FileTag, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tag, ok := s.fileTags[name]
	return tag, ok
}

// SetFileTags overwrites the whole index (FILE TAGS-SET).
func (s *State) SetFileTags(tags map[string]FileTag) {
	s.mu.Lock()
	s.fileTags = make(map[string]FileTag, len(tags))
	for k, v := range tags {
		s.fileTags[k] = v
	}
	s.mu.Unlock()
}

// NewWalkToken mints a unique walk rendezvous token of the form
// "<own-port>-<monotonic-counter>".
func (s *State) NewWalkToken() string {
	n := atomic.AddInt64(&s.walkCounter, 1)
	return fmt.Sprintf("%s-%d", s.ownPort, n)
}

// RegisterWalk creates a pending rendezvous entry for token and returns the
// channel its DONE handler will deliver the result on. Registration fails
// (ok=false) if the token is already in use (protocol's "conflict" kind).
func (s *State) RegisterWalk(token string) (ch chan string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pending[token]; exists {
		return nil, false
	}
	ch = make(chan string, 1)
	s.pending[token] = ch
	return ch, true
}

// CompleteWalk delivers result to the channel registered for token, if any,
// and removes the pending entry. Duplicate DONE messages for an
// already-completed or unknown token are ignored, per spec.
func (s *State) CompleteWalk(token, result string) {
	s.mu.Lock()
	ch, ok := s.pending[token]
	if ok {
		delete(s.pending, token)
	}
	s.mu.Unlock()
	if ok {
		ch <- result
	}
}

// AbandonWalk removes a pending rendezvous entry without delivering a
// result, used when a wait times out so a late DONE doesn't block forever
// trying to send on a channel nobody reads anymore.
func (s *State) AbandonWalk(token string) {
	s.mu.Lock()
	delete(s.pending, token)
	s.mu.Unlock()
}

// EncodeNetmap renders a netmap as the fixed wire form: comma-separated
// "port=Alive"/"port=Dead" pairs with no spaces, canonically ascending by
// port.
func EncodeNetmap(m map[string]bool) string {
	ports := make([]string, 0, len(m))
	for p := range m {
		ports = append(ports, p)
	}
	sort.Strings(ports)
	parts := make([]string, 0, len(ports))
	for _, p := range ports {
		state := "Dead"
		if m[p] {
			state = "Alive"
		}
		parts = append(parts, p+"="+state)
	}
	return strings.Join(parts, ",")
}

// ParseNetmap parses the wire form produced by EncodeNetmap. An empty
// string decodes to an empty, non-nil map.
func ParseNetmap(csv string) (map[string]bool, error) {
	out := make(map[string]bool)
	csv = strings.TrimSpace(csv)
	if csv == "" {
		return out, nil
	}
	for _, pair := range strings.Split(csv, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			return nil, fmt.Errorf("malformed netmap entry %q", pair)
		}
		switch kv[1] {
		case "Alive":
			out[kv[0]] = true
		case "Dead":
			out[kv[0]] = false
		default:
			return nil, fmt.Errorf("malformed netmap liveness %q", kv[1])
		}
	}
	return out, nil
}

// EncodeTopology renders the topology edge set as "from->to;from->to;...".
// order is the order edges are joined; callers that built the map during a
// walk should pass the original insertion order, otherwise any order (e.g.
// from TopologySnapshot) is acceptable since order is irrelevant at rest.
func EncodeTopology(edges map[string]string, order []string) string {
	if order == nil {
		order = make([]string, 0, len(edges))
		for from := range edges {
			order = append(order, from)
		}
		sort.Strings(order)
	}
	parts := make([]string, 0, len(order))
	for _, from := range order {
		parts = append(parts, from+"->"+edges[from])
	}
	return strings.Join(parts, ";")
}

// ParseTopology parses "from->to;from->to;..." into an edge map, also
// returning the edges in the order they appeared on the wire (the order a
// walk accumulated them in).
func ParseTopology(history string) (map[string]string, []string, error) {
	edges := make(map[string]string)
	var order []string
	history = strings.TrimSpace(history)
	if history == "" {
		return edges, order, nil
	}
	for _, edge := range strings.Split(history, ";") {
		parts := strings.SplitN(edge, "->", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, nil, fmt.Errorf("malformed topology edge %q", edge)
		}
		edges[parts[0]] = parts[1]
		order = append(order, parts[0])
	}
	return edges, order, nil
}

// EncodeFileTags renders the tag index as semicolon-joined
// "name,start,size,parts" records for use as the single-line <csv> argument
// of FILE TAGS-SET, sorted ascending by name. FILE LIST's own response
// writes one real newline-terminated line per tag instead; this is the
// compact single-argument form broadcasts and resync carry.
func EncodeFileTags(tags map[string]FileTag) string {
	names := make([]string, 0, len(tags))
	for n := range tags {
		names = append(names, n)
	}
	sort.Strings(names)
	lines := make([]string, 0, len(names))
	for _, n := range names {
		t := tags[n]
		lines = append(lines, fmt.Sprintf("%s,%s,%d,%d", n, t.Start, t.Size, t.Parts))
	}
	return strings.Join(lines, ";")
}

// ParseFileTags parses the semicolon-joined CSV form produced by
// EncodeFileTags back into a tag index.
func ParseFileTags(csv string) (map[string]FileTag, error) {
	out := make(map[string]FileTag)
	csv = strings.TrimSpace(csv)
	if csv == "" {
		return out, nil
	}
	for _, line := range strings.Split(csv, ";") {
		fields := strings.Split(line, ",")
		if len(fields) != 4 {
			return nil, fmt.Errorf("malformed file tag line %q", line)
		}
		size, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed file tag size in %q: %w", line, err)
		}
		parts, err := strconv.ParseUint(fields[3], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("malformed file tag parts in %q: %w", line, err)
		}
		out[fields[0]] = FileTag{Start: fields[1], Size: size, Parts: uint32(parts)}
	}
	return out, nil
}
