package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"devconnector-chat/internal/observability"
)

const hubShards = 32

// Hub is the in-process Registry. Users are spread over shards so that
// different users rarely share a lock.
type Hub struct {
	shards [hubShards]*hubShard
}

type hubShard struct {
	mu     sync.RWMutex
	groups map[string]map[string]Member
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	h := &Hub{}
	for i := range h.shards {
		h.shards[i] = &hubShard{groups: make(map[string]map[string]Member)}
	}
	return h
}

func (h *Hub) shard(userID string) *hubShard {
	f := fnv.New32a()
	_, _ = f.Write([]byte(userID))
	return h.shards[f.Sum32()%hubShards]
}

// Join registers member under userID.
func (h *Hub) Join(_ context.Context, userID string, member Member) error {
	s := h.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	group, ok := s.groups[userID]
	if !ok {
		group = make(map[string]Member)
		s.groups[userID] = group
	}
	group[member.ID()] = member
	return nil
}

// Leave removes member from userID's group. Leaving twice is harmless.
func (h *Hub) Leave(_ context.Context, userID string, member Member) error {
	h.remove(userID, member)
	return nil
}

func (h *Hub) remove(userID string, member Member) bool {
	s := h.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	group, ok := s.groups[userID]
	if !ok {
		return false
	}
	if current, ok := group[member.ID()]; !ok || current != member {
		return false
	}
	delete(group, member.ID())
	if len(group) == 0 {
		delete(s.groups, userID)
	}
	return true
}

// Publish encodes event once and delivers it to userID's group.
func (h *Hub) Publish(_ context.Context, userID string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	h.Deliver(userID, payload)
	return nil
}

// Deliver hands an encoded frame to every member of userID's group.
// Members that refuse the frame are evicted and closed.
func (h *Hub) Deliver(userID string, payload []byte) int {
	members := h.snapshot(userID)
	delivered := 0
	for _, member := range members {
		if member.Send(payload) {
			delivered++
			observability.IncFanout("delivered")
			continue
		}
		observability.IncFanout("dropped")
		slog.Warn("evicting unresponsive member", "user_id", userID, "conn_id", member.ID())
		if h.remove(userID, member) {
			member.Close("send queue full")
		}
	}
	return delivered
}

func (h *Hub) snapshot(userID string) []Member {
	s := h.shard(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	group := s.groups[userID]
	members := make([]Member, 0, len(group))
	for _, m := range group {
		members = append(members, m)
	}
	return members
}

// Size returns the number of members joined under userID.
func (h *Hub) Size(userID string) int {
	s := h.shard(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.groups[userID])
}

// HubStats summarises registry occupancy.
type HubStats struct {
	Groups  int `json:"groups"`
	Members int `json:"members"`
}

func (h *Hub) Stats() HubStats {
	var stats HubStats
	for _, s := range h.shards {
		s.mu.RLock()
		stats.Groups += len(s.groups)
		for _, group := range s.groups {
			stats.Members += len(group)
		}
		s.mu.RUnlock()
	}
	return stats
}
