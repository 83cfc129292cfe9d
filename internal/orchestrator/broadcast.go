package orchestrator

import (
	"sync"

	"github.com/google/uuid"

	"github.com/vmforge/engine/internal/models"
)

// Subscriber receives live log lines for one deployment. Delivery is
// synchronous and best-effort; persistence of the same line happens
// independently.
type Subscriber func(models.DeploymentLog)

// TapFunc observes every published line regardless of deployment. Taps feed
// cross-process relays; per-viewer delivery uses Subscriber.
type TapFunc func(uuid.UUID, models.DeploymentLog)

type subscription struct {
	token uint64
	fn    Subscriber
}

// BroadcastRegistry maps deployment ids to live log subscribers. It is
// owned by the orchestrator instance and does no I/O of its own. Subscriber
// lists are never pruned implicitly; callers unregister when a viewer
// disconnects.
type BroadcastRegistry struct {
	mu   sync.RWMutex
	next uint64
	subs map[uuid.UUID][]subscription
	taps []TapFunc
}

func NewBroadcastRegistry() *BroadcastRegistry {
	return &BroadcastRegistry{subs: make(map[uuid.UUID][]subscription)}
}

// Register appends a subscriber for the deployment and returns a token for
// Unregister.
func (r *BroadcastRegistry) Register(deploymentID uuid.UUID, fn Subscriber) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.subs[deploymentID] = append(r.subs[deploymentID], subscription{token: r.next, fn: fn})
	return r.next
}

// Unregister removes the subscriber identified by token. Unregistering an
// already-removed or unknown token is a no-op.
func (r *BroadcastRegistry) Unregister(deploymentID uuid.UUID, token uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.subs[deploymentID]
	for i, s := range list {
		if s.token == token {
			r.subs[deploymentID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(r.subs[deploymentID]) == 0 {
		delete(r.subs, deploymentID)
	}
}

// AddTap registers an observer for every published line. Taps cannot be
// removed; they live as long as the registry.
func (r *BroadcastRegistry) AddTap(fn TapFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.taps = append(r.taps, fn)
}

// Publish delivers line synchronously to every subscriber currently
// registered for the deployment, and to all taps.
func (r *BroadcastRegistry) Publish(deploymentID uuid.UUID, line models.DeploymentLog) {
	r.mu.RLock()
	list := make([]subscription, len(r.subs[deploymentID]))
	copy(list, r.subs[deploymentID])
	taps := make([]TapFunc, len(r.taps))
	copy(taps, r.taps)
	r.mu.RUnlock()

	for _, s := range list {
		s.fn(line)
	}
	for _, t := range taps {
		t(deploymentID, line)
	}
}

// SubscriberCount reports how many subscribers a deployment currently has.
func (r *BroadcastRegistry) SubscriberCount(deploymentID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[deploymentID])
}
