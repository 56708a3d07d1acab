package inventory

import (
	"sync"

	"trade_go/internal/domain"
)

// Owner prefixes for reservations. OwnerCrafting is held by the external
// crafting job, which reserves through the same set.
const (
	OwnerAutokeys = "autokeys"
	OwnerCrafting = "crafting"
)

// OfferOwner is the reservation owner for an in-flight offer.
func OfferOwner(offerID string) string {
	return "offer:" + offerID
}

// Reservations is the process-wide set of instances currently in use.
// Every instance has at most one owner.
type Reservations struct {
	mu      sync.Mutex
	holders map[string]string   // instance -> owner
	owned   map[string][]string // owner -> instances
}

func NewReservations() *Reservations {
	return &Reservations{
		holders: make(map[string]string),
		owned:   make(map[string][]string),
	}
}

// Reserve takes every id for owner or none of them. An id held by another
// owner yields a *domain.ConcurrencyError. Ids already held by owner are kept.
func (r *Reservations) Reserve(owner string, ids ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range ids {
		if holder, ok := r.holders[id]; ok && holder != owner {
			return &domain.ConcurrencyError{InstanceID: id, Holder: holder}
		}
	}
	for _, id := range ids {
		r.takeLocked(owner, id)
	}
	return nil
}

// Acquire takes the ids that are free and returns them. Ids held by other
// owners are skipped.
func (r *Reservations) Acquire(owner string, ids ...string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	taken := make([]string, 0, len(ids))
	for _, id := range ids {
		if holder, ok := r.holders[id]; ok && holder != owner {
			continue
		}
		r.takeLocked(owner, id)
		taken = append(taken, id)
	}
	return taken
}

func (r *Reservations) takeLocked(owner, id string) {
	if _, ok := r.holders[id]; ok {
		return
	}
	r.holders[id] = owner
	r.owned[owner] = append(r.owned[owner], id)
}

// Release frees everything held by owner.
func (r *Reservations) Release(owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.owned[owner] {
		if r.holders[id] == owner {
			delete(r.holders, id)
		}
	}
	delete(r.owned, owner)
}

// Holder returns the owner of id, if any.
func (r *Reservations) Holder(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.holders[id]
	return owner, ok
}

func (r *Reservations) InUse(id string) bool {
	_, ok := r.Holder(id)
	return ok
}

// Len returns the number of reserved instances.
func (r *Reservations) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.holders)
}
