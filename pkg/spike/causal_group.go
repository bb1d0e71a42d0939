package spike

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Activation is the view a causal group has of an activation that holds one
// of its spikes. ID and Resources are called with the group lock held and
// must not block.
type Activation interface {
	ID() string
	// Specificity ranks competing activations; higher is more specific.
	Specificity() float64
	// Resources lists the write resources the activation consumes on firing.
	// The returned slice must not change over the activation's lifetime.
	Resources() []string
	// Dereference drops the activation's binding to sp (all bindings when sp
	// is nil). With reacquire the activation listens for the signal again;
	// with reject the spike is refused for good.
	Dereference(sp *Spike, reacquire, reject bool)
	// Pressure tells the activation that a less specific activation is ready
	// to consume sp.
	Pressure(sp *Spike)
}

// RejectReason explains why an activation refused a spike.
type RejectReason int

const (
	// RejectExpired means the spike outlived the signal's max age.
	RejectExpired RejectReason = iota + 1
	// RejectPressured means the activation gave the spike up under pressure.
	RejectPressured
	// RejectRemoved means the activation's state was removed.
	RejectRemoved
)

// String returns the string representation of the reason.
func (r RejectReason) String() string {
	switch r {
	case RejectExpired:
		return "expired"
	case RejectPressured:
		return "pressured"
	case RejectRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Claim pairs an activation with a spike it held.
type Claim struct {
	Activation Activation
	Spike      *Spike
}

var groupSeq atomic.Uint64

// CausalGroup tracks which activations acquired the spikes of one causal
// chain and which write resources that chain has already consumed. All
// bookkeeping happens under the group's own lock; activations are only
// called back after the lock is released.
type CausalGroup struct {
	id  string
	seq uint64

	mu         sync.Mutex
	merged     *CausalGroup
	spikes     map[*Spike]struct{}
	refs       map[*Spike]map[Activation]int
	rejections map[*Spike]map[Activation]RejectReason
	consumed   map[string]struct{}
	// spent holds resources used up on a single spike by detached bindings.
	spent map[*Spike]map[string]struct{}
}

// NewCausalGroup creates an empty causal group.
func NewCausalGroup() *CausalGroup {
	return &CausalGroup{
		id:         uuid.NewString(),
		seq:        groupSeq.Add(1),
		spikes:     make(map[*Spike]struct{}),
		refs:       make(map[*Spike]map[Activation]int),
		rejections: make(map[*Spike]map[Activation]RejectReason),
		consumed:   make(map[string]struct{}),
		spent:      make(map[*Spike]map[string]struct{}),
	}
}

// ID returns the identifier of the group this group was merged into, or its
// own identifier.
func (g *CausalGroup) ID() string {
	return g.root().id
}

func (g *CausalGroup) root() *CausalGroup {
	cur := g
	for {
		cur.mu.Lock()
		next := cur.merged
		cur.mu.Unlock()
		if next == nil {
			return cur
		}
		cur = next
	}
}

// lock returns the root group with its mutex held.
func (g *CausalGroup) lock() *CausalGroup {
	for {
		r := g.root()
		r.mu.Lock()
		if r.merged == nil {
			return r
		}
		r.mu.Unlock()
	}
}

// AddSpike registers sp as a member of the group.
func (g *CausalGroup) AddSpike(sp *Spike) {
	r := g.lock()
	defer r.mu.Unlock()
	r.spikes[sp] = struct{}{}
}

func (g *CausalGroup) remove(sp *Spike) {
	r := g.lock()
	defer r.mu.Unlock()
	delete(r.spikes, sp)
	delete(r.refs, sp)
	delete(r.rejections, sp)
	delete(r.spent, sp)
}

// Spikes returns the live spikes of the group.
func (g *CausalGroup) Spikes() []*Spike {
	r := g.lock()
	defer r.mu.Unlock()
	out := make([]*Spike, 0, len(r.spikes))
	for sp := range r.spikes {
		out = append(out, sp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Acquired records that act bound sp. It refuses when act rejected sp
// before, when one of act's resources was already spent on sp, or, for
// non-detached signals, when one of act's resources was already consumed in
// this group.
func (g *CausalGroup) Acquired(sp *Spike, act Activation, detached bool) bool {
	r := g.lock()
	defer r.mu.Unlock()

	if _, ok := r.rejections[sp][act]; ok {
		return false
	}
	if r.anySpent(sp, act.Resources()) {
		return false
	}
	if !detached && r.anyConsumed(act.Resources()) {
		return false
	}
	acts, ok := r.refs[sp]
	if !ok {
		acts = make(map[Activation]int)
		r.refs[sp] = acts
	}
	acts[act]++
	return true
}

// Rejected releases one of act's bindings to sp and records that act refuses
// sp for the given reason. The group will not let act acquire sp again.
func (g *CausalGroup) Rejected(sp *Spike, act Activation, reason RejectReason) {
	r := g.lock()
	defer r.mu.Unlock()

	r.release(sp, act)
	rej, ok := r.rejections[sp]
	if !ok {
		rej = make(map[Activation]RejectReason)
		r.rejections[sp] = rej
	}
	rej[act] = reason
}

// Released drops one of act's bindings to sp without refusing it.
func (g *CausalGroup) Released(sp *Spike, act Activation) {
	r := g.lock()
	defer r.mu.Unlock()
	r.release(sp, act)
}

func (g *CausalGroup) release(sp *Spike, act Activation) {
	acts, ok := g.refs[sp]
	if !ok {
		return
	}
	if acts[act] <= 1 {
		delete(acts, act)
	} else {
		acts[act]--
	}
	if len(acts) == 0 {
		delete(g.refs, sp)
	}
}

// Holders returns the activations currently holding sp.
func (g *CausalGroup) Holders(sp *Spike) []Activation {
	r := g.lock()
	defer r.mu.Unlock()
	return sortedActivations(r.refs[sp])
}

// IsRejected reports whether act refused sp.
func (g *CausalGroup) IsRejected(sp *Spike, act Activation) bool {
	r := g.lock()
	defer r.mu.Unlock()
	_, ok := r.rejections[sp][act]
	return ok
}

// Pressure asks every holder of sp that competes with ready for a write
// resource and ranks strictly more specific to give sp up. It returns true
// when no such holder is left afterwards.
func (g *CausalGroup) Pressure(ready Activation, sp *Spike) bool {
	contenders := g.contenders(ready, sp)
	if len(contenders) == 0 {
		return true
	}

	specificity := ready.Specificity()
	var higher []Activation
	for _, act := range contenders {
		if act.Specificity() > specificity {
			higher = append(higher, act)
		}
	}
	if len(higher) == 0 {
		return true
	}
	for _, act := range higher {
		act.Pressure(sp)
	}

	r := g.lock()
	defer r.mu.Unlock()
	for _, act := range higher {
		if r.refs[sp][act] > 0 {
			return false
		}
	}
	return true
}

func (g *CausalGroup) contenders(ready Activation, sp *Spike) []Activation {
	resources := ready.Resources()
	r := g.lock()
	defer r.mu.Unlock()

	var out []Activation
	for _, act := range sortedActivations(r.refs[sp]) {
		if act == ready {
			continue
		}
		if overlaps(act.Resources(), resources) {
			out = append(out, act)
		}
	}
	return out
}

// Consent is asked by an activation whose constraint is satisfied before it
// consumes the group. Consent is refused when one of ready's resources was
// already consumed, or when a more specific holder of any spike in the
// group still competes for those resources after being pressured.
func (g *CausalGroup) Consent(ready Activation) bool {
	r := g.lock()
	if r.anyConsumed(ready.Resources()) {
		r.mu.Unlock()
		return false
	}
	held := make([]*Spike, 0, len(r.refs))
	for sp, acts := range r.refs {
		if len(acts) > 0 {
			held = append(held, sp)
		}
	}
	r.mu.Unlock()

	sort.Slice(held, func(i, j int) bool { return held[i].id < held[j].id })
	granted := true
	for _, sp := range held {
		if !g.Pressure(ready, sp) {
			granted = false
		}
	}
	return granted
}

// Consumed marks resources as used up in this group. Every claim by an
// activation needing one of them, the consuming activation included, is
// dropped and returned so the caller can dereference those activations
// outside the lock.
func (g *CausalGroup) Consumed(resources []string) []Claim {
	if len(resources) == 0 {
		return nil
	}
	r := g.lock()
	defer r.mu.Unlock()

	for _, res := range resources {
		r.consumed[res] = struct{}{}
	}

	var claims []Claim
	for sp, acts := range r.refs {
		for _, act := range sortedActivations(acts) {
			if overlaps(act.Resources(), resources) {
				claims = append(claims, Claim{Activation: act, Spike: sp})
				delete(acts, act)
			}
		}
		if len(acts) == 0 {
			delete(r.refs, sp)
		}
	}
	sort.Slice(claims, func(i, j int) bool {
		if claims[i].Spike.id != claims[j].Spike.id {
			return claims[i].Spike.id < claims[j].Spike.id
		}
		return claims[i].Activation.ID() < claims[j].Activation.ID()
	})
	return claims
}

// Spent marks resources as used up on sp only. Detached bindings leave the
// rest of the group untouched, but a spike never feeds the same resource
// twice. Claims on sp by activations needing one of the resources are
// dropped and returned like in Consumed.
func (g *CausalGroup) Spent(sp *Spike, resources []string) []Claim {
	if len(resources) == 0 {
		return nil
	}
	r := g.lock()
	defer r.mu.Unlock()

	set, ok := r.spent[sp]
	if !ok {
		set = make(map[string]struct{})
		r.spent[sp] = set
	}
	for _, res := range resources {
		set[res] = struct{}{}
	}

	var claims []Claim
	acts := r.refs[sp]
	for _, act := range sortedActivations(acts) {
		if overlaps(act.Resources(), resources) {
			claims = append(claims, Claim{Activation: act, Spike: sp})
			delete(acts, act)
		}
	}
	if acts != nil && len(acts) == 0 {
		delete(r.refs, sp)
	}
	return claims
}

// IsConsumed reports whether resource was consumed in this group.
func (g *CausalGroup) IsConsumed(resource string) bool {
	r := g.lock()
	defer r.mu.Unlock()
	_, ok := r.consumed[resource]
	return ok
}

// Wiped drops every claim on sp and dereferences the holders, so no
// activation keeps a binding to a removed spike.
func (g *CausalGroup) Wiped(sp *Spike) {
	r := g.lock()
	holders := sortedActivations(r.refs[sp])
	delete(r.refs, sp)
	delete(r.rejections, sp)
	r.mu.Unlock()

	for _, act := range holders {
		act.Dereference(sp, true, false)
	}
}

// Stale reports whether sp can be reclaimed: nothing holds it and it has no
// live offspring.
func (g *CausalGroup) Stale(sp *Spike) bool {
	if sp.HasOffspring() {
		return false
	}
	r := g.lock()
	defer r.mu.Unlock()
	return len(r.refs[sp]) == 0
}

// Merge folds other into g so that both share one set of claims and consumed
// resources. It returns the surviving group.
func (g *CausalGroup) Merge(other *CausalGroup) *CausalGroup {
	if other == nil {
		return g.root()
	}
	for {
		a, b := g.root(), other.root()
		if a == b {
			return a
		}
		first, second := a, b
		if second.seq < first.seq {
			first, second = second, first
		}
		first.mu.Lock()
		second.mu.Lock()
		if a.merged != nil || b.merged != nil {
			second.mu.Unlock()
			first.mu.Unlock()
			continue
		}

		moved := make([]*Spike, 0, len(b.spikes))
		for sp := range b.spikes {
			a.spikes[sp] = struct{}{}
			moved = append(moved, sp)
		}
		for sp, acts := range b.refs {
			a.refs[sp] = acts
		}
		for sp, rej := range b.rejections {
			a.rejections[sp] = rej
		}
		for res := range b.consumed {
			a.consumed[res] = struct{}{}
		}
		for sp, set := range b.spent {
			a.spent[sp] = set
		}
		b.merged = a
		b.spikes, b.refs, b.rejections, b.consumed, b.spent = nil, nil, nil, nil, nil

		second.mu.Unlock()
		first.mu.Unlock()

		for _, sp := range moved {
			sp.setGroup(a)
		}
		return a
	}
}

func (g *CausalGroup) anyConsumed(resources []string) bool {
	for _, res := range resources {
		if _, ok := g.consumed[res]; ok {
			return true
		}
	}
	return false
}

func (g *CausalGroup) anySpent(sp *Spike, resources []string) bool {
	set := g.spent[sp]
	for _, res := range resources {
		if _, ok := set[res]; ok {
			return true
		}
	}
	return false
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func sortedActivations(set map[Activation]int) []Activation {
	out := make([]Activation, 0, len(set))
	for act := range set {
		out = append(out, act)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
