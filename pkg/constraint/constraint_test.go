package constraint

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/spikeflow/spikeflow/pkg/spike"
)

// fakeActivation treats one second as one tick.
type fakeActivation struct {
	id        string
	resources []string
}

func (f *fakeActivation) ID() string { return f.id }
func (f *fakeActivation) Specificity() float64 { return 1 }
func (f *fakeActivation) Resources() []string { return f.resources }
func (f *fakeActivation) Dereference(*spike.Spike, bool, bool) {}
func (f *fakeActivation) Pressure(*spike.Spike) {}
func (f *fakeActivation) SecsToTicks(seconds float64) int64 { return int64(math.Ceil(seconds)) }

func newFake(id string) *fakeActivation {
	return &fakeActivation{id: id, resources: []string{"state:" + id}}
}

func shape(c Constraint) [][]string {
	var out [][]string
	for _, conj := range Normalize(c).Conjunctions() {
		var names []string
		for _, s := range conj.Signals() {
			names = append(names, s.Name())
		}
		out = append(out, names)
	}
	return out
}

func TestAnd(t *testing.T) {
	tests := []struct {
		name  string
		terms []Constraint
		want  [][]string
	}{
		{
			name:  "signal and signal",
			terms: []Constraint{S("a"), S("b")},
			want:  [][]string{{"a", "b"}},
		},
		{
			name:  "signal and conjunct",
			terms: []Constraint{S("c"), MustAnd(S("a"), S("b"))},
			want:  [][]string{{"a", "b", "c"}},
		},
		{
			name:  "conjunct and conjunct",
			terms: []Constraint{MustAnd(S("a"), S("b")), MustAnd(S("c"), S("d"))},
			want:  [][]string{{"a", "b", "c", "d"}},
		},
		{
			name:  "signal and disjunct distributes",
			terms: []Constraint{S("c"), Or(S("a"), S("b"))},
			want:  [][]string{{"a", "c"}, {"b", "c"}},
		},
		{
			name:  "conjunct and disjunct distributes",
			terms: []Constraint{Or(S("a"), S("b")), MustAnd(S("c"), S("d"))},
			want:  [][]string{{"a", "c", "d"}, {"b", "c", "d"}},
		},
		{
			name:  "duplicate names collapse",
			terms: []Constraint{S("a"), S("a"), S("b")},
			want:  [][]string{{"a", "b"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := And(tt.terms...)
			if err != nil {
				t.Fatalf("And() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, shape(got)); diff != "" {
				t.Errorf("And() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAnd_DisjunctWithDisjunct(t *testing.T) {
	_, err := And(Or(S("a"), S("b")), Or(S("c"), S("d")))
	if err == nil {
		t.Fatal("expected composition error")
	}
	if !errors.Is(err, ErrInvalidComposition) {
		t.Errorf("expected ErrInvalidComposition, got %v", err)
	}
	var compErr *CompositionError
	if !errors.As(err, &compErr) {
		t.Fatalf("expected *CompositionError, got %T", err)
	}
}

func TestMustAnd_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	MustAnd(Or(S("a")), Or(S("b")))
}

func TestOr(t *testing.T) {
	got := Or(S("a"), MustAnd(S("b"), S("c")), Or(S("d"), S("a")))
	want := [][]string{{"a"}, {"b", "c"}, {"d"}}
	if diff := cmp.Diff(want, shape(got)); diff != "" {
		t.Errorf("Or() mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalFormIsOrderIndependent(t *testing.T) {
	left := Or(MustAnd(S("a"), S("b")), S("c"))
	right := Or(S("c"), MustAnd(S("b"), S("a")))

	if !Equal(left, right) {
		t.Errorf("expected %s and %s to be equal", left, right)
	}
	if diff := cmp.Diff(shape(left), shape(right)); diff != "" {
		t.Errorf("normal forms differ (-left +right):\n%s", diff)
	}
	if Equal(left, Or(S("a"), S("c"))) {
		t.Error("expected different constraints to differ")
	}
}

func TestSignal_MinAge(t *testing.T) {
	act := newFake("act")
	sig := S("a", WithMinAge(2))
	sp := spike.New("a", nil, nil)

	if !sig.Acquire(sp, act) {
		t.Fatal("expected acquire to succeed")
	}
	if sig.Evaluate() {
		t.Error("spike younger than min age must not satisfy")
	}
	sp.Tick()
	if sig.Evaluate() {
		t.Error("spike younger than min age must not satisfy")
	}
	sp.Tick()
	if !sig.Evaluate() {
		t.Error("expected satisfied once min age is reached")
	}
}

func TestSignal_AcquireRules(t *testing.T) {
	act := newFake("act")

	t.Run("name mismatch", func(t *testing.T) {
		if S("a").Acquire(spike.New("b", nil, nil), act) {
			t.Error("expected mismatch to fail")
		}
	})

	t.Run("too old", func(t *testing.T) {
		sp := spike.New("a", nil, nil)
		for range 3 {
			sp.Tick()
		}
		if S("a", WithMaxAge(2)).Acquire(sp, act) {
			t.Error("expected old spike to be refused")
		}
		if !S("a", Unbounded()).Acquire(sp, act) {
			t.Error("expected unbounded signal to accept old spike")
		}
	})

	t.Run("wiped", func(t *testing.T) {
		sp := spike.New("a", nil, nil)
		sp.Wipe(false)
		if S("a").Acquire(sp, act) {
			t.Error("expected wiped spike to be refused")
		}
	})

	t.Run("exclusive until dereferenced", func(t *testing.T) {
		sig := S("a")
		first := spike.New("a", nil, nil)
		second := spike.New("a", nil, nil)
		if !sig.Acquire(first, act) {
			t.Fatal("expected first acquire to succeed")
		}
		if sig.Acquire(second, act) {
			t.Error("bound signal must not acquire another spike")
		}
		if sig.Spike() != first {
			t.Error("binding changed")
		}
		got := sig.Dereference(first)
		if len(got) != 1 || got[0].Spike != first || got[0].Signal != sig {
			t.Fatalf("unexpected dereference result %v", got)
		}
		if !sig.Acquire(second, act) {
			t.Error("expected acquire after dereference to succeed")
		}
	})
}

func TestConjunct_AcquireAndEvaluate(t *testing.T) {
	act := newFake("act")
	c := MustAnd(S("a"), S("b"))

	if !c.Acquire(spike.New("a", nil, nil), act) {
		t.Fatal("expected a to bind")
	}
	if c.Evaluate() {
		t.Error("half bound conjunction must not be satisfied")
	}
	if c.Acquire(spike.New("x", nil, nil), act) {
		t.Error("unrelated spike must not bind")
	}
	if !c.Acquire(spike.New("b", nil, nil), act) {
		t.Fatal("expected b to bind")
	}
	if !c.Evaluate() {
		t.Error("expected conjunction satisfied")
	}
	if n := len(c.Dereference(nil)); n != 2 {
		t.Errorf("expected 2 bindings dropped, got %d", n)
	}
	if c.Evaluate() {
		t.Error("expected unsatisfied after dereference")
	}
}

func TestDisjunct_Satisfied(t *testing.T) {
	act := newFake("act")
	d := Or(MustAnd(S("a"), S("b")), S("c"))

	d.Acquire(spike.New("a", nil, nil), act)
	if _, ok := d.Satisfied(); ok {
		t.Fatal("expected no satisfied conjunction")
	}
	d.Acquire(spike.New("c", nil, nil), act)
	conj, ok := d.Satisfied()
	if !ok {
		t.Fatal("expected a satisfied conjunction")
	}
	if conj.Key() != "c" {
		t.Errorf("expected conjunction c, got %s", conj.Key())
	}
}

func TestUpdate_ExpiresOldSpikes(t *testing.T) {
	act := newFake("act")
	c := MustAnd(S("a", WithMaxAge(2)), S("b"))
	sp := spike.New("a", nil, nil)
	c.Acquire(sp, act)

	for range 2 {
		sp.Tick()
		if lost := c.Update(act); len(lost) != 0 {
			t.Fatalf("unexpected expiry at age %d", sp.Age())
		}
	}

	sp.Tick()
	lost := c.Update(act)
	if len(lost) != 1 || lost[0].Name() != "a" {
		t.Fatalf("expected a to expire, got %v", lost)
	}
	if !sp.CausalGroup().IsRejected(sp, act) {
		t.Error("expected the causal group to record the rejection")
	}
	if !sp.CausalGroup().Stale(sp) {
		t.Error("expected the spike to be stale after rejection")
	}
}

func TestClone_IsIndependent(t *testing.T) {
	act := newFake("act")
	orig := Or(MustAnd(S("a"), S("b")), S("c"))
	clone := orig.Clone()

	clone.Acquire(spike.New("c", nil, nil), act)
	if !clone.Evaluate() {
		t.Fatal("expected clone to be satisfied")
	}
	if orig.Evaluate() {
		t.Error("binding a clone must not affect the original")
	}
	for _, s := range orig.Signals() {
		if s.Spike() != nil {
			t.Errorf("original leaf %s is bound", s.Name())
		}
	}
	if !Equal(orig, clone) {
		t.Error("clone must keep the structure")
	}
}

func TestSignalsAreRestartable(t *testing.T) {
	d := Or(MustAnd(S("a"), S("b")), S("c"))
	first := d.Signals()
	second := d.Signals()
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("expected 3 leaves on each call, got %d and %d", len(first), len(second))
	}
}
