package dcb

import (
	"testing"

	"pgregory.net/rapid"
)

// TestTransitionTableRapid fuzzes sequences of transition attempts and
// asserts the invariant behind Testable Property 1 holds after every step:
// state only ever changes via a table-legal transition (idempotent no-ops
// included), and an illegal attempt never mutates state. Modeled on
// samoyed's Test_bitStuff rapid.Check/Draw shape.
func TestTransitionTableRapid(t *testing.T) {
	legal := legalSet()

	rapid.Check(t, func(t *rapid.T) {
		d := &DCB{state: StateAlloc}

		steps := rapid.SliceOfN(
			rapid.IntRange(0, len(allStates)-1), 0, 50,
		).Draw(t, "steps")

		for _, idx := range steps {
			to := allStates[idx]
			before := d.State()

			ok, prev := d.Transition(to)
			if prev != before {
				t.Fatalf("Transition reported prev=%s but state was %s", prev, before)
			}

			after := d.State()

			switch {
			case idempotentNoOps[before][to]:
				if !ok {
					t.Fatalf("idempotent no-op %s->%s reported failure", before, to)
				}
				if after != before {
					t.Fatalf("idempotent no-op %s->%s changed state to %s", before, to, after)
				}
			case legal[before][to]:
				if !ok {
					t.Fatalf("legal transition %s->%s reported failure", before, to)
				}
				if after != to {
					t.Fatalf("legal transition %s->%s left state at %s", before, to, after)
				}
			default:
				if ok {
					t.Fatalf("illegal transition %s->%s reported success", before, to)
				}
				if after != before {
					t.Fatalf("illegal transition %s->%s changed state from %s to %s", before, to, before, after)
				}
			}
		}
	})
}
