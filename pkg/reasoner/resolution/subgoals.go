package resolution

import (
	"github.com/cognicore/graphreason/pkg/reasoner/query"
	"github.com/cognicore/graphreason/pkg/reasoner/unifier"
)

// subgoals is the chain of atomic queries being resolved with rules on the
// path from the root to a state. It is persistent: push shares the tail, so
// siblings never see each other's subgoals.
type subgoals struct {
	q    *query.AtomicQuery
	sig  string
	next *subgoals
}

func (s *subgoals) push(q *query.AtomicQuery) *subgoals {
	return &subgoals{q: q, sig: q.Pattern().Signature(false), next: s}
}

// contains reports whether a query alpha-equivalent to q is on the path.
func (s *subgoals) contains(q *query.AtomicQuery, cmp unifier.Comparison) bool {
	sig := q.Pattern().Signature(false)
	for cur := s; cur != nil; cur = cur.next {
		if cur.sig != sig {
			continue
		}
		if !unifier.Unify(cur.q, q, cmp).IsEmpty() {
			return true
		}
	}
	return false
}

func (s *subgoals) depth() int {
	n := 0
	for cur := s; cur != nil; cur = cur.next {
		n++
	}
	return n
}
