package concept

// Iterator is a pull-based answer stream. Next returns false once the stream
// is exhausted or failed; Err reports the failure.
type Iterator interface {
	Next() (Substitution, bool)
	Err() error
}

// SliceIterator iterates over a fixed slice of answers.
type SliceIterator struct {
	answers []Substitution
	pos     int
}

// NewSliceIterator wraps answers in an Iterator.
func NewSliceIterator(answers []Substitution) *SliceIterator {
	return &SliceIterator{answers: answers}
}

// Next implements Iterator.
func (it *SliceIterator) Next() (Substitution, bool) {
	if it.pos >= len(it.answers) {
		return Empty, false
	}
	s := it.answers[it.pos]
	it.pos++
	return s, true
}

// Err implements Iterator.
func (it *SliceIterator) Err() error { return nil }

// errIterator yields nothing and reports err.
type errIterator struct{ err error }

func (it errIterator) Next() (Substitution, bool) { return Empty, false }
func (it errIterator) Err() error                 { return it.err }

// ErrorIterator returns an iterator that fails immediately with err.
func ErrorIterator(err error) Iterator { return errIterator{err: err} }

// Collect drains it into a slice.
func Collect(it Iterator) ([]Substitution, error) {
	var out []Substitution
	for {
		s, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, s)
	}
	return out, it.Err()
}
