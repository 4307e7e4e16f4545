package dispatcher

import "sync/atomic"

// pageBudget caps the number of fetches; a non-positive limit is unlimited.
type pageBudget struct {
	limit int64
	used  atomic.Int64
}

func (b *pageBudget) Take() bool {
	if b.limit <= 0 {
		return true
	}
	return b.used.Add(1) <= b.limit
}
