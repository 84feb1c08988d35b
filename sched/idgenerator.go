package sched

import (
	"strconv"
	"sync/atomic"
)

// An idGenerator assigns sequential IDs to tasks. IDs are unique within one
// loop and ordered by creation.
type idGenerator struct {
	nextID uint64
}

func (g *idGenerator) Generate() string {
	idNumber := atomic.AddUint64(&g.nextID, 1)
	return strconv.FormatUint(idNumber, 10)
}
