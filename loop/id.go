package loop

import (
	"slices"
	"sync"
)

// handlerIDs generates the ids of frame handlers. Released ids are reused
// lowest first, so ids stay small and the handler map stays dense.
type handlerIDs struct {
	mutex    sync.Mutex
	current  uint32
	released []uint32
}

func (g *handlerIDs) New() uint32 {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if len(g.released) != 0 {
		id := g.released[0]
		g.released = g.released[1:]
		return id
	}

	g.current++
	return g.current
}

// Reuse marks the id as reusable. Unknown and already released ids are
// ignored.
func (g *handlerIDs) Reuse(id uint32) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if id == 0 || id > g.current {
		return
	}

	i, found := slices.BinarySearch(g.released, id)
	if found {
		return
	}
	g.released = slices.Insert(g.released, i, id)
}
