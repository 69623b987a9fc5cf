package application

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
)

// StatusObserver receives connectivity transitions.
type StatusObserver func(connected bool)

// StatusNotifier fans connectivity transitions out to observers. Delivery is
// synchronous on the publishing goroutine; late subscribers only see future
// transitions.
type StatusNotifier struct {
	mu        sync.RWMutex
	nextID    int
	observers map[int]StatusObserver
	order     []int

	log zerolog.Logger
}

func NewStatusNotifier(log zerolog.Logger) *StatusNotifier {
	return &StatusNotifier{observers: make(map[int]StatusObserver), log: log}
}

// Subscribe registers an observer and returns a function removing it.
func (n *StatusNotifier) Subscribe(observer StatusObserver) (unsubscribe func()) {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.observers[id] = observer
	n.order = append(n.order, id)
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.observers, id)
			for i, v := range n.order {
				if v == id {
					n.order = append(n.order[:i], n.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (n *StatusNotifier) Publish(connected bool) {
	n.mu.RLock()
	observers := make([]StatusObserver, 0, len(n.order))
	for _, id := range n.order {
		observers = append(observers, n.observers[id])
	}
	n.mu.RUnlock()

	for _, observer := range observers {
		var pc panics.Catcher
		pc.Try(func() { observer(connected) })
		if r := pc.Recovered(); r != nil {
			n.log.Error().Interface("panic", r.Value).Bool("connected", connected).Msg("status observer panicked")
		}
	}
}
