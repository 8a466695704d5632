package navigation

import (
	"math"
	"sync"
)

type Direction string

const (
	SwipeLeft  Direction = "left"
	SwipeRight Direction = "right"
	SwipeUp    Direction = "up"
	SwipeDown  Direction = "down"
)

// GestureService is the input boundary. Toolkits translate their raw touch
// events into these callbacks.
type GestureService interface {
	OnSwipe(direction Direction, handler func())
	OnTap(handler func())
}

// DefaultSwipeThreshold is the horizontal travel, in points, needed to pop.
const DefaultSwipeThreshold = 80.0

// SwipeToPop tracks one edge-swipe gesture and pops the stack only when the
// gesture ends past the threshold.
type SwipeToPop struct {
	stack     *Stack
	threshold float64

	mu       sync.Mutex
	active   bool
	startX   float64
	startY   float64
	distance float64
}

func NewSwipeToPop(stack *Stack, threshold float64) *SwipeToPop {
	if threshold <= 0 {
		threshold = DefaultSwipeThreshold
	}
	return &SwipeToPop{stack: stack, threshold: threshold}
}

// Begin starts tracking. Gestures on an empty stack are ignored.
func (g *SwipeToPop) Begin(x, y float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stack.Len() == 0 {
		g.active = false
		return
	}
	g.active = true
	g.startX, g.startY = x, y
	g.distance = 0
}

// Move updates the rightward travel; vertical-dominant motion cancels.
func (g *SwipeToPop) Move(x, y float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.active {
		return
	}
	dx, dy := x-g.startX, y-g.startY
	if math.Abs(dy) > math.Abs(dx) && math.Abs(dy) > g.threshold/2 {
		g.active = false
		g.distance = 0
		return
	}
	g.distance = math.Max(dx, 0)
}

// Progress is the fraction of the threshold covered, for drawing.
func (g *SwipeToPop) Progress() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.active {
		return 0
	}
	return math.Min(g.distance/g.threshold, 1)
}

// End finishes the gesture and reports whether it popped a frame.
func (g *SwipeToPop) End() bool {
	g.mu.Lock()
	active, distance := g.active, g.distance
	g.active = false
	g.distance = 0
	g.mu.Unlock()
	if !active || distance < g.threshold {
		return false
	}
	_, popped := g.stack.Pop()
	return popped
}

// Cancel abandons the gesture without touching the stack.
func (g *SwipeToPop) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = false
	g.distance = 0
}

// BindBackSwipe pops the stack on a completed right swipe reported by the
// gesture service.
func BindBackSwipe(svc GestureService, stack *Stack) {
	svc.OnSwipe(SwipeRight, func() { stack.Pop() })
}
