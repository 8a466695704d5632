package navigation

import "testing"

type fakeGestures struct {
	swipes map[Direction]func()
	taps   []func()
}

func (f *fakeGestures) OnSwipe(d Direction, h func()) {
	if f.swipes == nil {
		f.swipes = make(map[Direction]func())
	}
	f.swipes[d] = h
}

func (f *fakeGestures) OnTap(h func()) { f.taps = append(f.taps, h) }

func TestSwipeBelowThresholdChangesNothing(t *testing.T) {
	s := NewStack(nil)
	s.Push(ScreenComments, nil)
	g := NewSwipeToPop(s, 100)
	g.Begin(0, 0)
	g.Move(60, 5)
	if g.Progress() != 0.6 {
		t.Fatalf("unexpected progress %v", g.Progress())
	}
	if g.End() {
		t.Fatalf("short swipe must not pop")
	}
	if s.Len() != 1 {
		t.Fatalf("stack changed on cancelled gesture")
	}
}

func TestSwipePastThresholdPops(t *testing.T) {
	s := NewStack(nil)
	s.Push(ScreenComments, nil)
	g := NewSwipeToPop(s, 100)
	g.Begin(0, 0)
	g.Move(140, 10)
	if !g.End() || s.Len() != 0 {
		t.Fatalf("expected pop, len=%d", s.Len())
	}
}

func TestVerticalSwipeCancels(t *testing.T) {
	s := NewStack(nil)
	s.Push(ScreenComments, nil)
	g := NewSwipeToPop(s, 100)
	g.Begin(0, 0)
	g.Move(30, 90)
	g.Move(150, 90)
	if g.End() || s.Len() != 1 {
		t.Fatalf("vertical gesture must not pop")
	}
}

func TestExplicitCancel(t *testing.T) {
	s := NewStack(nil)
	s.Push(ScreenComments, nil)
	g := NewSwipeToPop(s, 100)
	g.Begin(0, 0)
	g.Move(150, 0)
	g.Cancel()
	if g.End() || s.Len() != 1 {
		t.Fatalf("cancelled gesture must not pop")
	}
}

func TestBindBackSwipe(t *testing.T) {
	s := NewStack(nil)
	s.Push(ScreenProject, nil)
	svc := &fakeGestures{}
	BindBackSwipe(svc, s)
	svc.swipes[SwipeRight]()
	if s.Len() != 0 {
		t.Fatalf("expected right swipe to pop")
	}
	svc.swipes[SwipeRight]()
	if s.Len() != 0 {
		t.Fatalf("pop on empty should stay empty")
	}
}
