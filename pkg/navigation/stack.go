// Package navigation keeps the explicit screen stack that replaces URL
// routing in the field client.
package navigation

import "sync"

// Screen names used by the field client.
const (
	ScreenComments      = "comments"
	ScreenProjectUsers  = "projectUsers"
	ScreenProject       = "project"
	ScreenAnnouncement  = "announcement"
	ScreenNotifications = "notifications"
	ScreenProgress      = "progress"
)

// Frame is one pushed screen and the data it was opened with.
type Frame struct {
	Screen string
	Data   any
}

// DefaultConflicts lists, per screen, the frames removed when it is pushed.
func DefaultConflicts() map[string][]string {
	return map[string][]string{
		ScreenComments: {ScreenProjectUsers},
	}
}

// Stack is safe for concurrent use. An empty stack is the tab root.
type Stack struct {
	mu        sync.RWMutex
	frames    []Frame
	conflicts map[string]map[string]bool
}

// NewStack builds a stack with the given conflict rules. Rules apply in one
// direction only: pushing the key screen clears the listed screens.
func NewStack(conflicts map[string][]string) *Stack {
	s := &Stack{conflicts: make(map[string]map[string]bool, len(conflicts))}
	for screen, clears := range conflicts {
		set := make(map[string]bool, len(clears))
		for _, c := range clears {
			set[c] = true
		}
		s.conflicts[screen] = set
	}
	return s
}

// Push removes frames that conflict with screen, then appends it.
func (s *Stack) Push(screen string, data any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if clears := s.conflicts[screen]; len(clears) > 0 {
		kept := s.frames[:0]
		for _, f := range s.frames {
			if !clears[f.Screen] {
				kept = append(kept, f)
			}
		}
		clear(s.frames[len(kept):])
		s.frames = kept
	}
	s.frames = append(s.frames, Frame{Screen: screen, Data: data})
}

// Pop removes the top frame. It reports false on an empty stack.
func (s *Stack) Pop() (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return Frame{}, false
	}
	last := s.frames[len(s.frames)-1]
	s.frames[len(s.frames)-1] = Frame{}
	s.frames = s.frames[:len(s.frames)-1]
	return last, true
}

func (s *Stack) Current() (Frame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.frames) == 0 {
		return Frame{}, false
	}
	return s.frames[len(s.frames)-1], true
}

func (s *Stack) IsOpen(screen string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.frames {
		if f.Screen == screen {
			return true
		}
	}
	return false
}

func (s *Stack) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.frames)
}

// Frames returns a copy, bottom first.
func (s *Stack) Frames() []Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Frame(nil), s.frames...)
}

// Reset returns to the tab root.
func (s *Stack) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.frames)
	s.frames = s.frames[:0]
}
