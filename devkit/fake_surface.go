package devkit

import (
	"context"
	"fmt"
	"sync"

	"github.com/goliatone/go-paygrants/core"
)

// FakeSurface is an in-memory consent surface host. Tests drive user
// behavior through Navigate and UserClose, usually from OnOpen.
type FakeSurface struct {
	// OnOpen runs after a surface opens, outside the fake's lock.
	OnOpen func(id core.SurfaceID, url string)
	// OpenErr fails every OpenConsentSurface call when set.
	OpenErr error

	mu          sync.Mutex
	seq         int
	listenerSeq int
	active      core.SurfaceID
	open        map[core.SurfaceID]string
	opened      []string
	closed      []core.SurfaceID
	focused     []core.SurfaceID
	navigations map[core.SurfaceID][]string
	onNavigated map[int]func(core.SurfaceID, string)
	onClosed    map[int]func(core.SurfaceID)
}

func NewFakeSurface(active core.SurfaceID) *FakeSurface {
	return &FakeSurface{
		active:      active,
		open:        map[core.SurfaceID]string{},
		navigations: map[core.SurfaceID][]string{},
		onNavigated: map[int]func(core.SurfaceID, string){},
		onClosed:    map[int]func(core.SurfaceID){},
	}
}

func (s *FakeSurface) OpenConsentSurface(_ context.Context, url string) (core.SurfaceID, error) {
	s.mu.Lock()
	if s.OpenErr != nil {
		err := s.OpenErr
		s.mu.Unlock()
		return "", err
	}
	s.seq++
	id := core.SurfaceID(fmt.Sprintf("surface-%d", s.seq))
	s.open[id] = url
	s.opened = append(s.opened, url)
	s.active = id
	hook := s.OnOpen
	s.mu.Unlock()

	if hook != nil {
		hook(id, url)
	}
	return id, nil
}

func (s *FakeSurface) OnSurfaceNavigated(listener func(id core.SurfaceID, url string)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listenerSeq++
	key := s.listenerSeq
	s.onNavigated[key] = listener
	return func() {
		s.mu.Lock()
		delete(s.onNavigated, key)
		s.mu.Unlock()
	}
}

func (s *FakeSurface) OnSurfaceClosed(listener func(id core.SurfaceID)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listenerSeq++
	key := s.listenerSeq
	s.onClosed[key] = listener
	return func() {
		s.mu.Lock()
		delete(s.onClosed, key)
		s.mu.Unlock()
	}
}

func (s *FakeSurface) CloseSurface(_ context.Context, id core.SurfaceID) error {
	return s.close(id)
}

func (s *FakeSurface) FocusSurface(_ context.Context, id core.SurfaceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focused = append(s.focused, id)
	s.active = id
	return nil
}

func (s *FakeSurface) ActiveSurface(context.Context) (core.SurfaceID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, nil
}

func (s *FakeSurface) NavigateSurface(_ context.Context, id core.SurfaceID, url string) error {
	return s.Navigate(id, url)
}

// Navigate moves a surface to url and notifies navigation listeners.
func (s *FakeSurface) Navigate(id core.SurfaceID, url string) error {
	s.mu.Lock()
	if _, ok := s.open[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("devkit: surface %s is not open", id)
	}
	s.open[id] = url
	s.navigations[id] = append(s.navigations[id], url)
	listeners := make([]func(core.SurfaceID, string), 0, len(s.onNavigated))
	for _, listener := range s.onNavigated {
		listeners = append(listeners, listener)
	}
	s.mu.Unlock()

	for _, listener := range listeners {
		listener(id, url)
	}
	return nil
}

// UserClose simulates the user closing a surface.
func (s *FakeSurface) UserClose(id core.SurfaceID) error {
	return s.close(id)
}

func (s *FakeSurface) close(id core.SurfaceID) error {
	s.mu.Lock()
	if _, ok := s.open[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("devkit: surface %s is not open", id)
	}
	delete(s.open, id)
	s.closed = append(s.closed, id)
	listeners := make([]func(core.SurfaceID), 0, len(s.onClosed))
	for _, listener := range s.onClosed {
		listeners = append(listeners, listener)
	}
	s.mu.Unlock()

	for _, listener := range listeners {
		listener(id)
	}
	return nil
}

func (s *FakeSurface) IsOpen(id core.SurfaceID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.open[id]
	return ok
}

func (s *FakeSurface) Opened() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.opened...)
}

func (s *FakeSurface) Closed() []core.SurfaceID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.SurfaceID(nil), s.closed...)
}

func (s *FakeSurface) Focused() []core.SurfaceID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.SurfaceID(nil), s.focused...)
}

func (s *FakeSurface) Navigations(id core.SurfaceID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.navigations[id]...)
}

// ListenerCount reports registered listeners, to check for leaks.
func (s *FakeSurface) ListenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.onNavigated) + len(s.onClosed)
}

var _ core.ConsentSurface = (*FakeSurface)(nil)
