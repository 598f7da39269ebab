package executors

import (
	"sort"
	"sync"
)

// Object is a node in the demo scene.
type Object struct {
	Name       string                    `json:"name"`
	Active     bool                      `json:"active"`
	Position   [3]float64                `json:"position"`
	Components map[string]map[string]any `json:"components,omitempty"`
}

// Scene is a small in-memory object graph standing in for the host's real
// scene. It is safe for concurrent use.
type Scene struct {
	Name string

	mu      sync.RWMutex
	objects map[string]*Object
}

// NewScene creates a scene with the given objects.
func NewScene(name string, objects ...Object) *Scene {
	s := &Scene{Name: name, objects: make(map[string]*Object)}
	for _, o := range objects {
		s.Add(o)
	}
	return s
}

// DemoScene returns the scene the host binary starts with.
func DemoScene() *Scene {
	return NewScene("SampleScene",
		Object{Name: "Main Camera", Active: true, Position: [3]float64{0, 1, -10},
			Components: map[string]map[string]any{"Camera": {"fieldOfView": 60.0}}},
		Object{Name: "Directional Light", Active: true, Position: [3]float64{0, 3, 0},
			Components: map[string]map[string]any{"Light": {"intensity": 1.0, "color": "#FFF4D6"}}},
		Object{Name: "Player", Active: true,
			Components: map[string]map[string]any{"Rigidbody": {"mass": 1.0, "useGravity": true}}},
	)
}

// Add inserts or replaces o.
func (s *Scene) Add(o Object) {
	if o.Components == nil {
		o.Components = make(map[string]map[string]any)
	}
	s.mu.Lock()
	s.objects[o.Name] = &o
	s.mu.Unlock()
}

// Find returns a copy of the named object.
func (s *Scene) Find(name string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.objects[name]
	if !ok {
		return Object{}, false
	}
	return o.clone(), true
}

// Update applies fn to the named object under the scene lock.
func (s *Scene) Update(name string, fn func(*Object)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[name]
	if ok {
		fn(o)
	}
	return ok
}

// Names lists object names in sorted order.
func (s *Scene) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.objects))
	for name := range s.objects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (o *Object) clone() Object {
	c := *o
	c.Components = make(map[string]map[string]any, len(o.Components))
	for name, fields := range o.Components {
		copied := make(map[string]any, len(fields))
		for k, v := range fields {
			copied[k] = v
		}
		c.Components[name] = copied
	}
	return c
}
