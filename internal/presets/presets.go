package presets

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AngelCh415/deepdive/internal/drilldown"
	"github.com/AngelCh415/deepdive/internal/filter"
	"github.com/AngelCh415/deepdive/internal/models"
	"github.com/AngelCh415/deepdive/internal/perspective"
)

var ErrNotFound = errors.New("preset not found")

var (
	validate   = validator.New()
	presetName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
)

func init() {
	_ = validate.RegisterValidation("presetname", func(fl validator.FieldLevel) bool {
		return presetName.MatchString(fl.Field().String())
	})
}

// Preset is a saved analysis: a starting perspective plus the filters to
// apply there.
type Preset struct {
	Name        string         `json:"name" validate:"required,max=64,presetname"`
	Perspective perspective.ID `json:"perspective" validate:"required"`
	Selection   filter.Scope   `json:"selection,omitempty"`
	Where       *filter.Node   `json:"where,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type Store struct {
	reg *perspective.Registry
	now func() time.Time

	mu    sync.RWMutex
	items map[string]Preset
}

func NewStore(reg *perspective.Registry) *Store {
	return &Store{reg: reg, now: time.Now, items: make(map[string]Preset)}
}

// Put validates p and stores it, replacing any preset with the same name.
func (s *Store) Put(p Preset) (Preset, error) {
	if err := validate.Struct(p); err != nil {
		return Preset{}, models.Invariant("invalid preset: %v", err)
	}
	if _, err := s.reg.Get(p.Perspective); err != nil {
		return Preset{}, err
	}
	for _, k := range p.Selection.Keys() {
		if _, ok := s.reg.ByGroupingKey(k); !ok {
			return Preset{}, models.Invariant("unknown grouping key %q in preset selection", k)
		}
	}
	known := map[string]bool{}
	for _, c := range s.reg.Columns() {
		known[c] = true
	}
	for _, f := range p.Where.Fields() {
		if !known[f] {
			return Preset{}, models.Invariant("unknown filter field %q in preset", f)
		}
	}
	p.Selection = p.Selection.Canonical()
	p.UpdatedAt = s.now().UTC()

	s.mu.Lock()
	s.items[p.Name] = p
	s.mu.Unlock()
	return p, nil
}

func (s *Store) Get(name string) (Preset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.items[name]
	if !ok {
		return Preset{}, ErrNotFound
	}
	return p, nil
}

// List returns every preset ordered by name.
func (s *Store) List() []Preset {
	s.mu.RLock()
	out := make([]Preset, 0, len(s.items))
	for _, p := range s.items {
		out = append(out, p)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[name]; !ok {
		return ErrNotFound
	}
	delete(s.items, name)
	return nil
}

// Apply loads the named preset into a session as a single filter change.
func (s *Store) Apply(ctx context.Context, name string, ctl *drilldown.Controller) (drilldown.View, error) {
	p, err := s.Get(name)
	if err != nil {
		return drilldown.View{}, err
	}
	return ctl.Load(ctx, p.Perspective, p.Selection, p.Where)
}
