package stepseq

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type builtinKind int

const (
	notBuiltin builtinKind = iota
	builtinEnd
	builtinWait
	builtinExpectError
)

type stepDef[T any] struct {
	name    string
	params  int
	creates bool
	desc    string
	handler Handler[T]
	builtin builtinKind
}

// Registry maps step names to handlers. It becomes read-only once a
// sequencer is built on top of it.
type Registry[T any] struct {
	mu     sync.RWMutex
	steps  map[string]*stepDef[T]
	frozen bool
}

// NewRegistry creates a registry holding only the built-in steps.
func NewRegistry[T any]() *Registry[T] {
	r := &Registry[T]{steps: make(map[string]*stepDef[T])}
	r.steps[EndStep] = &stepDef[T]{name: EndStep, builtin: builtinEnd, desc: "terminate the run"}
	r.steps[WaitStep] = &stepDef[T]{name: WaitStep, params: 1, builtin: builtinWait, desc: "pause the chain for N milliseconds"}
	r.steps[ExpectErrorStep] = &stepDef[T]{name: ExpectErrorStep, builtin: builtinExpectError, desc: "expect the next step to fail"}
	return r
}

// StepOption customizes a registration.
type StepOption func(*stepOptions)

type stepOptions struct {
	params  int
	creates bool
	desc    string
}

// WithParams declares how many parameter tokens follow the step name.
func WithParams(n int) StepOption {
	return func(o *stepOptions) { o.params = n }
}

// Creates marks the step as the one producing the target.
func Creates() StepOption {
	return func(o *stepOptions) { o.creates = true }
}

// WithDescription attaches a human readable description used by catalogs.
func WithDescription(desc string) StepOption {
	return func(o *stepOptions) { o.desc = desc }
}

// Register stores a handler under name. Names are registered once.
func (r *Registry[T]) Register(name string, h Handler[T], opts ...StepOption) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("stepseq: empty step name")
	}
	if h == nil {
		return fmt.Errorf("stepseq: nil handler for step %q", name)
	}
	var o stepOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.params < 0 {
		return fmt.Errorf("stepseq: negative parameter count for step %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("%w: cannot register %q", ErrRegistryFrozen, name)
	}
	if def, ok := r.steps[name]; ok {
		if def.builtin != notBuiltin {
			return fmt.Errorf("%w: %q", ErrReservedStep, name)
		}
		return fmt.Errorf("%w: %q", ErrDuplicateStep, name)
	}
	r.steps[name] = &stepDef[T]{
		name:    name,
		params:  o.params,
		creates: o.creates,
		desc:    o.desc,
		handler: h,
	}
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry[T]) MustRegister(name string, h Handler[T], opts ...StepOption) {
	if err := r.Register(name, h, opts...); err != nil {
		panic(err)
	}
}

// Freeze makes the registry read-only.
func (r *Registry[T]) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether Freeze was called.
func (r *Registry[T]) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

func (r *Registry[T]) lookup(name string) (*stepDef[T], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.steps[name]
	return def, ok
}

// Has reports whether name is registered (built-ins included).
func (r *Registry[T]) Has(name string) bool {
	_, ok := r.lookup(name)
	return ok
}

// Names returns all registered names, sorted.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.steps))
	for name := range r.steps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CatalogEntry describes a registered step.
type CatalogEntry struct {
	Name        string
	Params      int
	Creates     bool
	Builtin     bool
	Description string
}

// Catalog lists every registered step sorted by name.
func (r *Registry[T]) Catalog() []CatalogEntry {
	names := r.Names()
	out := make([]CatalogEntry, 0, len(names))
	for _, name := range names {
		def, _ := r.lookup(name)
		out = append(out, CatalogEntry{
			Name:        def.name,
			Params:      def.params,
			Creates:     def.creates,
			Builtin:     def.builtin != notBuiltin,
			Description: def.desc,
		})
	}
	return out
}

// Tokens turns loosely typed values (as decoded from YAML or JSON) into a
// step list. Strings in name position are step names; the values after a
// step are taken as its parameters according to the declared count, so an
// enum parameter spelled as a string is never mistaken for a step.
func (r *Registry[T]) Tokens(raw ...any) ([]Token, error) {
	out := make([]Token, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		var name string
		switch v := raw[i].(type) {
		case Token:
			if !v.IsStep() {
				return nil, fmt.Errorf("%w: parameter %v at %d has no step", ErrMalformedSteps, v, i)
			}
			name = v.Name()
		case string:
			name = v
		default:
			return nil, fmt.Errorf("%w: parameter %v at %d has no step", ErrMalformedSteps, v, i)
		}
		def, ok := r.lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q at %d", ErrUnknownStep, name, i)
		}
		out = append(out, Step(name))
		for p := 0; p < def.params; p++ {
			i++
			if i >= len(raw) {
				return nil, fmt.Errorf("%w: step %q needs %d parameters", ErrMalformedSteps, name, def.params)
			}
			if tok, ok := raw[i].(Token); ok {
				if tok.IsStep() {
					return nil, fmt.Errorf("%w: step %q at %d where a parameter of %q belongs", ErrMalformedSteps, tok.Name(), i, name)
				}
				out = append(out, tok)
				continue
			}
			out = append(out, Param(raw[i]))
		}
	}
	return out, nil
}

// ParseScript parses a whitespace separated script such as
// "create setSurface prepare seek 5000 release end".
func (r *Registry[T]) ParseScript(script string) ([]Token, error) {
	words := strings.Fields(script)
	raw := make([]any, 0, len(words))
	i := 0
	for i < len(words) {
		name := words[i]
		raw = append(raw, name)
		i++
		def, ok := r.lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownStep, name)
		}
		for p := 0; p < def.params && i < len(words); p++ {
			raw = append(raw, parseScalar(words[i]))
			i++
		}
	}
	return r.Tokens(raw...)
}

// stepBuilder is used for fluent step configuration.
type stepBuilder[T any] struct {
	parent *Registry[T]
	name   string
	opts   []StepOption
}

// Step begins a fluent registration: reg.Step("seek").Params(1).Handle(fn).
func (r *Registry[T]) Step(name string) *stepBuilder[T] {
	return &stepBuilder[T]{parent: r, name: name}
}

// Params declares the parameter count.
func (b *stepBuilder[T]) Params(n int) *stepBuilder[T] {
	b.opts = append(b.opts, WithParams(n))
	return b
}

// Creates marks the step as the target creator.
func (b *stepBuilder[T]) Creates() *stepBuilder[T] {
	b.opts = append(b.opts, Creates())
	return b
}

// Describe sets the catalog description.
func (b *stepBuilder[T]) Describe(desc string) *stepBuilder[T] {
	b.opts = append(b.opts, WithDescription(desc))
	return b
}

// Handle registers the handler; it panics on duplicates like MustRegister.
func (b *stepBuilder[T]) Handle(h Handler[T]) *Registry[T] {
	b.parent.MustRegister(b.name, h, b.opts...)
	return b.parent
}
