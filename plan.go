package stepseq

import (
	"fmt"
	"io"
	"strings"
)

// PlanSnapshot representa uma lista de passos já validada contra o registry.
type PlanSnapshot struct {
	Name  string
	Steps []PlannedStep
}

// PlannedStep descreve um passo e os parâmetros que ele consome.
type PlannedStep struct {
	Name    string
	Index   int
	Args    []Token
	Creates bool
	Builtin bool
}

// Label rende o passo como "seek(5000)".
func (p PlannedStep) Label() string {
	if len(p.Args) == 0 {
		return p.Name
	}
	return fmt.Sprintf("%s(%s)", p.Name, strings.Join(renderTokens(p.Args), ", "))
}

// Plan valida a lista e devolve o encadeamento de passos que será despachado.
// Nomes desconhecidos, parâmetros faltando ou sobrando e a ausência do token
// final são rejeitados antes de qualquer despacho. expectError precisa vir
// imediatamente antes de um passo com handler; wait e end não herdam a expectativa.
func (r *Registry[T]) Plan(name string, steps []Token) (PlanSnapshot, error) {
	snap := PlanSnapshot{Name: name}
	expecting := -1
	for i := 0; i < len(steps); i++ {
		tok := steps[i]
		if !tok.IsStep() {
			return snap, fmt.Errorf("%w: parameter %v at %d has no step", ErrMalformedSteps, tok, i)
		}
		def, ok := r.lookup(tok.Name())
		if !ok {
			return snap, fmt.Errorf("%w: %q at %d", ErrUnknownStep, tok.Name(), i)
		}
		if expecting >= 0 && def.builtin != notBuiltin {
			return snap, fmt.Errorf("%w: %q at %d must be followed by a step with a handler, got %q", ErrMalformedSteps, ExpectErrorStep, expecting, def.name)
		}
		expecting = -1
		if def.builtin == builtinExpectError {
			expecting = i
		}
		ps := PlannedStep{
			Name:    def.name,
			Index:   i,
			Creates: def.creates,
			Builtin: def.builtin != notBuiltin,
		}
		for p := 0; p < def.params; p++ {
			i++
			if i >= len(steps) {
				return snap, fmt.Errorf("%w: step %q needs %d parameters", ErrMalformedSteps, def.name, def.params)
			}
			if steps[i].IsStep() {
				return snap, fmt.Errorf("%w: step %q at %d where a parameter of %q belongs", ErrMalformedSteps, steps[i].Name(), i, def.name)
			}
			ps.Args = append(ps.Args, steps[i])
		}
		snap.Steps = append(snap.Steps, ps)
		if def.builtin == builtinEnd {
			if i != len(steps)-1 {
				return snap, fmt.Errorf("%w: %d tokens after %q", ErrMalformedSteps, len(steps)-1-i, EndStep)
			}
			return snap, nil
		}
	}
	return snap, ErrMissingEnd
}

type planDOTConfig struct {
	includeArgs     bool
	includeBuiltins bool
	rankdir         string
}

// PlanDOTOption permite customizar a exportação DOT.
type PlanDOTOption func(*planDOTConfig)

// WithoutArgs omite os parâmetros dos rótulos dos nós.
func WithoutArgs() PlanDOTOption {
	return func(cfg *planDOTConfig) { cfg.includeArgs = false }
}

// WithoutBuiltins omite os passos embutidos (wait, expectError, end).
func WithoutBuiltins() PlanDOTOption {
	return func(cfg *planDOTConfig) { cfg.includeBuiltins = false }
}

// WithRankDir troca a orientação do grafo (LR por padrão).
func WithRankDir(dir string) PlanDOTOption {
	return func(cfg *planDOTConfig) {
		if dir != "" {
			cfg.rankdir = dir
		}
	}
}

// ExportDOT valida steps e escreve o encadeamento em formato DOT.
func (s *Sequencer[T]) ExportDOT(w io.Writer, name string, steps []Token, opts ...PlanDOTOption) error {
	snap, err := s.registry.Plan(name, steps)
	if err != nil {
		return err
	}
	return snap.WriteDOT(w, opts...)
}

// WriteDOT serializa o plano em formato DOT (Graphviz).
func (snap PlanSnapshot) WriteDOT(w io.Writer, opts ...PlanDOTOption) error {
	cfg := planDOTConfig{
		includeArgs:     true,
		includeBuiltins: true,
		rankdir:         "LR",
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	graphName := snap.Name
	if graphName == "" {
		graphName = "scenario"
	}
	if _, err := fmt.Fprintf(w, "digraph %s {\n", dotQuote(graphName)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "  rankdir=%s;\n  node [shape=box];\n  __start__ [shape=point];\n", cfg.rankdir); err != nil {
		return err
	}

	prev := "__start__"
	for _, step := range snap.Steps {
		if step.Builtin && !cfg.includeBuiltins && step.Name != EndStep {
			continue
		}
		id := fmt.Sprintf("s%d", step.Index)
		label := step.Name
		if cfg.includeArgs {
			label = step.Label()
		}
		attrs := fmt.Sprintf("label=%s", dotQuote(label))
		switch {
		case step.Name == EndStep:
			attrs += ", shape=doublecircle"
		case step.Creates:
			attrs += ", style=bold"
		case step.Builtin:
			attrs += ", style=dashed"
		}
		if _, err := fmt.Fprintf(w, "  %s [%s];\n", id, attrs); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "  %s -> %s;\n", prev, id); err != nil {
			return err
		}
		prev = id
	}

	_, err := io.WriteString(w, "}\n")
	return err
}

func dotQuote(s string) string {
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
