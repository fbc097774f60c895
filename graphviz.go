package stepseq

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// GraphvizRenderer encapsula a configuração para chamar o binário `dot`.
type GraphvizRenderer struct {
	// DotPath permite informar o caminho completo do executável `dot`.
	// Se vazio, o renderer busca `dot` no PATH.
	DotPath string
	// Args são acrescentados após `-Tpng` (ex.: `-Gdpi=150`).
	Args []string
	// Env é anexado ao ambiente do processo filho.
	Env []string
}

func (r GraphvizRenderer) resolveDot() (string, error) {
	name := r.DotPath
	if name == "" {
		name = "dot"
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("stepseq: dot binary not found: %w", err)
	}
	return path, nil
}

// RenderPlanPNG executa `dot -Tpng` usando o DOT exportado do plano informado.
func RenderPlanPNG(ctx context.Context, renderer GraphvizRenderer, snap PlanSnapshot, opts ...PlanDOTOption) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	dotPath, err := renderer.resolveDot()
	if err != nil {
		return nil, err
	}

	var dot bytes.Buffer
	if err := snap.WriteDOT(&dot, opts...); err != nil {
		return nil, fmt.Errorf("stepseq: render DOT: %w", err)
	}

	args := append([]string{"-Tpng"}, renderer.Args...)
	cmd := exec.CommandContext(ctx, dotPath, args...)
	cmd.Stdin = bytes.NewReader(dot.Bytes())

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if len(renderer.Env) > 0 {
		cmd.Env = append(os.Environ(), renderer.Env...)
	}

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("stepseq: dot execution failed: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("stepseq: dot execution failed: %w", err)
	}
	return stdout.Bytes(), nil
}

// RenderStepsPNG valida steps no sequencer e gera o PNG do plano.
func RenderStepsPNG[T any](ctx context.Context, renderer GraphvizRenderer, s *Sequencer[T], name string, steps []Token, opts ...PlanDOTOption) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("stepseq: nil sequencer")
	}
	snap, err := s.registry.Plan(name, steps)
	if err != nil {
		return nil, err
	}
	return RenderPlanPNG(ctx, renderer, snap, opts...)
}
