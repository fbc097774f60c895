// Package suite loads scenario files and runs every scenario under each of
// its invocation styles with bounded parallelism.
package suite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/neonlab-dev/stepseq"
)

// File is the YAML document describing a suite.
type File struct {
	Name      string     `yaml:"name"`
	Parallel  int        `yaml:"parallel"`
	Timeout   string     `yaml:"timeout"`
	Scenarios []Scenario `yaml:"scenarios"`
}

// Scenario is one step list. Steps may be given as a YAML sequence or as a
// whitespace separated script; both forms are validated against the registry.
type Scenario struct {
	Name    string   `yaml:"name"`
	Styles  []string `yaml:"styles"`
	Steps   []any    `yaml:"steps"`
	Script  string   `yaml:"script"`
	Timeout string   `yaml:"timeout"`
}

// Case is one scenario bound to one invocation style.
type Case struct {
	Scenario string
	Style    stepseq.Style
	Steps    []stepseq.Token
	Timeout  time.Duration
}

// Name returns "scenario/style".
func (c Case) Name() string { return c.Scenario + "/" + c.Style.String() }

// Load reads and decodes a suite file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("suite: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a suite document.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("suite: decode: %w", err)
	}
	if len(f.Scenarios) == 0 {
		return nil, errors.New("suite: no scenarios")
	}
	seen := make(map[string]bool, len(f.Scenarios))
	for i, sc := range f.Scenarios {
		if strings.TrimSpace(sc.Name) == "" {
			return nil, fmt.Errorf("suite: scenario %d has no name", i)
		}
		if seen[sc.Name] {
			return nil, fmt.Errorf("suite: duplicate scenario %q", sc.Name)
		}
		seen[sc.Name] = true
		if len(sc.Steps) > 0 && sc.Script != "" {
			return nil, fmt.Errorf("suite: scenario %q sets both steps and script", sc.Name)
		}
	}
	return &f, nil
}

func parseTimeout(s string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("suite: timeout %q: %w", s, err)
	}
	return d, nil
}

// Expand validates every scenario and returns one case per style.
// Scenarios without styles run under every style. When only is non-empty
// it restricts the styles of all scenarios.
func Expand[T any](reg *stepseq.Registry[T], f *File, only ...stepseq.Style) ([]Case, error) {
	suiteTimeout, err := parseTimeout(f.Timeout, 0)
	if err != nil {
		return nil, err
	}
	var cases []Case
	for _, sc := range f.Scenarios {
		steps, err := scenarioTokens(reg, sc)
		if err != nil {
			return nil, fmt.Errorf("suite: scenario %q: %w", sc.Name, err)
		}
		if _, err := reg.Plan(sc.Name, steps); err != nil {
			return nil, fmt.Errorf("suite: scenario %q: %w", sc.Name, err)
		}
		timeout, err := parseTimeout(sc.Timeout, suiteTimeout)
		if err != nil {
			return nil, err
		}
		styles, err := scenarioStyles(sc, only)
		if err != nil {
			return nil, fmt.Errorf("suite: scenario %q: %w", sc.Name, err)
		}
		for _, st := range styles {
			cases = append(cases, Case{
				Scenario: sc.Name,
				Style:    st,
				Steps:    steps,
				Timeout:  timeout,
			})
		}
	}
	return cases, nil
}

func scenarioTokens[T any](reg *stepseq.Registry[T], sc Scenario) ([]stepseq.Token, error) {
	if sc.Script != "" {
		return reg.ParseScript(sc.Script)
	}
	return reg.Tokens(sc.Steps...)
}

func scenarioStyles(sc Scenario, only []stepseq.Style) ([]stepseq.Style, error) {
	var styles []stepseq.Style
	if len(sc.Styles) == 0 {
		styles = stepseq.AllStyles()
	} else {
		for _, s := range sc.Styles {
			st, err := stepseq.ParseStyle(s)
			if err != nil {
				return nil, err
			}
			styles = append(styles, st)
		}
	}
	if len(only) == 0 {
		return styles, nil
	}
	var out []stepseq.Style
	for _, st := range styles {
		for _, o := range only {
			if st == o {
				out = append(out, st)
			}
		}
	}
	return out, nil
}

// CaseResult is the outcome of one case.
type CaseResult struct {
	Case   Case
	Result stepseq.Result
	// Err is set when the case did not complete before its timeout or could not start.
	Err error
}

// Passed reports whether the case completed and passed.
func (r CaseResult) Passed() bool { return r.Err == nil && r.Result.Passed() }

// Report aggregates case results in case order.
type Report struct {
	Name    string
	Results []CaseResult
	Passed  int
	Failed  int
}

// OK reports whether every case passed.
func (r Report) OK() bool { return r.Failed == 0 }

// WriteText prints one line per case followed by a summary.
func (r Report) WriteText(w io.Writer) error {
	for _, res := range r.Results {
		verdict := "PASS"
		detail := ""
		switch {
		case res.Err != nil:
			verdict = "FAIL"
			detail = res.Err.Error()
		case !res.Result.Passed():
			verdict = "FAIL"
			if res.Result.Err != nil {
				detail = res.Result.Err.Error()
			}
		}
		line := fmt.Sprintf("%-4s %s (%d steps)", verdict, res.Case.Name(), len(res.Result.Executed))
		if detail != "" {
			line += ": " + detail
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	name := r.Name
	if name == "" {
		name = "suite"
	}
	_, err := fmt.Fprintf(w, "%s: %d passed, %d failed\n", name, r.Passed, r.Failed)
	return err
}

// Runner executes cases on a sequencer.
type Runner[T any] struct {
	Sequencer *stepseq.Sequencer[T]
	// Parallel bounds concurrently running cases; values below 1 mean 1.
	Parallel int
	// Timeout applies to cases without their own; zero means no limit.
	Timeout time.Duration
}

// Run executes every case. Each case gets its own run and target; a case
// failure never stops the others. The returned error is only set when ctx
// ends before all cases were scheduled.
func (r Runner[T]) Run(ctx context.Context, name string, cases []Case) (Report, error) {
	if r.Sequencer == nil {
		return Report{}, errors.New("suite: nil sequencer")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	limit := r.Parallel
	if limit < 1 {
		limit = 1
	}

	results := make([]CaseResult, len(cases))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, c := range cases {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[i] = r.runCase(gctx, c)
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Name: name, Results: results}
	for _, res := range results {
		if res.Passed() {
			rep.Passed++
		} else {
			rep.Failed++
		}
	}
	return rep, ctx.Err()
}

func (r Runner[T]) runCase(ctx context.Context, c Case) CaseResult {
	timeout := c.Timeout
	if timeout == 0 {
		timeout = r.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	res, err := r.Sequencer.Run(ctx, c.Steps,
		stepseq.WithScenario(c.Scenario),
		stepseq.WithStyle(c.Style),
	)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("timed out after %s: %w", timeout, err)
	}
	return CaseResult{Case: c, Result: res, Err: err}
}
