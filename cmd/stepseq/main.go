// stepseq runs media acceptance scenarios against the simulated player.
// Scenarios come from a YAML suite file; every scenario is executed under
// each invocation style it lists, and the command exits non-zero when any
// of them fails.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/neonlab-dev/stepseq"
	"github.com/neonlab-dev/stepseq/internal/config"
	"github.com/neonlab-dev/stepseq/journal/sqlitejournal"
	"github.com/neonlab-dev/stepseq/journal/waljournal"
	"github.com/neonlab-dev/stepseq/media"
	"github.com/neonlab-dev/stepseq/media/fakeplayer"
	"github.com/neonlab-dev/stepseq/suite"
)

const (
	cmdRun   = "run"
	cmdPlan  = "plan"
	cmdSteps = "steps"
)

type arguments struct {
	command string

	suitePath string
	scenario  string
	styles    []stepseq.Style

	parallel    int
	timeout     time.Duration
	journal     string
	journalKind string
	logLevel    zerolog.Level

	source   string
	duration int

	format  string
	dotPath string
	out     string
}

const version = "0.1.0"

func newApp() *kingpin.Application {
	return kingpin.New("stepseq", "Runs step-list acceptance scenarios against a simulated media player.").
		Version(version)
}

func parseArgs(args []string, cfg config.Config) (*arguments, error) {
	app := newApp()

	source := app.Flag("source", "Media source handed to the player factory.").Default("file:///media/sample.mp4").String()
	duration := app.Flag("duration", "Duration in milliseconds of the simulated media.").Default("10000").Int()

	run := app.Command(cmdRun, "Run every scenario of a suite file.")
	runFile := run.Arg("file", "Suite file (YAML).").Required().ExistingFile()
	parallel := run.Flag("parallel", "Maximum number of scenarios running at once.").Default(fmt.Sprint(cfg.Parallel)).Int()
	styles := run.Flag("style", "Restrict runs to this invocation style (repeatable).").Enums(styleNames()...)
	timeout := run.Flag("timeout", "Per-scenario timeout when the suite sets none.").Default(cfg.Timeout.String()).Duration()
	journal := run.Flag("journal", "Journal location; empty keeps the journal in memory.").Default(cfg.Journal).String()
	journalKind := run.Flag("journal-kind", "Journal backend.").Default(strings.ToLower(cfg.JournalKind)).Enum(config.JournalSQLite, config.JournalWAL, config.JournalMemory)
	logLevel := run.Flag("log-level", "Log level for step events.").Default(strings.ToLower(cfg.LogLevel)).Enum("trace", "debug", "info", "warn", "error", "disabled")

	plan := app.Command(cmdPlan, "Print the validated step chain of one scenario.")
	planFile := plan.Arg("file", "Suite file (YAML).").Required().ExistingFile()
	planScenario := plan.Arg("scenario", "Scenario name.").Required().String()
	format := plan.Flag("format", "Output format.").Default("dot").Enum("dot", "png")
	dotPath := plan.Flag("dot-path", "Path of the graphviz dot binary (png only).").String()
	out := plan.Flag("out", "Output file; defaults to stdout.").String()

	app.Command(cmdSteps, "List the registered steps.")

	command, err := app.Parse(args)
	if err != nil {
		return nil, err
	}

	a := &arguments{
		command:  command,
		source:   *source,
		duration: *duration,
	}
	switch command {
	case cmdRun:
		if *parallel < 1 {
			return nil, fmt.Errorf("--parallel must be at least 1")
		}
		lvl, err := zerolog.ParseLevel(*logLevel)
		if err != nil {
			return nil, err
		}
		for _, s := range *styles {
			st, err := stepseq.ParseStyle(s)
			if err != nil {
				return nil, err
			}
			a.styles = append(a.styles, st)
		}
		if len(a.styles) == 0 && cfg.Style != "" {
			st, err := stepseq.ParseStyle(cfg.Style)
			if err != nil {
				return nil, err
			}
			a.styles = []stepseq.Style{st}
		}
		a.suitePath = *runFile
		a.parallel = *parallel
		a.timeout = *timeout
		a.journal = *journal
		a.journalKind = *journalKind
		a.logLevel = lvl
	case cmdPlan:
		a.suitePath = *planFile
		a.scenario = *planScenario
		a.format = *format
		a.dotPath = *dotPath
		a.out = *out
	}
	return a, nil
}

func styleNames() []string {
	var names []string
	for _, st := range stepseq.AllStyles() {
		names = append(names, st.String())
	}
	return names
}

func (a *arguments) registry() (*stepseq.Registry[media.Player], error) {
	reg := stepseq.NewRegistry[media.Player]()
	err := media.Register(reg, media.Options{
		NewPlayer: fakeplayer.New(fakeplayer.WithDuration(a.duration)),
		Source:    a.source,
		Duration:  a.duration,
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

func (a *arguments) openJournal() (stepseq.Journal, func() error, error) {
	nop := func() error { return nil }
	if a.journal == "" || a.journalKind == config.JournalMemory {
		return stepseq.NewMemJournal(), nop, nil
	}
	switch a.journalKind {
	case config.JournalWAL:
		w, err := waljournal.Open(a.journal, true)
		if err != nil {
			return nil, nil, err
		}
		return w, w.Close, nil
	default:
		s, err := sqlitejournal.Open(a.journal)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
}

func (a *arguments) execute(output io.Writer) error {
	switch a.command {
	case cmdRun:
		return a.executeRun(output)
	case cmdPlan:
		return a.executePlan(output)
	case cmdSteps:
		return a.executeSteps(output)
	default:
		return fmt.Errorf("unknown command %q", a.command)
	}
}

func (a *arguments) executeRun(output io.Writer) error {
	reg, err := a.registry()
	if err != nil {
		return err
	}
	f, err := suite.Load(a.suitePath)
	if err != nil {
		return err
	}
	cases, err := suite.Expand(reg, f, a.styles...)
	if err != nil {
		return err
	}

	journal, closeJournal, err := a.openJournal()
	if err != nil {
		return err
	}
	defer closeJournal()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(a.logLevel).
		With().Timestamp().Logger()

	seq := stepseq.New(stepseq.Config[media.Player]{
		Name:     f.Name,
		Registry: reg,
		Observer: stepseq.NewLogObserver(logger),
		Teardown: media.Teardown,
		Middlewares: []stepseq.Middleware[media.Player]{
			stepseq.WithRecover[media.Player](),
			stepseq.WithOTelStepSpans[media.Player](nil),
		},
		Journal: journal,
	})

	parallel := a.parallel
	if f.Parallel > 0 && f.Parallel < parallel {
		parallel = f.Parallel
	}
	runner := suite.Runner[media.Player]{Sequencer: seq, Parallel: parallel, Timeout: a.timeout}

	ctx := context.Background()
	rep, err := runner.Run(ctx, f.Name, cases)
	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if cerr := seq.Close(closeCtx); cerr != nil {
		logger.Warn().Err(cerr).Msg("runs still in flight at exit")
	}
	if err != nil {
		return err
	}
	if err := rep.WriteText(output); err != nil {
		return err
	}
	if !rep.OK() {
		return fmt.Errorf("%d of %d scenarios failed", rep.Failed, len(rep.Results))
	}
	return nil
}

func (a *arguments) executePlan(output io.Writer) error {
	reg, err := a.registry()
	if err != nil {
		return err
	}
	f, err := suite.Load(a.suitePath)
	if err != nil {
		return err
	}
	var steps []stepseq.Token
	found := false
	for _, sc := range f.Scenarios {
		if sc.Name != a.scenario {
			continue
		}
		if sc.Script != "" {
			steps, err = reg.ParseScript(sc.Script)
		} else {
			steps, err = reg.Tokens(sc.Steps...)
		}
		if err != nil {
			return err
		}
		found = true
		break
	}
	if !found {
		return fmt.Errorf("scenario %q not found in %s", a.scenario, a.suitePath)
	}
	snap, err := reg.Plan(a.scenario, steps)
	if err != nil {
		return err
	}

	w := output
	if a.out != "" {
		file, err := os.Create(a.out)
		if err != nil {
			return err
		}
		defer file.Close()
		w = file
	}

	if a.format == "png" {
		png, err := stepseq.RenderPlanPNG(context.Background(), stepseq.GraphvizRenderer{DotPath: a.dotPath}, snap)
		if err != nil {
			return err
		}
		_, err = w.Write(png)
		return err
	}
	return snap.WriteDOT(w)
}

func (a *arguments) executeSteps(output io.Writer) error {
	reg, err := a.registry()
	if err != nil {
		return err
	}
	catalog := reg.Catalog()
	sort.SliceStable(catalog, func(i, j int) bool {
		// built-ins last
		return !catalog[i].Builtin && catalog[j].Builtin
	})
	tw := tabwriter.NewWriter(output, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tPARAMS\tFLAGS\tDESCRIPTION")
	for _, e := range catalog {
		var flags []string
		if e.Creates {
			flags = append(flags, "creates")
		}
		if e.Builtin {
			flags = append(flags, "builtin")
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", e.Name, e.Params, strings.Join(flags, ","), e.Description)
	}
	return tw.Flush()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		kingpin.Fatalf("%s", err)
	}
	args, err := parseArgs(os.Args[1:], cfg)
	if err != nil {
		kingpin.Fatalf("failed to parse arguments, %s, try --help", err)
	}
	if err := args.execute(os.Stdout); err != nil {
		kingpin.Fatalf("%s", err)
	}
}
