package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/shibukawa/snapsql"
	"github.com/shibukawa/snapsql/internal/anchor"
	"github.com/shibukawa/snapsql/internal/diagnostic"
)

// Context carries the global flags through to every subcommand, mirroring
// the teacher's cmd/snapsql/main.go Context{Config,Verbose,Quiet} shape.
type Context struct {
	Config  string
	Verbose bool
	Quiet   bool
}

var ErrUnknownAstStage = errors.New("unknown ast stage: must be \"pl\" or \"rq\"")

// CompileCmd implements spec.md §6's compile(prql, opts) entry point as a
// CLI command.
type CompileCmd struct {
	Target           string `help:"Dialect target, e.g. sql.postgres or sql.any" short:"t"`
	Format           bool   `help:"Pretty-print the generated SQL" short:"f"`
	SignatureComment bool   `help:"Append a signature comment to the output"`
	Path             string `arg:"" help:"Path to a .prql source file"`
}

func (cmd *CompileCmd) Run(appCtx *Context) error {
	source, err := os.ReadFile(cmd.Path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", cmd.Path, err)
	}

	config, err := snapsql.LoadConfig(appCtx.Config)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	opts := config.ToOptions()
	if cmd.Target != "" {
		opts.Target = cmd.Target
	}

	if cmd.Format {
		opts.Format = true
	}

	if cmd.SignatureComment {
		opts.SignatureComment = true
	}

	opts.Verbose = appCtx.Verbose

	sql, err := snapsql.Compile(string(source), opts)
	if err != nil {
		return displayErr(err, opts.Display)
	}

	fmt.Print(sql)

	return nil
}

// FmtCmd delegates to the external pretty-printer that owns PRQL source
// formatting (spec.md §1: out of scope for this compiler). This is a
// pass-through stub, per SPEC_FULL.md §1.4.
type FmtCmd struct {
	Path string `arg:"" help:"Path to a .prql source file"`
}

func (cmd *FmtCmd) Run(_ *Context) error {
	source, err := os.ReadFile(cmd.Path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", cmd.Path, err)
	}

	fmt.Print(string(source))

	return nil
}

// AstCmd dumps the JSON form of an intermediate representation, wiring
// spec.md §6's prql_to_pl/pl_to_rq JSON endpoints to the CLI.
type AstCmd struct {
	Stage string `help:"Which IR to dump: pl or rq" enum:"pl,rq" default:"pl"`
	Path  string `arg:"" help:"Path to a .prql source file"`
}

func (cmd *AstCmd) Run(appCtx *Context) error {
	source, err := os.ReadFile(cmd.Path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", cmd.Path, err)
	}

	config, err := snapsql.LoadConfig(appCtx.Config)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	pl, err := snapsql.PrqlToPL(string(source))
	if err != nil {
		return displayErr(err, config.ToOptions().Display)
	}

	var out any = pl

	if cmd.Stage == "rq" {
		rqQuery, err := snapsql.PlToRQ(anchor.New(), pl)
		if err != nil {
			return displayErr(err, config.ToOptions().Display)
		}

		out = rqQuery
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

// displayErr renders err per opts.Display, using diagnostic.Error's own
// source-snippet rendering when available.
func displayErr(err error, display snapsql.Display) error {
	var diagErr *diagnostic.Error
	if errors.As(err, &diagErr) {
		fmt.Fprintln(os.Stderr, diagErr.Display(display == snapsql.DisplayAnsiColor))
		return errSilent
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	return errSilent
}

// errSilent signals main to exit non-zero without re-printing an already
// displayed error.
var errSilent = errors.New("")

var CLI struct {
	Config  string     `help:"Configuration file path" default:"prqlgo.yaml"`
	Verbose bool       `help:"Enable verbose output" short:"v"`
	Quiet   bool       `help:"Suppress output" short:"q"`
	Compile CompileCmd `cmd:"" help:"Compile a PRQL query to SQL"`
	Fmt     FmtCmd     `cmd:"" help:"Format a PRQL source file"`
	Ast     AstCmd     `cmd:"" help:"Dump an intermediate representation as JSON"`
}

func main() {
	ctx := kong.Parse(&CLI)

	appCtx := &Context{Config: CLI.Config, Verbose: CLI.Verbose, Quiet: CLI.Quiet}

	err := ctx.Run(appCtx)
	if err != nil {
		if !errors.Is(err, errSilent) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}

		os.Exit(1)
	}
}
