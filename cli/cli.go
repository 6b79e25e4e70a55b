// Package cli parses the entrypoint command line and drives the
// initialization sequence before handing the command over to the
// supervisor (or exec'ing it directly with --no-init).
package cli

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/hlub/entrypoint/hooks"
	"github.com/hlub/entrypoint/signal"
	"github.com/hlub/entrypoint/supervise"
	"github.com/hlub/entrypoint/template"
	"github.com/hlub/entrypoint/vars"
)

var Version = "unknown"

var ErrMissingCommand = errors.New("no command specified")

// Options is the parsed command line.
type Options struct {
	Verbose int
	Quiet   bool
	Version bool

	NoInit   bool
	NoSetsid bool

	Rewrites *signal.Map

	VariablesFile     string
	VariablesExplicit bool
	TemplateRoot      string
	JinjaRoot         string
	OutputRoot        string
	HooksDir          string

	Command []string
}

// ParseArgs splits args into the entrypoint's own flags and the
// command vector. Everything after the first positional argument (or
// an explicit --) belongs to the command.
func ParseArgs(args []string) (*Options, error) {
	opts := &Options{}

	fs := pflag.NewFlagSet("entrypoint", pflag.ContinueOnError)
	fs.SetInterspersed(false)

	var rewrites []string

	fs.CountVarP(&opts.Verbose, "verbose", "v", "verbose log output")
	fs.BoolVarP(&opts.Quiet, "quiet", "q", false, "output only pure errors")
	fs.BoolVar(&opts.Version, "version", false, "print version information")
	fs.BoolVar(&opts.NoInit, "no-init", false, "disable init functionality")
	fs.BoolVar(&opts.NoSetsid, "no-setsid", false, "omit use of setsid system call")
	fs.StringArrayVarP(&rewrites, "rewrite", "r", nil,
		"specify signal rewrites as SOURCE_SIG:DEST_SIG")
	fs.StringVarP(&opts.VariablesFile, "variables", "V", "/variables.yml",
		"optional YAML file containing template variables")
	fs.StringVarP(&opts.TemplateRoot, "templates", "t", "/templates",
		"directory structure containing template files")
	fs.StringVarP(&opts.JinjaRoot, "jinja", "j", "/jinja",
		"root directory for utility templates included from other templates")
	fs.StringVarP(&opts.OutputRoot, "output", "o", "/",
		"output directory")
	fs.StringVarP(&opts.HooksDir, "hooks", "H", "/entrypoint_hooks",
		"directory containing entrypoint hooks to run before the command")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	opts.VariablesExplicit = fs.Changed("variables")
	opts.Command = fs.Args()

	rw, err := signal.Build(rewrites)
	if err != nil {
		return nil, err
	}
	opts.Rewrites = rw

	if len(opts.Command) == 0 && !opts.Version {
		return nil, ErrMissingCommand
	}

	return opts, nil
}

type CLI struct {
}

// Run executes the whole entrypoint sequence and returns the process
// exit status.
func (cli *CLI) Run(args []string) int {
	opts, err := ParseArgs(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if opts.Version {
		fmt.Printf("entrypoint version: %s\n", Version)
		return 0
	}

	log := newLogger(opts)

	variables := map[string]interface{}{}

	if os.Getenv("SKIP_ENTRYPOINT") == "" {
		variables, err = cli.initialize(log, opts)
		if err != nil {
			log.Error("initialization failed", "error", err)
			return 1
		}
	} else {
		log.Debug("SKIP_ENTRYPOINT is set, skipping initialization")
	}

	// The command line itself may contain templates.
	argv := make([]string, len(opts.Command))
	for i, arg := range opts.Command {
		argv[i], err = template.RenderString(log, arg, variables)
		if err != nil {
			log.Error("unable to render command argument", "error", err)
			return 1
		}
	}

	if opts.NoInit {
		return execCommand(log, argv)
	}

	sup := supervise.New(supervise.Options{
		Log:       log.Named("init"),
		Rewrites:  opts.Rewrites,
		UseSetsid: !opts.NoSetsid,
	})

	return sup.Run(argv)
}

// initialize runs the fixed init sequence: variables, prehooks,
// template rendering, hooks, posthooks. The first failure aborts.
func (cli *CLI) initialize(log hclog.Logger, opts *Options) (map[string]interface{}, error) {
	variables, err := vars.Load(log, opts.VariablesFile, opts.VariablesExplicit)
	if err != nil {
		return nil, err
	}

	set, err := hooks.Discover(log, opts.HooksDir)
	if err != nil {
		return nil, err
	}
	defer set.Close()

	if err := set.RunPrehooks(variables); err != nil {
		return nil, err
	}

	// The variable space is frozen from here on.
	err = template.Process(log, variables, opts.OutputRoot, opts.TemplateRoot, opts.JinjaRoot)
	if err != nil {
		return nil, err
	}

	if err := set.RunHooks(variables); err != nil {
		return nil, err
	}
	if err := set.RunPosthooks(variables); err != nil {
		return nil, err
	}

	return variables, nil
}

// execCommand replaces the current process image with the command so
// pid-1 semantics are inherited directly.
func execCommand(log hclog.Logger, argv []string) int {
	path, err := exec.LookPath(argv[0])
	if err != nil {
		log.Error("command not found", "command", argv[0], "error", err)
		return supervise.ExitExecFailed
	}

	if err := unix.Exec(path, argv, os.Environ()); err != nil {
		log.Error("exec system call failed to replace the program", "error", err)
	}

	return supervise.ExitExecFailed
}

func newLogger(opts *Options) hclog.Logger {
	level := hclog.Info
	switch {
	case opts.Quiet:
		level = hclog.Error
	case opts.Verbose == 1:
		level = hclog.Debug
	case opts.Verbose >= 2:
		level = hclog.Trace
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:  "entrypoint",
		Level: level,
	})
}
