// Package cmd implements the epine command line.
package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/epine-build/epine/pkg/config"
	"github.com/epine-build/epine/pkg/epine"
	"github.com/epine-build/epine/pkg/normalize"
	"github.com/epine-build/epine/pkg/output"
	"github.com/epine-build/epine/pkg/resolver"
	"github.com/epine-build/epine/pkg/sandbox"
)

// app holds the state shared by all subcommands once the config has been loaded.
type app struct {
	stdout io.Writer
	stderr io.Writer

	cfg    *config.Config
	ctx    context.Context
	logger zerolog.Logger
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "epine [flags] [-- script arguments]",
		Short: "Generate Makefiles from Lua build descriptions",
		Long: `epine evaluates the first Epine.lua file it finds in the current directory or its parents
and writes the resulting Makefile next to it. Arguments after -- are passed to the script
as epine.args.`,
		Version:           epine.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		RunE:              a.runGenerate,
	}

	rootCmd.SetOut(a.stdout)
	rootCmd.SetErr(a.stderr)

	flags := rootCmd.PersistentFlags()
	flags.String("log-level", "", "minimum log level (debug, info, warn, error)")

	flags = rootCmd.Flags()
	flags.StringP("input", "i", "", "script to evaluate (default: the nearest "+epine.DefaultInput+")")
	flags.StringP("output", "o", "", "file to write (default: Makefile next to the input)")
	flags.BoolP("watch", "w", false, "regenerate the output whenever the project directory changes")

	rootCmd.AddCommand(newFetchCmd(a), newCacheCmd(a))
	return rootCmd
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, loader := config.Loader()
	err := loader.Load()
	if err != nil {
		return eris.Wrap(err, "Failed to load config")
	}

	level, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return err
	}
	if level != "" {
		cfg.Log.Level = level
	}

	err = cfg.Validate()
	if err != nil {
		return err
	}

	if cfg.Log.JSON {
		a.logger = zerolog.New(a.stderr).With().Timestamp().Logger()
	} else {
		a.logger = zerolog.New(NewConsoleWriter(a.stderr))
	}
	a.logger = a.logger.Level(cfg.LogLevel())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a.cfg = cfg
	a.ctx = output.WithLogger(ctx, &a.logger)
	return nil
}

func (a *app) runGenerate(cmd *cobra.Command, args []string) error {
	scriptArgs, err := scriptArguments(cmd, args)
	if err != nil {
		return err
	}

	inputPath, err := cmd.Flags().GetString("input")
	if err != nil {
		return err
	}

	if inputPath == "" {
		wd, err := os.Getwd()
		if err != nil {
			return eris.Wrap(err, "Failed to retrieve the current working directory")
		}

		inputPath, err = epine.FindInput(wd, epine.DefaultInput)
		if err != nil {
			return err
		}
	}

	inputPath, err = filepath.Abs(inputPath)
	if err != nil {
		return eris.Wrapf(err, "Failed to resolve %s", inputPath)
	}

	outputPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	if outputPath == "" {
		outputPath = epine.DefaultOutput(inputPath)
	}

	watch, err := cmd.Flags().GetBool("watch")
	if err != nil {
		return err
	}

	gen, err := epine.NewGenerator(a.cfg)
	if err != nil {
		return err
	}

	if watch {
		return gen.Watch(a.ctx, inputPath, outputPath, scriptArgs)
	}

	return gen.GenerateFile(a.ctx, inputPath, outputPath, scriptArgs)
}

// scriptArguments returns everything after "--"; anything before it is rejected.
func scriptArguments(cmd *cobra.Command, args []string) ([]string, error) {
	dash := cmd.ArgsLenAtDash()
	if dash == -1 {
		if len(args) > 0 {
			return nil, eris.Errorf("unexpected argument %q (pass script arguments after --)", args[0])
		}
		return nil, nil
	}

	if dash > 0 {
		return nil, eris.Errorf("unexpected argument %q (pass script arguments after --)", args[0])
	}
	return args, nil
}

// exitCodeForError maps the error kinds to the documented process exit codes.
func exitCodeForError(err error) int {
	var inputErr *epine.InputNotFoundError
	var scriptErr *sandbox.ScriptError
	var notFound *resolver.ModuleNotFoundError
	var schemaErr *normalize.SchemaError

	switch {
	case errors.As(err, &inputErr):
		return 2
	case errors.As(err, &scriptErr):
		return 3
	case errors.As(err, &notFound):
		return 4
	case errors.As(err, &schemaErr):
		return 5
	default:
		return 1
	}
}

// run executes the command line and returns the exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr, logger: zerolog.New(NewConsoleWriter(stderr))}
	rootCmd := newRootCmd(a)
	rootCmd.SetArgs(args)

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var scriptErr *sandbox.ScriptError
	if errors.As(err, &scriptErr) && scriptErr.Traceback != "" {
		a.logger.Debug().Msg(scriptErr.Traceback)
	}
	a.logger.Error().Err(err).Msg("Failed")

	return exitCodeForError(err)
}

// Execute runs the command line and exits the process.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
