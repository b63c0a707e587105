// tef is a CLI tool for producing and working with trace files.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
)

func main() {
	var (
		ctx    = context.Background()
		stdout = os.Stdout
		stderr = os.Stderr
		args   = os.Args[1:]
	)
	err := exec(ctx, stdout, stderr, args)
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.As(err, &(run.SignalError{})):
		os.Exit(0)
	case err != nil:
		fmt.Fprintf(stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func exec(ctx context.Context, stdout, stderr io.Writer, args []string) (err error) {
	rootConfig := &rootConfig{
		stdout: stdout,
		stderr: stderr,
	}

	rootFlags := ff.NewFlagSet("tef")
	rootConfig.register(rootFlags)

	rootCommand := &ff.Command{
		Name:      "tef",
		ShortHelp: "produce, merge, and check Trace Event Format files",
		Flags:     rootFlags,
	}

	// Config for `tef bench`.
	benchConfig := &benchConfig{rootConfig: rootConfig}
	benchFlags := ff.NewFlagSet("bench").SetParent(rootFlags)
	benchConfig.register(benchFlags)
	benchCommand := &ff.Command{
		Name:      "bench",
		ShortHelp: "record a synthetic workload",
		LongHelp:  "Run nested tasks on concurrent goroutines, and record them to a trace file.",
		Flags:     benchFlags,
		Exec:      benchConfig.Exec,
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, benchCommand)

	// Config for `tef merge`.
	mergeConfig := &mergeConfig{rootConfig: rootConfig}
	mergeFlags := ff.NewFlagSet("merge").SetParent(rootFlags)
	mergeConfig.register(mergeFlags)
	mergeCommand := &ff.Command{
		Name:      "merge",
		ShortHelp: "combine the trace files in a directory",
		LongHelp:  "Combine the events of every *.json file in DIR, or the working directory, into a single trace file.",
		Flags:     mergeFlags,
		Exec:      mergeConfig.Exec,
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, mergeCommand)

	// Config for `tef check`.
	checkConfig := &checkConfig{rootConfig: rootConfig}
	checkFlags := ff.NewFlagSet("check").SetParent(rootFlags)
	checkConfig.register(checkFlags)
	checkCommand := &ff.Command{
		Name:      "check",
		ShortHelp: "validate and summarize trace files",
		LongHelp:  "Read each FILE, report truncation, and summarize its events by name.",
		Flags:     checkFlags,
		Exec:      checkConfig.Exec,
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, checkCommand)

	// Print help when appropriate.
	showHelp := true
	defer func() {
		errHelp := errors.Is(err, ff.ErrHelp) || errors.Is(err, ff.ErrNoExec)
		if showHelp || errHelp {
			fmt.Fprintf(stderr, "\n%s\n", ffhelp.Command(rootCommand))
		}
		if errHelp {
			err = nil
		}
	}()

	// Initial parsing.
	if err := rootCommand.Parse(args, ff.WithEnvVarPrefix("TEF")); err != nil {
		return err
	}

	// Validation and set-up.
	{
		var infodst, debugdst io.Writer
		switch rootConfig.logLevel {
		case "n", "none":
			infodst, debugdst = io.Discard, io.Discard
		case "i", "info":
			infodst, debugdst = stderr, io.Discard
		case "d", "debug":
			infodst, debugdst = stderr, stderr
		default:
			return fmt.Errorf("invalid log level %q", rootConfig.logLevel)
		}
		rootConfig.info = log.New(infodst, "", 0)
		rootConfig.debug = log.New(debugdst, "[DEBUG] ", log.Lmsgprefix)
	}

	// Run errors shouldn't show help by default.
	showHelp = false

	// Run the selected command.
	return rootCommand.Run(ctx)
}
