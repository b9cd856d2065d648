// Package cli parses the host's command line into host options.
package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/kilnproject/kiln/internal/host"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns populated host
// options, a boolean indicating the program should exit cleanly (help or
// version was shown), or an ExitError.
func Parse(args []string, version string, output io.Writer) (*host.Options, bool, error) {
	flagSet := flag.NewFlagSet("kiln", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
kiln - compiles and runs project commands on demand.

Usage:
  kiln [options] [run | <application>] [args...]

Arguments:
  <application>
    Name of the application or project command to run. The literal "run"
    executes the project's default command. Everything after the name is
    forwarded to the program.

Options:
`)
		flagSet.PrintDefaults()
	}

	watchFlag := flagSet.Bool("watch", false, "Re-run when watched files change.")
	packagesFlag := flagSet.String("packages", "", "Directory where named dependencies are searched.")
	configurationFlag := flagSet.String("configuration", "", `Build configuration name. "release" treats warnings as errors. Default "debug".`)
	targetFlag := flagSet.String("target", "", `Target dialect: "bash", "posix", or "mksh". Default "bash".`)
	appbaseFlag := flagSet.String("appbase", "", "Application base directory. Default is the working directory.")
	terseFlag := flagSet.Bool("terse-load-errors", false, "Suppress loader failure detail in error messages.")
	versionFlag := flagSet.Bool("version", false, "Print the version and exit.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "warn", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	if *versionFlag {
		fmt.Fprintf(output, "kiln %s\n", version)
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}
	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	rest := flagSet.Args()
	if len(rest) == 0 && !*watchFlag {
		flagSet.Usage()
		return nil, true, nil
	}

	// The first non-flag token is the candidate application name; the
	// literal "run" keeps it empty so the project's default command is
	// looked up.
	appName := ""
	var programArgs []string
	if len(rest) > 0 {
		if rest[0] != "run" {
			appName = rest[0]
		}
		programArgs = rest[1:]
	}

	opts := &host.Options{
		Target:          *targetFlag,
		Configuration:   *configurationFlag,
		PackagesDir:     *packagesFlag,
		BaseDir:         *appbaseFlag,
		AppName:         appName,
		Args:            programArgs,
		Watch:           *watchFlag,
		TerseLoadErrors: *terseFlag,
		Version:         version,
		LogLevel:        logLevel,
		LogFormat:       logFormat,
	}
	if err := opts.Normalize(); err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	return opts, false, nil
}
