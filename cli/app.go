// Package cli contains the zm_detect command: it runs detection on a ZoneMinder event or an image
// file and reports what it found to the calling process.
package cli

import (
	"fmt"
	"io"
	"runtime"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

// Version is the application version sent to remote gateways and printed by --version.
var Version = "6.1.16"

const (
	configFlag      = "config"
	eventIDFlag     = "eventid"
	eventPathFlag   = "eventpath"
	monitorIDFlag   = "monitorid"
	versionFlag     = "version"
	bareVersionFlag = "bareversion"
	outputPathFlag  = "output-path"
	fileFlag        = "file"
	reasonFlag      = "reason"
	notesFlag       = "notes"
	debugFlag       = "debug"
)

// NewApp returns the zm_detect application writing its report to out and its console logs to
// errOut. Run errors are returned to the caller instead of exiting; see ExitCode.
func NewApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:            "zm_detect",
		Usage:           "detect objects in a ZoneMinder event or an image file",
		HideHelpCommand: true,
		Writer:          out,
		ErrWriter:       errOut,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    configFlag,
				Aliases: []string{"c"},
				Usage:   "config `FILE` with path",
			},
			&cli.StringFlag{
				Name:    eventIDFlag,
				Aliases: []string{"e"},
				Usage:   "event ID to retrieve",
			},
			&cli.StringFlag{
				Name:    eventPathFlag,
				Aliases: []string{"p"},
				Usage:   "path to store object image file",
			},
			&cli.StringFlag{
				Name:    monitorIDFlag,
				Aliases: []string{"m"},
				Usage:   "monitor id, needed for zones and past detections",
			},
			&cli.BoolFlag{
				Name:    versionFlag,
				Aliases: []string{"v"},
				Usage:   "print version and quit",
			},
			&cli.BoolFlag{
				Name:  bareVersionFlag,
				Usage: "print only app version and quit",
			},
			&cli.StringFlag{
				Name:    outputPathFlag,
				Aliases: []string{"o"},
				Usage:   "path for debug images to be written, overrides image_path",
			},
			&cli.StringFlag{
				Name:    fileFlag,
				Aliases: []string{"f"},
				Usage:   "detect on an image file instead of an event",
			},
			&cli.StringFlag{
				Name:    reasonFlag,
				Aliases: []string{"r"},
				Usage:   "reason for event (notes field in ZM)",
			},
			&cli.BoolFlag{
				Name:    notesFlag,
				Aliases: []string{"n"},
				Usage:   "updates notes field in ZM with detections",
			},
			&cli.BoolFlag{
				Name:    debugFlag,
				Aliases: []string{"d"},
				Usage:   "enables debug on console",
			},
		},
		Action: DetectAction,
		// exit codes are decided by the caller of Run
		ExitErrHandler: func(*cli.Context, error) {},
	}
}

// ExitCode returns the process exit code for the error returned by running the application.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

// printf prints a message to the writer with a trailing newline.
func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}

// DetectAction is the action of the application. It handles the informational flags and argument
// validation, then runs one detection.
func DetectAction(c *cli.Context) error {
	if c.Bool(versionFlag) {
		printf(c.App.Writer, "app:%s, go:%s", Version, runtime.Version())
		return nil
	}
	if c.Bool(bareVersionFlag) {
		printf(c.App.Writer, "%s", Version)
		return nil
	}
	if c.String(configFlag) == "" {
		printf(c.App.Writer, "--config required")
		return cli.Exit("", 1)
	}
	if c.String(fileFlag) == "" && c.String(eventIDFlag) == "" {
		printf(c.App.Writer, "--eventid required")
		return cli.Exit("", 1)
	}
	return runDetection(c.Context, argsFromContext(c), c.App.Writer, c.App.ErrWriter)
}

// args are the command line arguments of a detection run.
type args struct {
	config     string
	eventID    string
	eventPath  string
	monitorID  string
	outputPath string
	file       string
	reason     string
	notes      bool
	debug      bool
}

func argsFromContext(c *cli.Context) args {
	return args{
		config:     c.String(configFlag),
		eventID:    c.String(eventIDFlag),
		eventPath:  c.String(eventPathFlag),
		monitorID:  c.String(monitorIDFlag),
		outputPath: c.String(outputPathFlag),
		file:       c.String(fileFlag),
		reason:     c.String(reasonFlag),
		notes:      c.Bool(notesFlag),
		debug:      c.Bool(debugFlag),
	}
}

// stream is the file when detecting on a file, the event id otherwise.
func (a args) stream() string {
	if a.file != "" {
		return a.file
	}
	return a.eventID
}
