// telemetryd - keyboard, pointer and screen brightness telemetry sampler
//
//	telemetryd run              Run the samplers (default command)
//	telemetryd analyze <image>  Print brightness statistics of an image
//	telemetryd keys             List key names
//	telemetryd config init|show Write or print the configuration
//	telemetryd status           Show the running daemon
//	telemetryd stop             Stop the running daemon
package main

import (
	"fmt"
	"os"
	"runtime"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	if len(os.Args) < 2 {
		os.Exit(cmdRun(nil))
	}

	cmd, args := os.Args[1], os.Args[2:]

	var code int
	switch cmd {
	case "run":
		code = cmdRun(args)
	case "analyze":
		code = cmdAnalyze(args)
	case "keys":
		code = cmdKeys(args)
	case "config":
		code = cmdConfig(args)
	case "status":
		code = cmdStatus(args)
	case "stop":
		code = cmdStop(args)
	case "version", "--version":
		fmt.Printf("telemetryd %s (%s/%s, %s)\n", Version, runtime.GOOS, runtime.GOARCH, runtime.Version())
	case "help", "-h", "--help":
		usage()
	default:
		if len(cmd) > 0 && cmd[0] == '-' {
			// Flags without a command belong to run.
			code = cmdRun(os.Args[1:])
			break
		}
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		code = 1
	}
	os.Exit(code)
}

func usage() {
	fmt.Println(`telemetryd - desktop input and screen brightness telemetry

USAGE:
    telemetryd [command] [options]

COMMANDS:
    run                 Run the samplers until interrupted (default)
    analyze <image>     Print mean, median and stddev luma of a PNG/JPEG/GIF
    keys                List the key names used in key events
    config init         Write a default configuration file
    config show         Print the effective configuration
    status              Show whether a daemon is running
    stop                Ask the running daemon to stop
    version             Print the version
    help                Show this help message

RUN OPTIONS:
    --config <path>     Configuration file (TOML, JSON or YAML)
    --simulate          Use scripted input and synthetic displays
    --jsonl <path>      Also write events as JSON lines ("-" for stdout)
    --log-level <lvl>   Override the configured log level

EVENTS:
    key_down, key_up        {"code": "A"}
    mouse_move, mouse_idle  {"coords": [x, y]}
    screen_brightness       {"display": "...", "mean": .., "median": .., "stddev": ..}

SIGNALS:
    SIGINT, SIGTERM     Stop the samplers and exit
    SIGHUP              Reload the configuration file`)
}
