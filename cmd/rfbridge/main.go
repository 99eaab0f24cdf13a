// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: The deskbridge Authors

// rfbridge drives a remote desktop over RFB from the command line.
//
// Every invocation opens a fresh session against the target, performs
// one action, and disconnects, so scripted runs never depend on
// connection state. Coordinates are given in the bridge's reference
// resolution and scaled to the target's real display mode; screenshots
// come back scaled the same way.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	rfb "github.com/deskbridge/go-rfb"
	"github.com/deskbridge/go-rfb/bridge"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printUsage()
		return errors.New("no command given")
	}

	command, rest := args[0], args[1:]
	switch command {
	case "screenshot":
		return cmdScreenshot(rest)
	case "click":
		return cmdClick(rest)
	case "move":
		return cmdMove(rest)
	case "drag":
		return cmdDrag(rest)
	case "scroll":
		return cmdScroll(rest)
	case "type":
		return cmdType(rest)
	case "key":
		return cmdKeys("key", "enter", rest)
	case "keys":
		return cmdKeys("keys", "ctrl+shift+t", rest)
	case "info":
		return cmdInfo(rest)
	case "help", "-h", "--help":
		printUsage()
		return nil
	default:
		printUsage()
		return errors.Errorf("unknown command %q", command)
	}
}

// connFlags are the target-selection flags every command shares.
type connFlags struct {
	configPath  string
	host        string
	port        int
	username    string
	password    string
	askPassword bool
	websocket   string
	width       int
	height      int
	timeout     time.Duration
	verbose     bool
}

func (c *connFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "TOML config file to load")
	fs.StringVar(&c.host, "host", "", "target host (overrides config and RFBRIDGE_HOST)")
	fs.IntVar(&c.port, "port", 0, "target port (default 5900)")
	fs.StringVar(&c.username, "username", "", "username for VeNCrypt Plain authentication")
	fs.StringVar(&c.password, "password", "", "password for authentication")
	fs.BoolVar(&c.askPassword, "ask-password", false, "prompt for the password instead of taking it from flags or config")
	fs.StringVar(&c.websocket, "websocket", "", "dial a websockify endpoint (ws:// or wss://) instead of TCP")
	fs.IntVar(&c.width, "width", 0, "reference width coordinates and screenshots use")
	fs.IntVar(&c.height, "height", 0, "reference height coordinates and screenshots use")
	fs.DurationVar(&c.timeout, "timeout", 30*time.Second, "overall action timeout")
	fs.BoolVarP(&c.verbose, "verbose", "v", false, "log protocol detail to stderr")
}

// newFlagSet builds a command's flag set with the shared flags attached.
func newFlagSet(name string, conn *connFlags) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	conn.register(fs)
	return fs
}

// parseFlags parses args and reports whether the command should stop
// because help was requested.
func parseFlags(fs *pflag.FlagSet, args []string) (bool, error) {
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// bridge resolves the layered configuration and builds the Bridge the
// command runs its action on.
func (c *connFlags) bridge() (*bridge.Bridge, error) {
	cfg, err := bridge.LoadConfig(c.configPath)
	if err != nil {
		return nil, err
	}
	if c.host != "" {
		cfg.Target.Host = c.host
	}
	if c.port != 0 {
		cfg.Target.Port = c.port
	}
	if c.username != "" {
		cfg.Target.Username = c.username
	}
	if c.password != "" {
		cfg.Target.Password = c.password
	}
	if c.width != 0 {
		cfg.Capture.TargetWidth = c.width
	}
	if c.height != 0 {
		cfg.Capture.TargetHeight = c.height
	}
	if c.askPassword {
		password, err := promptPassword()
		if err != nil {
			return nil, err
		}
		cfg.Target.Password = password
	}
	if cfg.Target.Host == "" && c.websocket == "" {
		return nil, errors.New("no target: set --host, RFBRIDGE_HOST, or [target] host in a config file")
	}

	var opts []bridge.Option
	if c.verbose {
		opts = append(opts, bridge.WithLogger(rfb.NewDevelopmentLogger(zapcore.DebugLevel)))
	}
	if c.websocket != "" {
		url := c.websocket
		opts = append(opts, bridge.WithDialer(func(ctx context.Context) (net.Conn, error) {
			return bridge.DialWebsocket(ctx, url)
		}))
	}
	return bridge.New(cfg, opts...), nil
}

// actionContext bounds one command's whole action, connect included.
func (c *connFlags) actionContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}

// promptPassword reads the password from the terminal with echo off.
func promptPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no terminal available for the password prompt (use --password or RFBRIDGE_PASSWORD)")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", errors.Wrap(err, "read password")
	}
	return string(password), nil
}

// coordArgs parses the command's positional arguments as integers.
func coordArgs(fs *pflag.FlagSet, want int) ([]int, error) {
	args := fs.Args()
	if len(args) != want {
		return nil, errors.Errorf("expected %d coordinate arguments, got %d", want, len(args))
	}
	coords := make([]int, len(args))
	for i, arg := range args {
		value, err := strconv.Atoi(arg)
		if err != nil {
			return nil, errors.Errorf("coordinate %q is not an integer", arg)
		}
		coords[i] = value
	}
	return coords, nil
}

func cmdScreenshot(args []string) error {
	var conn connFlags
	fs := newFlagSet("screenshot", &conn)
	output := fs.StringP("output", "o", "screen.png", `write the PNG here ("-" for stdout)`)
	if stop, err := parseFlags(fs, args); stop || err != nil {
		return err
	}
	if len(fs.Args()) != 0 {
		return errors.Errorf("screenshot takes no arguments, got %q", fs.Args())
	}

	br, err := conn.bridge()
	if err != nil {
		return err
	}
	ctx, cancel := conn.actionContext()
	defer cancel()

	shot, err := br.CaptureScreen(ctx)
	if err != nil {
		return err
	}
	if *output == "-" {
		_, err := os.Stdout.Write(shot.PNG)
		return err
	}
	if err := os.WriteFile(*output, shot.PNG, 0o600); err != nil {
		return errors.Wrapf(err, "write %s", *output)
	}
	fmt.Fprintf(os.Stderr, "captured %dx%d (source %dx%d) to %s\n",
		shot.Width, shot.Height, shot.SourceWidth, shot.SourceHeight, *output)
	return nil
}

func cmdClick(args []string) error {
	var conn connFlags
	fs := newFlagSet("click", &conn)
	button := fs.Uint8("button", 1, "mouse button (1 left, 2 middle, 3 right)")
	double := fs.Bool("double", false, "click twice, paced as a double click")
	if stop, err := parseFlags(fs, args); stop || err != nil {
		return err
	}
	coords, err := coordArgs(fs, 2)
	if err != nil {
		return err
	}

	br, err := conn.bridge()
	if err != nil {
		return err
	}
	ctx, cancel := conn.actionContext()
	defer cancel()

	if *double {
		return br.DoubleClick(ctx, coords[0], coords[1], *button)
	}
	return br.Click(ctx, coords[0], coords[1], *button)
}

func cmdMove(args []string) error {
	var conn connFlags
	fs := newFlagSet("move", &conn)
	if stop, err := parseFlags(fs, args); stop || err != nil {
		return err
	}
	coords, err := coordArgs(fs, 2)
	if err != nil {
		return err
	}

	br, err := conn.bridge()
	if err != nil {
		return err
	}
	ctx, cancel := conn.actionContext()
	defer cancel()

	return br.MoveMouse(ctx, coords[0], coords[1])
}

func cmdDrag(args []string) error {
	var conn connFlags
	fs := newFlagSet("drag", &conn)
	button := fs.Uint8("button", 1, "mouse button held during the drag")
	if stop, err := parseFlags(fs, args); stop || err != nil {
		return err
	}
	coords, err := coordArgs(fs, 4)
	if err != nil {
		return err
	}

	br, err := conn.bridge()
	if err != nil {
		return err
	}
	ctx, cancel := conn.actionContext()
	defer cancel()

	return br.Drag(ctx, coords[0], coords[1], coords[2], coords[3], *button)
}

func cmdScroll(args []string) error {
	var conn connFlags
	fs := newFlagSet("scroll", &conn)
	direction := fs.String("direction", "down", `scroll direction ("up" or "down")`)
	clicks := fs.Int("clicks", 1, "wheel clicks to send")
	if stop, err := parseFlags(fs, args); stop || err != nil {
		return err
	}
	coords, err := coordArgs(fs, 2)
	if err != nil {
		return err
	}

	var up bool
	switch *direction {
	case "up":
		up = true
	case "down":
		up = false
	default:
		return errors.Errorf(`direction %q is not "up" or "down"`, *direction)
	}

	br, err := conn.bridge()
	if err != nil {
		return err
	}
	ctx, cancel := conn.actionContext()
	defer cancel()

	return br.Scroll(ctx, coords[0], coords[1], up, *clicks)
}

func cmdType(args []string) error {
	var conn connFlags
	fs := newFlagSet("type", &conn)
	if stop, err := parseFlags(fs, args); stop || err != nil {
		return err
	}
	text := strings.Join(fs.Args(), " ")
	if text == "" {
		return errors.New("nothing to type")
	}

	br, err := conn.bridge()
	if err != nil {
		return err
	}
	ctx, cancel := conn.actionContext()
	defer cancel()

	return br.TypeText(ctx, text)
}

func cmdKeys(name, example string, args []string) error {
	var conn connFlags
	fs := newFlagSet(name, &conn)
	if stop, err := parseFlags(fs, args); stop || err != nil {
		return err
	}
	if len(fs.Args()) != 1 {
		return errors.Errorf("%s takes one argument, for example %q", name, example)
	}

	br, err := conn.bridge()
	if err != nil {
		return err
	}
	ctx, cancel := conn.actionContext()
	defer cancel()

	return br.PressKeys(ctx, fs.Args()[0])
}

func cmdInfo(args []string) error {
	var conn connFlags
	fs := newFlagSet("info", &conn)
	if stop, err := parseFlags(fs, args); stop || err != nil {
		return err
	}
	if len(fs.Args()) != 0 {
		return errors.Errorf("info takes no arguments, got %q", fs.Args())
	}

	br, err := conn.bridge()
	if err != nil {
		return err
	}
	ctx, cancel := conn.actionContext()
	defer cancel()

	info, err := br.Info(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("desktop:  %s\n", info.DesktopName)
	fmt.Printf("address:  %s\n", info.Addr)
	fmt.Printf("size:     %dx%d\n", info.Width, info.Height)
	fmt.Printf("protocol: %s\n", info.ProtocolVersion)
	return nil
}

func printUsage() {
	fmt.Fprint(os.Stderr, `rfbridge drives a remote desktop over RFB from the command line.

Every command opens a fresh session against the target, performs its
action, and disconnects. Coordinates are given in the reference
resolution (1366x768 unless configured otherwise) and scaled to the
target's real display mode; screenshots come back scaled the same way.

The target comes from --host and --port flags, RFBRIDGE_* environment
variables, or a TOML config file given with --config, in that order of
precedence.

Usage:
  rfbridge <command> [flags] [arguments]

Commands:
  screenshot            capture the screen to a PNG file
  click <x> <y>         click a mouse button (--button, --double)
  move <x> <y>          move the pointer
  drag <x1> <y1> <x2> <y2>
                        drag with a button held
  scroll <x> <y>        roll the scroll wheel (--direction, --clicks)
  type <text>...        type literal text
  key <name>            press one named key, for example enter
  keys <combination>    press a combination, for example ctrl+shift+t
  info                  print the target's identity and display mode
  help                  show this message

Run "rfbridge <command> --help" for the command's flags.
`)
}
