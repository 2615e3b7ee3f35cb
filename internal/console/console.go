// Package console is the interactive terminal front end of the daemon. Lines
// typed at the prompt travel through the event stream as [jami.Input] so
// they are handled in order with daemon signals.
package console

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"charm.land/lipgloss/v2"
	"github.com/chzyer/readline"
	"golang.org/x/term"
	"tools.zach/dev/jamibus/internal/jami"
)

// Injector accepts locally produced events. *jami.EventChannel satisfies it.
type Injector interface {
	Input(v any)
	Resize()
}

// Options configures a [Console].
type Options struct {
	HistoryFile  string
	HistoryLimit int
	Stdin        io.ReadCloser
	Stdout       io.Writer
	// Width reports the terminal width; defaults to querying stdout.
	Width func() int
	Log   *slog.Logger
}

// Console reads command lines and prints rendered events.
type Console struct {
	rl      *readline.Instance
	out     io.Writer
	session *Session
	inject  Injector
	widthFn func() int
	log     *slog.Logger

	// mu serializes writes so lines never interleave.
	mu    sync.Mutex
	width atomic.Int32
}

// IsTerminal reports whether stdin is attached to a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func stdoutWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return DefaultWidth
	}
	return w
}

// New creates a console bound to session that injects lines into in.
func New(session *Session, in Injector, opts Options) (*Console, error) {
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Width == nil {
		opts.Width = stdoutWidth
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            session.Prompt(),
		HistoryFile:       opts.HistoryFile,
		HistoryLimit:      opts.HistoryLimit,
		HistorySearchFold: true,
		InterruptPrompt:   "^C",
		Stdin:             opts.Stdin,
		Stdout:            opts.Stdout,
		Stderr:            opts.Stdout,
		FuncGetWidth:      opts.Width,
		FuncIsTerminal:    IsTerminal,
	})
	if err != nil {
		return nil, err
	}
	c := newConsole(session, in, rl.Stdout(), opts.Width, opts.Log)
	c.rl = rl
	return c, nil
}

func newConsole(session *Session, in Injector, out io.Writer, width func() int, log *slog.Logger) *Console {
	if log == nil {
		log = slog.Default()
	}
	c := &Console{
		out:     out,
		session: session,
		inject:  in,
		widthFn: width,
		log:     log,
	}
	c.width.Store(int32(width()))
	return c
}

// ReadLoop forwards typed lines until ctx is cancelled or input ends. End of
// input is forwarded as /quit.
func (c *Console) ReadLoop(ctx context.Context) {
	for ctx.Err() == nil {
		line, err := c.rl.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			continue
		case errors.Is(err, io.EOF):
			c.inject.Input("/quit")
			return
		case err != nil:
			if ctx.Err() == nil {
				c.log.Warn("console read failed", "error", err)
				c.inject.Input("/quit")
			}
			return
		}
		if line != "" {
			c.inject.Input(line)
		}
	}
}

// Handle renders ev or, for typed lines, executes them. It reports whether
// the user asked to quit.
func (c *Console) Handle(ctx context.Context, ev jami.Event) bool {
	switch e := ev.(type) {
	case jami.Resize:
		c.width.Store(int32(c.widthFn()))
		return false
	case jami.Input:
		line, ok := e.Value.(string)
		if !ok {
			return false
		}
		out, err := c.session.Execute(ctx, line)
		if errors.Is(err, ErrQuit) {
			return true
		}
		width := c.Width()
		for _, l := range out {
			c.Print(Line(StyleDim, "", l, width))
		}
		if err != nil {
			c.Print(Line(StyleError, "error", err.Error(), width))
		}
		if c.rl != nil {
			c.rl.SetPrompt(c.session.Prompt())
		}
		return false
	}
	if line := Render(ev, c.Width()); line != "" {
		c.Print(line)
	}
	return false
}

// Width returns the last known terminal width.
func (c *Console) Width() int { return int(c.width.Load()) }

// Print writes lines above the prompt.
func (c *Console) Print(lines ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range lines {
		lipgloss.Fprintln(c.out, l)
	}
}

// Close restores the terminal.
func (c *Console) Close() error {
	if c.rl == nil {
		return nil
	}
	return c.rl.Close()
}
