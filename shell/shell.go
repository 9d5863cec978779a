// Package shell implements the line-oriented command surface over TagFS and
// the task scheduler. It owns the keyboard ring buffer and the ASCII
// command-line grammar: tokens are split on spaces and tabs, and a tag
// literal has the form key:value, split on the first colon.
package shell

import (
	"boxos/fs/tagfs"
	"boxos/kernel/cpu"
	"boxos/kernel/kfmt"
	"boxos/kernel/task"
	"io"
	"strings"
)

// adminCredentials is the fixed credential store backing login. A real
// multi-user account database is out of scope; this is enough to gate the
// admin-only commands behind an authenticated session.
var adminCredentials = map[string]string{
	"admin": "boxos",
}

// Shell holds one interactive session's state: its output surface, the
// mounted filesystem, the shared keyboard input, and whether a user has
// authenticated.
type Shell struct {
	out  io.Writer
	fs   *tagfs.Context
	kbd  *keyboard
	line []byte

	loggedIn bool
	user     string

	haltFn func()
}

// New creates a shell writing to out and operating on fs. Call Start to run
// it as its own task once the scheduler and keyboard IRQ are wired up.
func New(out io.Writer, fs *tagfs.Context) *Shell {
	return &Shell{
		out:    out,
		fs:     fs,
		kbd:    newKeyboard(),
		haltFn: cpu.Halt,
	}
}

// defaultShell is the session task.Create hands off to, since task entry
// points take no arguments.
var defaultShell *Shell

// Start attaches the keyboard IRQ handler and spawns the shell as a task at
// the given priority.
func Start(out io.Writer, fs *tagfs.Context, priority uint8) {
	defaultShell = New(out, fs)
	defaultShell.kbd.attach()
	task.Create(runDefaultShell, priority)
}

func runDefaultShell() {
	defaultShell.Run()
}

// Run drains the keyboard ring buffer one line at a time, dispatching each
// completed line to the command table. It never returns.
func (s *Shell) Run() {
	s.banner()
	for {
		b := s.readByte()
		switch b {
		case '\n':
			io.WriteString(s.out, "\n")
			s.execute(string(s.line))
			s.line = s.line[:0]
			s.prompt()
		case '\b':
			if len(s.line) > 0 {
				s.line = s.line[:len(s.line)-1]
				io.WriteString(s.out, "\b \b")
			}
		default:
			s.line = append(s.line, b)
			s.out.Write([]byte{b})
		}
	}
}

// readByte blocks until the keyboard ring buffer has a byte, halting
// between polls so the CPU wakes on the next interrupt instead of spinning.
func (s *Shell) readByte() byte {
	for !s.kbd.in.hasData() {
		s.haltFn()
	}
	b, _ := s.kbd.in.pop()
	return b
}

func (s *Shell) banner() {
	io.WriteString(s.out, "BoxOS shell. Type help for the command list.\n")
	s.prompt()
}

func (s *Shell) prompt() {
	if s.loggedIn {
		io.WriteString(s.out, s.user+"> ")
		return
	}
	io.WriteString(s.out, "> ")
}

// execute tokenizes and dispatches a single command line.
func (s *Shell) execute(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}

	cmd, ok := commands[fields[0]]
	if !ok {
		s.printf("unknown command: %s\n", fields[0])
		return
	}
	if cmd.adminOnly && !s.loggedIn {
		s.printf("%s: login required\n", fields[0])
		return
	}
	cmd.run(s, fields[1:])
}

func (s *Shell) printf(format string, args ...interface{}) {
	kfmt.Fprintf(s.out, format, args...)
}

// splitTag splits a key:value tag literal on its first colon.
func splitTag(literal string) (tagfs.Tag, bool) {
	idx := strings.IndexByte(literal, ':')
	if idx < 0 {
		return tagfs.Tag{}, false
	}
	return tagfs.Tag{Key: literal[:idx], Value: literal[idx+1:]}, true
}
