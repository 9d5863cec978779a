package shell

import (
	"boxos/fs/tagfs"
	"boxos/kernel/cpu"
)

type command struct {
	usage     string
	adminOnly bool
	run       func(s *Shell, args []string)
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"help":    {usage: "help", run: cmdHelp},
		"clear":   {usage: "clear", run: cmdClear},
		"ls":      {usage: "ls", run: cmdLS},
		"create":  {usage: "create <name> [--data <text>] [k:v]*", run: cmdCreate},
		"eye":     {usage: "eye <name>", run: cmdEye},
		"trash":   {usage: "trash <name>", run: cmdTrash},
		"restore": {usage: "restore <name>", run: cmdRestore},
		"erase":   {usage: "erase <name>", adminOnly: true, run: cmdErase},
		"tag":     {usage: "tag <name> <k:v>", run: cmdTag},
		"untag":   {usage: "untag <name> <k>", run: cmdUntag},
		"use":     {usage: "use <k:v>* | use clear", run: cmdUse},
		"info":    {usage: "info", run: cmdInfo},
		"login":   {usage: "login <user> <pw>", run: cmdLogin},
		"whoami":  {usage: "whoami", run: cmdWhoami},
		"reboot":  {usage: "reboot", adminOnly: true, run: cmdReboot},
		"byebye":  {usage: "byebye", adminOnly: true, run: cmdByebye},
	}
}

func cmdHelp(s *Shell, _ []string) {
	for _, name := range []string{"help", "clear", "ls", "create", "eye", "trash", "restore", "erase", "tag", "untag", "use", "info", "login", "whoami", "reboot", "byebye"} {
		s.printf("  %s\n", commands[name].usage)
	}
}

// cmdClear scrolls the terminal clear of prior output. Direct console
// clearing is a framebuffer-rendering concern the shell doesn't own.
func cmdClear(s *Shell, _ []string) {
	for i := 0; i < 48; i++ {
		s.out.Write([]byte{'\n'})
	}
}

func cmdLS(s *Shell, _ []string) {
	ids := s.fs.QueryWithContext(nil, 0)
	if len(ids) == 0 {
		s.printf("(no files)\n")
		return
	}
	for _, id := range ids {
		s.printf("%d\t%s\n", id, displayName(s.fs, id))
	}
}

func cmdCreate(s *Shell, args []string) {
	if len(args) == 0 {
		s.printf("create: missing name\n")
		return
	}
	name := args[0]
	tags := []tagfs.Tag{{Key: tagfs.TagName, Value: name}}
	var data []byte

	rest := args[1:]
	for i := 0; i < len(rest); i++ {
		switch {
		case rest[i] == "--data" && i+1 < len(rest):
			i++
			data = []byte(rest[i])
		default:
			if t, ok := splitTag(rest[i]); ok {
				tags = append(tags, t)
			}
		}
	}

	id, err := s.fs.Create(tags, data)
	if err != nil {
		s.printf("create: %s\n", err.Error())
		return
	}
	s.printf("created %s (id %d)\n", name, id)
}

func cmdEye(s *Shell, args []string) {
	id, ok := s.resolveName(args)
	if !ok {
		return
	}
	data, err := s.fs.ReadContent(id)
	if err != nil {
		s.printf("eye: %s\n", err.Error())
		return
	}
	s.out.Write(data)
	s.out.Write([]byte{'\n'})
}

func cmdTrash(s *Shell, args []string) {
	id, ok := s.resolveName(args)
	if !ok {
		return
	}
	if err := s.fs.Trash(id); err != nil {
		s.printf("trash: %s\n", err.Error())
		return
	}
	s.printf("trashed %s\n", args[0])
}

func cmdRestore(s *Shell, args []string) {
	id, ok := s.resolveName(args)
	if !ok {
		return
	}
	if err := s.fs.Restore(id); err != nil {
		s.printf("restore: %s\n", err.Error())
		return
	}
	s.printf("restored %s\n", args[0])
}

func cmdErase(s *Shell, args []string) {
	id, ok := s.resolveName(args)
	if !ok {
		return
	}
	if err := s.fs.Erase(id); err != nil {
		s.printf("erase: %s\n", err.Error())
		return
	}
	s.printf("erased %s\n", args[0])
}

func cmdTag(s *Shell, args []string) {
	if len(args) < 2 {
		s.printf("tag: usage: tag <name> <k:v>\n")
		return
	}
	id, ok := s.resolveName(args[:1])
	if !ok {
		return
	}
	t, ok := splitTag(args[1])
	if !ok {
		s.printf("tag: %q is not a key:value literal\n", args[1])
		return
	}
	if err := s.fs.AddTag(id, t); err != nil {
		s.printf("tag: %s\n", err.Error())
		return
	}
	s.printf("tagged %s with %s\n", args[0], args[1])
}

func cmdUntag(s *Shell, args []string) {
	if len(args) < 2 {
		s.printf("untag: usage: untag <name> <k>\n")
		return
	}
	id, ok := s.resolveName(args[:1])
	if !ok {
		return
	}
	if err := s.fs.RemoveTag(id, args[1]); err != nil {
		s.printf("untag: %s\n", err.Error())
		return
	}
	s.printf("untagged %s from %s\n", args[1], args[0])
}

func cmdUse(s *Shell, args []string) {
	if len(args) == 1 && args[0] == "clear" {
		s.fs.ContextClear()
		s.printf("context cleared\n")
		return
	}
	var tags []tagfs.Tag
	for _, a := range args {
		t, ok := splitTag(a)
		if !ok {
			s.printf("use: %q is not a key:value literal\n", a)
			return
		}
		tags = append(tags, t)
	}
	s.fs.ContextSet(tags)
	s.printf("context set (%d filter%s)\n", len(tags), plural(len(tags)))
}

func cmdInfo(s *Shell, _ []string) {
	s.printf("user: %s\n", s.currentUser())
	ids := s.fs.QueryWithContext(nil, 0)
	s.printf("visible files: %d\n", len(ids))
}

func cmdLogin(s *Shell, args []string) {
	if len(args) != 2 {
		s.printf("login: usage: login <user> <pw>\n")
		return
	}
	pw, ok := adminCredentials[args[0]]
	if !ok || pw != args[1] {
		s.printf("login: authentication failed\n")
		return
	}
	s.loggedIn = true
	s.user = args[0]
	s.printf("welcome, %s\n", args[0])
}

func cmdWhoami(s *Shell, _ []string) {
	s.printf("%s\n", s.currentUser())
}

// legacy-shutdown ports and their documented magic values, tried in order
// for reboot/poweroff since the running hypervisor isn't known in advance.
const (
	shutdownPortQEMU       = 0x604
	shutdownPortQEMUOld    = 0xB004
	shutdownPortVirtualBox = 0x4004
	shutdownMagicQEMU      = 0x2000
	shutdownMagicVBox      = 0x3400
	keyboardControllerPort = 0x64
	keyboardResetCommand   = 0xFE
)

func cmdReboot(s *Shell, _ []string) {
	s.printf("rebooting...\n")
	cpu.Out8(keyboardControllerPort, keyboardResetCommand)
}

func cmdByebye(s *Shell, _ []string) {
	s.printf("shutting down...\n")
	cpu.Out16(shutdownPortQEMU, shutdownMagicQEMU)
	cpu.Out16(shutdownPortQEMUOld, shutdownMagicQEMU)
	cpu.Out16(shutdownPortVirtualBox, shutdownMagicVBox)
}

func (s *Shell) currentUser() string {
	if !s.loggedIn {
		return "(not logged in)"
	}
	return s.user
}

// resolveName looks up the inode id for a name, searching trashed inodes
// too so restore can find what it needs. It reports the failure itself so
// every caller can just bail out on !ok.
func (s *Shell) resolveName(args []string) (uint64, bool) {
	if len(args) == 0 {
		s.printf("missing name\n")
		return 0, false
	}
	name := args[0]
	if ids := s.fs.Query([]tagfs.Tag{{Key: tagfs.TagName, Value: name}}, 1); len(ids) == 1 {
		return ids[0], true
	}
	if ids := s.fs.Query([]tagfs.Tag{{Key: tagfs.TagName, Value: name}, {Key: tagfs.TagTrashed, Value: "true"}}, 1); len(ids) == 1 {
		return ids[0], true
	}
	s.printf("no such file: %s\n", name)
	return 0, false
}

func displayName(fs *tagfs.Context, id uint64) string {
	tags, err := fs.Tags(id)
	if err != nil {
		return "?"
	}
	for _, t := range tags {
		if t.Key == tagfs.TagName {
			return t.Value
		}
	}
	return "?"
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
