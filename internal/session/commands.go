package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownCommand = errors.New("unknown command")

type CommandKind int

const (
	CmdText CommandKind = iota
	CmdSend
	CmdMedia
	CmdHelp
	CmdQuit
)

// Command is one line typed by the user.
type Command struct {
	Kind CommandKind
	Arg  string
}

// HelpText lists the slash commands.
const HelpText = `/send <path>  send a file or directory (directories are zipped)
/media        start sending synthetic audio and video
/help         show this help
/quit         leave the room`

// ParseCommand turns an input line into a Command. Lines not starting with
// "/" are chat text; "//" escapes a leading slash.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{}, fmt.Errorf("%w: empty input", ErrUnknownCommand)
	}
	if !strings.HasPrefix(line, "/") {
		return Command{Kind: CmdText, Arg: line}, nil
	}
	if strings.HasPrefix(line, "//") {
		return Command{Kind: CmdText, Arg: line[1:]}, nil
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(name) {
	case "send", "s":
		if arg == "" {
			return Command{}, errors.New("usage: /send <path>")
		}
		return Command{Kind: CmdSend, Arg: arg}, nil
	case "media":
		return Command{Kind: CmdMedia}, nil
	case "help", "?":
		return Command{Kind: CmdHelp}, nil
	case "quit", "q", "exit":
		return Command{Kind: CmdQuit}, nil
	default:
		return Command{}, fmt.Errorf("%w: /%s", ErrUnknownCommand, name)
	}
}

// Execute runs cmd against the session. CmdHelp and CmdQuit are left to
// the caller.
func (s *Session) Execute(ctx context.Context, cmd Command) error {
	switch cmd.Kind {
	case CmdText:
		return s.SendText(cmd.Arg)
	case CmdSend:
		return s.SendFile(ctx, cmd.Arg)
	case CmdMedia:
		return s.AddMedia(ctx)
	case CmdHelp, CmdQuit:
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrUnknownCommand, cmd.Kind)
	}
}
