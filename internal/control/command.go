// Package control turns operator text commands into orchestrator calls and
// hosts the surfaces those commands arrive on.
package control

import "strings"

// Command is a parsed operator command.
type Command string

const (
	CmdStart     Command = "start"
	CmdStatus    Command = "status"
	CmdStop      Command = "stop"
	CmdEndpoints Command = "list-endpoints"
	CmdHelp      Command = "help"
)

var aliases = map[string]Command{
	"start":          CmdStart,
	"run":            CmdStart,
	"status":         CmdStatus,
	"stop":           CmdStop,
	"list-endpoints": CmdEndpoints,
	"endpoints":      CmdEndpoints,
	"webhooks":       CmdEndpoints,
	"help":           CmdHelp,
}

// ParseCommand extracts a command from text such as "/start", "!status" or
// "webhooks". Telegram-style "@botname" suffixes and trailing arguments are
// ignored. ok is false for anything that is not a known command.
func ParseCommand(text string) (Command, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", false
	}
	word := strings.ToLower(fields[0])
	word = strings.TrimLeft(word, "/!")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	cmd, ok := aliases[word]
	return cmd, ok
}

const helpText = `Commands (prefix with / or ! or none):
  start           begin a mirror run
  status          show the current run and counters
  stop            stop the run after in-flight messages
  webhooks        list webhooks created by the current or last run
  help            show this message`
