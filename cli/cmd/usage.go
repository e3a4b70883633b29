package cmd

import (
	"fmt"

	"github.com/fatih/color"
)

var headerStyle = color.New(color.Bold, color.Underline) // Setting header style to use in usage message

// Custom usage template with the header style applied, here by itself
// because it looks kind of messy.
//
// Capsules has no subcommand tree: one invocation wraps exactly one build
// step, so there is no "capsule <subcommand>" form, no aliases, and no
// additional help topics to list, unlike a task runner with a command per
// verb. The template is trimmed to the three sections that can ever
// actually render for this command: usage line, examples, and the
// (considerable) flag set capsule itself defines.
var usageTemplate = fmt.Sprintf(`%s:
  {{.UseLine}}{{if .HasExample}}

%s:
{{.Example}}{{end}}{{if .HasAvailableLocalFlags}}

%s:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}
`,
	headerStyle.Sprint("Usage"), headerStyle.Sprint("Examples"), headerStyle.Sprint("Options"))
