package commands

import (
	"bytes"
	"errors"
	"strings"

	"github.com/spf13/cobra"
)

// Prefix is the token every bot command starts with.
const Prefix = "!otcbot"

var (
	// ErrNotCommand is returned when the tokens do not start with Prefix.
	ErrNotCommand = errors.New("not a bot command")

	errIncomplete = errors.New("missing subcommand or arguments")
)

// HasPrefix reports whether body is addressed to the bot.
func HasPrefix(body string) bool {
	return strings.HasPrefix(body, Prefix)
}

// Tokenize splits a message body on whitespace.
func Tokenize(body string) []string {
	return strings.Fields(body)
}

// Parse turns a tokenized message into a Command. Help requests and input
// that does not fit the grammar come back as a *HelpError. Parse has no side
// effects: a fresh command tree is built per call and all output is captured.
func Parse(tokens []string) (Command, error) {
	if len(tokens) == 0 || tokens[0] != Prefix {
		return nil, ErrNotCommand
	}

	var (
		parsed Command
		out    bytes.Buffer
	)
	root := newGrammar(&parsed)
	root.SetOut(&out)
	root.SetErr(&out)

	args := make([]string, 0, len(tokens)-1)
	args = append(args, tokens[1:]...)
	root.SetArgs(args)

	err := root.Execute()
	if err == nil && parsed != nil {
		return parsed, nil
	}

	if err == nil && isHelpRequest(args) {
		return nil, &HelpError{Text: strings.TrimSpace(out.String()), Explicit: true}
	}

	if err == nil {
		err = errIncomplete
	}
	return nil, &HelpError{Text: Usage(), Cause: err}
}

// Usage renders the help text of the whole grammar.
func Usage() string {
	var parsed Command
	var out bytes.Buffer

	root := newGrammar(&parsed)
	root.SetOut(&out)
	root.InitDefaultHelpCmd()
	root.InitDefaultHelpFlag()
	_ = root.Help()

	return strings.TrimSpace(out.String())
}

func isHelpRequest(args []string) bool {
	if len(args) > 0 && args[0] == "help" {
		return true
	}
	for _, a := range args {
		if a == "--help" || a == "-h" {
			return true
		}
	}
	return false
}

// newGrammar builds the command tree. Leaf commands store their result in
// *parsed instead of acting, which keeps parsing free of side effects.
func newGrammar(parsed *Command) *cobra.Command {
	root := &cobra.Command{
		Use:               Prefix,
		Short:             "An awesome OTC Bot",
		SilenceErrors:     true,
		SilenceUsage:      true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	}

	gm := &cobra.Command{
		Use:   "gm",
		Short: "Greet me",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			*parsed = Greet{}
			return nil
		},
	}

	party := &cobra.Command{
		Use:   "party",
		Short: "Party time",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			*parsed = Party{}
			return nil
		},
	}

	registry := &cobra.Command{
		Use:   "registry",
		Short: "Manage Container Registry",
	}

	importCmd := &cobra.Command{
		Use:   "import <IMAGE> <TAG>",
		Short: "Import image into registry",
		Long: "Import image into registry.\n\n" +
			"IMAGE is a key of the configured image mapping, TAG the image version.",
		Args: cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			*parsed = RegistryImport{Image: args[0], Tag: args[1]}
			return nil
		},
	}

	registry.AddCommand(importCmd)
	root.AddCommand(gm, party, registry)
	return root
}
