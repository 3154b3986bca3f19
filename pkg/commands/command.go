package commands

import "context"

// CommandKind names a parsed command for logs and metrics.
type CommandKind string

const (
	CommandKindGreet          CommandKind = "gm"
	CommandKindParty          CommandKind = "party"
	CommandKindRegistryImport CommandKind = "registry_import"
)

// Handler receives parsed commands. Adding a command means adding a method
// here, so every handler stops compiling until it covers the new case.
type Handler interface {
	HandleGreet(ctx context.Context, cmd Greet) error
	HandleParty(ctx context.Context, cmd Party) error
	HandleRegistryImport(ctx context.Context, cmd RegistryImport) error
}

// Command is the closed set of bot commands. The unexported method keeps
// implementations inside this package.
type Command interface {
	Kind() CommandKind
	Dispatch(ctx context.Context, h Handler) error
	sealed()
}

// Greet is `!otcbot gm`.
type Greet struct{}

func (Greet) Kind() CommandKind { return CommandKindGreet }

func (c Greet) Dispatch(ctx context.Context, h Handler) error { return h.HandleGreet(ctx, c) }

func (Greet) sealed() {}

// Party is `!otcbot party`.
type Party struct{}

func (Party) Kind() CommandKind { return CommandKindParty }

func (c Party) Dispatch(ctx context.Context, h Handler) error { return h.HandleParty(ctx, c) }

func (Party) sealed() {}

// RegistryImport is `!otcbot registry import <IMAGE> <TAG>`.
type RegistryImport struct {
	Image string
	Tag   string
}

func (RegistryImport) Kind() CommandKind { return CommandKindRegistryImport }

func (c RegistryImport) Dispatch(ctx context.Context, h Handler) error {
	return h.HandleRegistryImport(ctx, c)
}

func (RegistryImport) sealed() {}

// HelpError is returned by Parse instead of a Command when the input asks
// for help or does not match the grammar. Text is meant for the room.
type HelpError struct {
	Text string
	// Explicit is set for --help, -h and `help`; Text then only covers the
	// requested command. Otherwise Text is the help of the whole grammar.
	Explicit bool
	// Cause is the parse error, nil for explicit help.
	Cause error
}

func (e *HelpError) Error() string {
	if e.Cause != nil {
		return "invalid command: " + e.Cause.Error()
	}
	return "help requested"
}

func (e *HelpError) Unwrap() error { return e.Cause }
