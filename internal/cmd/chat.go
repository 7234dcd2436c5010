package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/shlex"
	"github.com/reeflective/readline"
	"github.com/spf13/cobra"

	"github.com/mindney/mindney-go/pkg/client"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive prompt loop over one session",
	Long: `Open a session and send each line you type as a prompt.

The connection stays open between prompts. A body set with /body is
attached to every following prompt until /clear.

Commands:
  /body {"k": 1}     - Set the body from a JSON value
  /body k=v n=2      - Set an object body from key=value pairs
  /body              - Show the current body
  /clear             - Remove the body
  /status            - Show the endpoint and connection state
  /quit, /exit, /q   - Exit
  /help, /h, /?      - Show available commands`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVarP(&outputFormat, "output", "o", "json", "Output format: json or yaml")
	chatCmd.Flags().BoolVar(&dataOnly, "data-only", false, "Print only the data field of each reply")
}

// requester is the part of *client.Client the chat loop needs.
type requester interface {
	Request(ctx context.Context, prompt string, body any) (*client.Message[json.RawMessage], error)
	Connected() bool
	Endpoint() string
}

// chatSession holds REPL state between lines.
type chatSession struct {
	c        requester
	out      io.Writer
	body     any
	format   string
	dataOnly bool
}

// errQuit ends the loop.
var errQuit = errors.New("quit")

func runChat(cmd *cobra.Command, args []string) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := newClient(profile)
	if err != nil {
		return err
	}
	defer c.Close()

	s := &chatSession{c: c, out: cmd.OutOrStdout(), format: outputFormat, dataOnly: dataOnly}

	rl := readline.NewShell()
	rl.Prompt.Primary(func() string { return "mindney> " })
	rl.History.Add("default", readline.NewInMemoryHistory())
	rl.Completer = func(line []rune, cursor int) readline.Completions {
		return completeInput(string(line), cursor)
	}

	fmt.Fprintf(s.out, "Connected to %s. Type a prompt, /help for commands.\n", c.Endpoint())

	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, readline.ErrInterrupt) {
				return nil
			}
			return err
		}
		if err := s.handleLine(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}
}

// handleLine runs a slash command or sends line as a prompt.
func (s *chatSession) handleLine(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if strings.HasPrefix(line, "/") {
		return s.handleCommand(line)
	}

	msg, err := s.c.Request(ctx, line, s.body)
	if err != nil {
		var aiErr *client.AIError
		if errors.As(err, &aiErr) {
			return fmt.Errorf("service returned %d: %s", aiErr.Code, aiErr.Message)
		}
		return err
	}
	return printMessage(s.out, msg, s.format, s.dataOnly)
}

func (s *chatSession) handleCommand(line string) error {
	name, rest, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	switch strings.ToLower(name) {
	case "quit", "exit", "q":
		return errQuit
	case "help", "h", "?":
		printHelp(s.out)
	case "clear":
		s.body = nil
		fmt.Fprintln(s.out, "body cleared")
	case "status":
		state := "disconnected"
		if s.c.Connected() {
			state = "connected"
		}
		fmt.Fprintf(s.out, "%s (%s)\n", s.c.Endpoint(), state)
	case "body":
		if strings.TrimSpace(rest) == "" {
			return s.showBody()
		}
		body, err := parseBodyArgs(rest)
		if err != nil {
			return err
		}
		s.body = body
		return s.showBody()
	default:
		return fmt.Errorf("unknown command /%s (use /help for available commands)", name)
	}
	return nil
}

func (s *chatSession) showBody() error {
	if s.body == nil {
		fmt.Fprintln(s.out, "no body")
		return nil
	}
	out, err := json.Marshal(s.body)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "body: %s\n", out)
	return nil
}

// parseBodyArgs accepts a JSON object or array, a single value, or
// shell-quoted key=value pairs. Values that are valid JSON keep their type;
// anything else is a string.
func parseBodyArgs(args string) (any, error) {
	trimmed := strings.TrimSpace(args)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return parseBody(trimmed)
	}

	fields, err := shlex.Split(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse body: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	if len(fields) == 1 && !strings.Contains(fields[0], "=") {
		return jsonOrString(fields[0]), nil
	}

	obj := make(map[string]any, len(fields))
	for _, f := range fields {
		k, v, ok := strings.Cut(f, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", f)
		}
		obj[k] = jsonOrString(v)
	}
	return obj, nil
}

func jsonOrString(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

// slashCommands defines the available slash commands with their descriptions.
var slashCommands = []struct {
	name        string
	description string
}{
	{"/body", "Set or show the request body"},
	{"/clear", "Remove the request body"},
	{"/status", "Show endpoint and connection state"},
	{"/help", "Show available commands"},
	{"/h", "Show available commands (alias)"},
	{"/?", "Show available commands (alias)"},
	{"/quit", "Exit"},
	{"/exit", "Exit (alias)"},
	{"/q", "Exit (alias)"},
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, `
Available commands:
  /body <json|k=v...>  - Set the body sent with each prompt
  /body                - Show the current body
  /clear               - Remove the body
  /status              - Show endpoint and connection state
  /quit, /exit, /q     - Exit
  /help, /h, /?        - Show this help message

Anything else is sent as a prompt. Ctrl+D exits.`)
}

// matchCommands returns the slash commands starting with the text before cursor.
func matchCommands(line string, cursor int) (names, descriptions []string) {
	if cursor > len(line) {
		cursor = len(line)
	}
	text := line[:cursor]
	if !strings.HasPrefix(text, "/") || strings.Contains(text, " ") {
		return nil, nil
	}
	for _, cmd := range slashCommands {
		if strings.HasPrefix(cmd.name, text) {
			names = append(names, cmd.name)
			descriptions = append(descriptions, cmd.description)
		}
	}
	return names, descriptions
}

// completeInput provides tab completion for slash commands.
func completeInput(line string, cursor int) readline.Completions {
	names, descriptions := matchCommands(line, cursor)
	if len(names) == 0 {
		return readline.Completions{}
	}
	pairs := make([]string, 0, len(names)*2)
	for i, name := range names {
		pairs = append(pairs, name, descriptions[i])
	}
	return readline.CompleteValuesDescribed(pairs...).
		Tag("commands").
		NoSpace('/')
}
