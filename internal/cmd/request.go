package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mindney/mindney-go/pkg/client"
)

var (
	requestBody    string
	requestTimeout time.Duration
	outputFormat   string
	dataOnly       bool
)

var requestCmd = &cobra.Command{
	Use:   "request <prompt>...",
	Short: "Send a single prompt and print the reply",
	Long: `Send one request to the Mindney service and print the reply envelope.

The prompt is the remaining arguments joined by spaces. --body attaches a
JSON value as the request body.

Examples:
  mindney request "Summarize this" --body '{"text": "..."}'
  mindney request -o yaml --data-only "Classify" --body '"some input"'
  mindney request --timeout 30s "Hello"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRequest,
}

func init() {
	rootCmd.AddCommand(requestCmd)

	requestCmd.Flags().StringVarP(&requestBody, "body", "b", "", "JSON request body")
	requestCmd.Flags().DurationVarP(&requestTimeout, "timeout", "t", 0, "Give up after this long (default: wait indefinitely)")
	requestCmd.Flags().StringVarP(&outputFormat, "output", "o", "json", "Output format: json or yaml")
	requestCmd.Flags().BoolVar(&dataOnly, "data-only", false, "Print only the data field of the reply")
}

func runRequest(cmd *cobra.Command, args []string) error {
	body, err := parseBody(requestBody)
	if err != nil {
		return err
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, requestTimeout)
		defer cancel()
	}

	c, err := newClient(profile)
	if err != nil {
		return err
	}
	defer c.Close()

	msg, err := c.Request(ctx, strings.Join(args, " "), body)
	if err != nil {
		return err
	}
	return printMessage(cmd.OutOrStdout(), msg, outputFormat, dataOnly)
}

// parseBody returns nil for an empty string, otherwise the JSON value in s.
func parseBody(s string) (any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if !json.Valid([]byte(s)) {
		return nil, fmt.Errorf("body is not valid JSON: %s", s)
	}
	return json.RawMessage(s), nil
}

// printMessage renders a reply envelope as JSON or YAML.
func printMessage(w io.Writer, msg *client.Message[json.RawMessage], format string, dataOnly bool) error {
	var v any
	if dataOnly {
		v = msg.Data
	} else {
		v = msg
	}

	switch format {
	case "json", "":
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(out))
		return err
	case "yaml":
		// Round-trip through a generic value so yaml sees the decoded data.
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		out, err := yaml.Marshal(generic)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	default:
		return fmt.Errorf("unknown output format %q (want json or yaml)", format)
	}
}
