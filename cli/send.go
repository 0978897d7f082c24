package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/CefBoud/peerbus/protocol"
	"github.com/CefBoud/peerbus/serde"
	"github.com/CefBoud/peerbus/types"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var sendFlags struct {
	command string
	topic   string
	message string
	prefix  string
	timeout time.Duration
}

var sendCmd = &cobra.Command{
	Use:   "send <host:port> [json-request]",
	Short: "Send one request to a peer or the directory and print the response",
	Example: `  peerbus send localhost:5555 --command create_topic --topic Sports
  peerbus send localhost:5555 '{"command":"publish","topic":"Sports","message":"Goal!"}'
  peerbus send localhost:6000 --command list_topics`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSend,
}

func init() {
	f := sendCmd.Flags()
	f.StringVar(&sendFlags.command, "command", "", "request command")
	f.StringVar(&sendFlags.topic, "topic", "", "topic name")
	f.StringVar(&sendFlags.message, "message", "", "message to publish")
	f.StringVar(&sendFlags.prefix, "prefix", "", "topic prefix for list_topics")
	f.DurationVar(&sendFlags.timeout, "timeout", protocol.DefaultCallTimeout, "deadline for the exchange")
	rootCmd.AddCommand(sendCmd)
}

func buildRequest(args []string) (types.Request, error) {
	var req types.Request
	if len(args) == 2 {
		if err := json.Unmarshal([]byte(args[1]), &req); err != nil {
			return req, fmt.Errorf("invalid request: %w", err)
		}
	} else {
		req = types.Request{
			Command: sendFlags.command,
			Topic:   sendFlags.topic,
			Message: sendFlags.message,
			Prefix:  sendFlags.prefix,
		}
	}
	if req.Command == "" {
		return req, fmt.Errorf("a command is required")
	}
	return req, nil
}

func runSend(cmd *cobra.Command, args []string) error {
	req, err := buildRequest(args)
	if err != nil {
		return err
	}
	client := protocol.NewClient(sendFlags.timeout, serde.Encoder{})
	resp, err := client.Call(context.Background(), args[0], req)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	if resp.OK() {
		color.New(color.FgGreen, color.Bold).Fprintln(os.Stdout, "✓ "+resp.Message)
	} else {
		color.New(color.FgRed, color.Bold).Fprintf(os.Stdout, "✗ %s: %s\n", resp.Code, resp.Message)
	}
	color.New(color.Faint).Fprintln(os.Stdout, string(out))
	return nil
}
