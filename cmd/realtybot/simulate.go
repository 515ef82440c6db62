package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type simulateOptions struct {
	URL   string
	Phone string
	To    string
	Name  string
	Text  string
}

func newSimulateCmd() *cobra.Command {
	var o simulateOptions
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Post a fake inbound WhatsApp message to a running webhook",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: 90 * time.Second}
			return runSimulate(cmd.Context(), cmd.OutOrStdout(), client, o)
		},
	}
	cmd.Flags().StringVar(&o.URL, "url", "http://localhost:8080/webhook", "webhook URL")
	cmd.Flags().StringVar(&o.Phone, "phone", "5511999999999", "sender phone, international format without '+'")
	cmd.Flags().StringVar(&o.To, "to", "", "tenant inbound channel the message is addressed to")
	cmd.Flags().StringVar(&o.Name, "name", "Usuario Teste", "sender display name")
	cmd.Flags().StringVar(&o.Text, "text", "", "message text")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

// simulationPayload mirrors a messages.upsert event from the gateway.
func simulationPayload(o simulateOptions) ([]byte, error) {
	return json.Marshal(map[string]any{
		"event": "messages.upsert",
		"data": map[string]any{
			"to": o.To,
			"key": map[string]any{
				"remoteJid": o.Phone + "@s.whatsapp.net",
				"fromMe":    false,
				"id":        "SIMULATION_ID",
			},
			"message":  map[string]any{"conversation": o.Text},
			"pushName": o.Name,
		},
	})
}

func runSimulate(ctx context.Context, out io.Writer, client *http.Client, o simulateOptions) error {
	if strings.TrimSpace(o.Text) == "" {
		return fmt.Errorf("simulate: text must not be empty")
	}
	body, err := simulationPayload(o)
	if err != nil {
		return fmt.Errorf("simulate: encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("simulate: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	fmt.Fprintf(out, "[lead %s] %s\n", o.Phone, o.Text)
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("simulate: post %s: %w", o.URL, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("simulate: read response: %w", err)
	}
	fmt.Fprintf(out, "[server] %d %s\n", resp.StatusCode, strings.TrimSpace(string(respBody)))
	return nil
}
