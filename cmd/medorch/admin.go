package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zen-systems/medorch/pkg/api"
	"github.com/zen-systems/medorch/pkg/orchestrator"
)

// Circuit and credential state live in the serving process, so operator
// actions go through its API.

func rotateCmd() *cobra.Command {
	return adminCmd("rotate", "Move a provider's credential cursor past the current key")
}

func resetCmd() *cobra.Command {
	return adminCmd("reset", "Close a provider's circuit breaker")
}

func adminCmd(action, short string) *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   action + " <provider>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if server == "" {
				cfg, err := loadConfig()
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
				server = cfg.Server.Addr
			}
			ctx, cancel := signalContext()
			defer cancel()

			h, err := postAction(ctx, http.DefaultClient, server, args[0], action)
			if err != nil {
				return err
			}
			return printAction(cmd.OutOrStdout(), args[0], action, h)
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "address of the running API (defaults to server.addr)")
	return cmd
}

type actionResponse struct {
	Provider string                      `json:"provider"`
	Health   orchestrator.ProviderHealth `json:"health"`
}

// postAction calls POST /api/ai/providers/{id}/{action} and returns the
// provider's health afterwards.
func postAction(ctx context.Context, client *http.Client, server, id, action string) (orchestrator.ProviderHealth, error) {
	base := strings.TrimSuffix(server, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	url := fmt.Sprintf("%s/api/ai/providers/%s/%s", base, id, action)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return orchestrator.ProviderHealth{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return orchestrator.ProviderHealth{}, fmt.Errorf("%s %s: %w", action, id, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return orchestrator.ProviderHealth{}, err
	}
	if resp.StatusCode != http.StatusOK {
		var e api.ErrorResponse
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return orchestrator.ProviderHealth{}, fmt.Errorf("%s %s: %s (%s)", action, id, e.Error, e.Code)
		}
		return orchestrator.ProviderHealth{}, fmt.Errorf("%s %s: unexpected status %d", action, id, resp.StatusCode)
	}

	var out actionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return orchestrator.ProviderHealth{}, fmt.Errorf("%s %s: decode response: %w", action, id, err)
	}
	return out.Health, nil
}

func printAction(w io.Writer, id, action string, h orchestrator.ProviderHealth) error {
	_, err := fmt.Fprintf(w, "%s: %s done (circuit %s, keys %d/%d)\n",
		id, action, h.Circuit, h.Credentials.Available, h.Credentials.Total)
	return err
}
