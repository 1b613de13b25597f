package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/resumechat/internal/api"
	"github.com/kalambet/resumechat/internal/composer"
	"github.com/kalambet/resumechat/internal/config"
	"github.com/kalambet/resumechat/internal/events"
	"github.com/kalambet/resumechat/internal/profile"
	"github.com/kalambet/resumechat/internal/sessionlog"
	"github.com/kalambet/resumechat/internal/storage"
	"github.com/kalambet/resumechat/internal/tree"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question...>",
	Short: "Answer one question from the terminal",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), appOptions{completer: true})
		if err != nil {
			return err
		}
		defer a.Close()

		ans, err := a.chat.Answer(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ans.Text)

		verbose, _ := cmd.Flags().GetBool("verbose")
		if verbose {
			w := cmd.ErrOrStderr()
			printStatus(w, "Categories", "%s", strings.Join(ans.Metadata.Categories, ", "))
			printStatus(w, "Context", "%s", ans.Metadata.Source)
			printStatus(w, "Prompt tokens", "~%d", ans.Metadata.PromptTokens)
			printStatus(w, "Upstream", "%s", ans.Metadata.CompleteDuration)
		}
		return nil
	},
}

func init() {
	askCmd.Flags().BoolP("verbose", "v", false, "print selection details to stderr")
}

// --- prompt ---

var promptCmd = &cobra.Command{
	Use:   "prompt <question...>",
	Short: "Print the system prompt a question would produce, without calling the model",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := a.chat.Prepare(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		printStatus(out, "Categories", "%s", strings.Join(p.Categories, ", "))
		printStatus(out, "Context", "%s", p.Source)
		printStatus(out, "Prompt tokens", "~%d", composer.EstimateTokens(p.SystemPrompt))
		fmt.Fprintln(out)
		fmt.Fprintln(out, p.SystemPrompt)
		return nil
	},
}

// --- context ---

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Manage the stored profile document",
}

var contextUploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Validate a profile JSON file and store it",
	Long: `Validate a profile JSON file and store it under profile.key.

With --server the document is sent to a running server's admin endpoint
instead of being written to the local storage backend.

Examples:
  resumechat context upload --file hidden-context.json
  resumechat context upload --file hidden-context.json --server https://chat.example.com`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		serverURL, _ := cmd.Flags().GetString("server")
		if file == "" {
			return errors.New("--file is required")
		}

		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}
		doc, err := tree.Parse(data)
		if err != nil {
			return fmt.Errorf("%s is not a valid profile document: %w", file, err)
		}

		if serverURL != "" {
			client, err := newAPIClient(serverURL)
			if err != nil {
				return err
			}
			resp, err := client.put(cmd.Context(), "/api/context", data)
			if err != nil {
				return err
			}
			var result struct {
				Key string `json:"key"`
			}
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}
			printSuccess("Uploaded %s to %s (key %s)", file, serverURL, result.Key)
			return nil
		}

		a, err := openApp(cmd.Context(), appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.requireStore("context upload"); err != nil {
			return err
		}

		if _, err := profile.Upload(cmd.Context(), a.store, a.profiles.Key(), data); err != nil {
			return err
		}
		printSuccess("Stored %s under %q (%d top-level keys, %s backend)", file, a.profiles.Key(), doc.Len(), a.cfg.Storage.Backend)
		return nil
	},
}

var contextShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored profile document, or the fallback",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		doc, src, err := a.profiles.Load(cmd.Context())
		if err != nil {
			return err
		}
		if src == profile.SourceFallback {
			printWarning("showing the built-in fallback document")
		}
		text, err := tree.Indent(doc)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), text)
		return nil
	},
}

var contextSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Write the built-in template document into the configured store",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		a, err := openApp(cmd.Context(), appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.requireStore("context seed"); err != nil {
			return err
		}

		key := a.profiles.Key()
		_, err = a.store.Get(cmd.Context(), key)
		switch {
		case err == nil && !force:
			return fmt.Errorf("key %q already holds a document; use --force to overwrite", key)
		case err != nil && !errors.Is(err, storage.ErrNotFound):
			return fmt.Errorf("checking %q: %w", key, err)
		}

		if _, err := profile.Upload(cmd.Context(), a.store, key, profile.FallbackJSON()); err != nil {
			return err
		}
		printSuccess("Seeded %q with the template document", key)
		return nil
	},
}

func init() {
	contextUploadCmd.Flags().String("file", "", "profile JSON file")
	contextUploadCmd.Flags().String("server", "", "base URL of a running server to upload to")
	contextSeedCmd.Flags().Bool("force", false, "overwrite an existing document")
	contextCmd.AddCommand(contextUploadCmd)
	contextCmd.AddCommand(contextShowCmd)
	contextCmd.AddCommand(contextSeedCmd)
}

// --- logs ---

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Inspect visitor sessions",
}

var logsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent sessions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		serverURL, _ := cmd.Flags().GetString("server")

		var sessions []sessionlog.Stored
		if serverURL != "" {
			client, err := newAPIClient(serverURL)
			if err != nil {
				return err
			}
			resp, err := client.get(cmd.Context(), "/api/logs?format=json")
			if err != nil {
				return err
			}
			var remote []struct {
				Key          string             `json:"key"`
				StartTime    string             `json:"startTime"`
				Interactions []sessionlog.Entry `json:"interactions"`
			}
			if err := decodeJSON(resp, &remote); err != nil {
				return err
			}
			for _, r := range remote {
				sessions = append(sessions, sessionlog.Stored{
					Key:     r.Key,
					Session: sessionlog.Session{StartTime: r.StartTime, Interactions: r.Interactions},
				})
			}
		} else {
			a, err := openApp(cmd.Context(), appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.requireStore("logs list"); err != nil {
				return err
			}
			sessions, err = a.sessions.Sessions(cmd.Context())
			if err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		if len(sessions) == 0 {
			fmt.Fprintln(out, "No sessions found.")
			return nil
		}
		if limit > 0 && len(sessions) > limit {
			sessions = sessions[:limit]
		}
		for _, s := range sessions {
			last := ""
			if n := len(s.Interactions); n > 0 {
				last = truncate(s.Interactions[n-1].Question, 60)
			}
			fmt.Fprintf(out, "%s  %s  %3d  %s\n",
				colorize(colorCyan, s.Key),
				s.StartTime,
				len(s.Interactions),
				last,
			)
		}
		return nil
	},
}

var logsFollowCmd = &cobra.Command{
	Use:   "follow",
	Short: "Stream interactions published by running servers over NATS",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.NATS.URL == "" {
			return errors.New("logs follow needs RESUMECHAT_NATS_URL")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		bus, err := events.Connect(cfg.NATS.URL, cfg.NATS.Token, newLogger(cfg.Log.Level))
		if err != nil {
			return err
		}
		defer bus.Close()

		out := cmd.OutOrStdout()
		err = bus.Subscribe(events.SubjectInteraction, func(_ string, data []byte) {
			fmt.Fprintln(out, formatInteraction(data))
		})
		if err != nil {
			return err
		}
		printStep("following %s on %s", events.SubjectInteraction, cfg.NATS.URL)

		<-ctx.Done()
		return nil
	},
}

// formatInteraction renders one published entry as a single line.
func formatInteraction(data []byte) string {
	var e sessionlog.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return "malformed event: " + truncate(string(data), 80)
	}
	status := colorize(colorGreen, "ok ")
	if e.Error != nil {
		status = colorize(colorRed, "err")
	}
	return fmt.Sprintf("%s %s %-15s %s", e.Timestamp, status, e.IP, truncate(e.Question, 80))
}

var logsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete all but the newest sessions.keep sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.requireStore("logs prune"); err != nil {
			return err
		}

		n, err := a.sessions.Cleanup(cmd.Context())
		if err != nil {
			return err
		}
		printSuccess("Deleted %d sessions (keeping %d)", n, a.cfg.Sessions.Keep)
		return nil
	},
}

func init() {
	logsListCmd.Flags().Int("limit", 20, "maximum number of sessions to list")
	logsListCmd.Flags().String("server", "", "base URL of a running server to read from")
	logsCmd.AddCommand(logsListCmd)
	logsCmd.AddCommand(logsFollowCmd)
	logsCmd.AddCommand(logsPruneCmd)
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the assistant as an MCP server over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx, appOptions{completer: true})
		if err != nil {
			return err
		}
		defer a.Close()

		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Chat:     a.chat,
			Preparer: a.chat,
			Profiles: a.profiles,
			Version:  version,
		})
		a.logger.Info("MCP server started (stdio transport)")

		stdioSrv := server.NewStdioServer(mcpSrv)
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("mcp stdio server: %w", err)
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(out, "  %s = %s  (%s)\n", colorize(colorBold, k.Key), k.Value, k.EnvVar)
		}
		printStatus(out, "API key", "%s", setOrMissing(cfg.Proxy.APIKey))
		printStatus(out, "Admin secret", "%s", setOrMissing(cfg.Admin.Secret))
		printStatus(out, "Config file", "%s", config.ConfigFilePath())
		return nil
	},
}

func setOrMissing(v string) string {
	if v == "" {
		return "not set"
	}
	return "set"
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value in the config file. Valid keys:\n  " +
		strings.Join(config.ValidKeys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
