package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/aide/internal/config"
)

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send a message to the assistant as a user",
	Long: `Send a message to the assistant as a user.

Examples:
  aide chat --user u1 "What meetings do I have tomorrow?"
  aide chat --user u1 "When someone new emails me, add them to HubSpot"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		if userID == "" {
			return fmt.Errorf("--user is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var result struct {
			Reply string `json:"reply"`
		}
		if err := client.call(cmd.Context(), http.MethodPost, "/v1/chat", map[string]string{
			"user_id": userID,
			"message": strings.Join(args, " "),
		}, &result); err != nil {
			return err
		}
		fmt.Println(result.Reply)
		return nil
	},
}

func init() {
	chatCmd.Flags().String("user", "", "id of the acting user")
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over a user's indexed mail and contacts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		if userID == "" {
			return fmt.Errorf("--user is required")
		}
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var result struct {
			Context string `json:"context"`
		}
		if err := client.call(cmd.Context(), http.MethodGet, searchPath(userID, strings.Join(args, " "), limit), nil, &result); err != nil {
			return err
		}
		if result.Context == "" {
			fmt.Println("No results found.")
			return nil
		}
		fmt.Println(result.Context)
		return nil
	},
}

func searchPath(userID, query string, limit int) string {
	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("q", query)
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	return "/v1/search?" + q.Encode()
}

func init() {
	searchCmd.Flags().String("user", "", "id of the user whose data is searched")
	searchCmd.Flags().Int("limit", 5, "maximum results per section")
}

// --- user ---

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users and their connector credentials",
}

var userAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create or update a user",
	Long: `Create or update a user. Re-adding an existing email updates that user.

Examples:
  aide user add --email pat@example.com --name Pat --google-token ya29... --hubspot-token pat-...`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]string{}
		for flag, field := range map[string]string{
			"id":            "id",
			"email":         "email",
			"name":          "name",
			"google-token":  "google_access_token",
			"hubspot-token": "hubspot_token",
		} {
			if v, _ := cmd.Flags().GetString(flag); v != "" {
				req[field] = v
			}
		}
		if req["email"] == "" {
			return fmt.Errorf("--email is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var user struct {
			ID             string `json:"id"`
			Email          string `json:"email"`
			MailAccess     bool   `json:"mail_access"`
			CalendarAccess bool   `json:"calendar_access"`
			CRMAccess      bool   `json:"crm_access"`
		}
		if err := client.call(cmd.Context(), http.MethodPost, "/v1/users", req, &user); err != nil {
			return err
		}

		printSuccess("Saved user %s (%s)", user.ID, user.Email)
		printStatus("Mail", "%s", accessLabel(user.MailAccess))
		printStatus("Calendar", "%s", accessLabel(user.CalendarAccess))
		printStatus("CRM", "%s", accessLabel(user.CRMAccess))
		return nil
	},
}

var userSyncCmd = &cobra.Command{
	Use:   "sync <id>",
	Short: "Queue a knowledge base sync for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var result map[string]string
		if err := client.call(cmd.Context(), http.MethodPost, "/v1/users/"+url.PathEscape(args[0])+"/sync", nil, &result); err != nil {
			return err
		}
		if result["status"] == "already_queued" {
			printWarning("A sync is already queued for %s", args[0])
			return nil
		}
		printSuccess("Queued sync for %s", args[0])
		return nil
	},
}

func accessLabel(ok bool) string {
	if ok {
		return "connected"
	}
	return colorize(colorYellow, "not connected")
}

func init() {
	userAddCmd.Flags().String("id", "", "user id (default: existing id for the email, or a new one)")
	userAddCmd.Flags().String("email", "", "the user's own email address")
	userAddCmd.Flags().String("name", "", "display name")
	userAddCmd.Flags().String("google-token", "", "Google OAuth access token (mail and calendar)")
	userAddCmd.Flags().String("hubspot-token", "", "HubSpot private app token")
	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userSyncCmd)
}

// --- tasks ---

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List tasks the assistant recorded for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		if userID == "" {
			return fmt.Errorf("--user is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var tasks []struct {
			ID          string `json:"id"`
			Type        string `json:"type"`
			Description string `json:"description"`
			Status      string `json:"status"`
			CreatedAt   string `json:"created_at"`
		}
		if err := client.call(cmd.Context(), http.MethodGet, "/v1/users/"+url.PathEscape(userID)+"/tasks", nil, &tasks); err != nil {
			return err
		}

		if len(tasks) == 0 {
			fmt.Println("No tasks found.")
			return nil
		}
		for _, t := range tasks {
			fmt.Printf("%s  %-10s %-9s %s\n",
				colorize(colorCyan, shortID(t.ID)),
				t.Type,
				t.Status,
				truncate(t.Description, 80),
			)
		}
		return nil
	},
}

func init() {
	tasksCmd.Flags().String("user", "", "id of the user")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
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

		asJSON, _ := cmd.Flags().GetBool("json")
		keys := config.ShowAll(cfg)
		if asJSON {
			out := make(map[string]string, len(keys))
			for _, k := range keys {
				out[k.Key] = k.Value
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
	Args:  cobra.ExactArgs(2),
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
	configShowCmd.Flags().Bool("json", false, "print as a JSON object")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
