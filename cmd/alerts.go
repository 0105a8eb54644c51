package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-alerts/internal/model"
)

var alertsServer string

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Inspect and manage alerts on a running server",
}

// -- alerts list --

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		q := url.Values{}
		for _, flag := range []string{"state", "type", "severity", "entity", "sort"} {
			if v, _ := cmd.Flags().GetString(flag); v != "" {
				q.Set(flag, v)
			}
		}

		var resp struct {
			Alerts []model.Alert `json:"alerts"`
		}
		if err := apiGet("/alerts?"+q.Encode(), &resp); err != nil {
			return err
		}

		if len(resp.Alerts) == 0 {
			fmt.Fprintln(os.Stderr, "No alerts found.")
			return nil
		}

		formatAlertsList(os.Stdout, resp.Alerts)
		return nil
	},
}

// -- alerts show --

var alertsShowCmd = &cobra.Command{
	Use:   "show <alert-id>",
	Short: "Show full details of one alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var alert model.Alert
		if err := apiGet("/alerts/"+url.PathEscape(args[0]), &alert); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(alert)
	},
}

// -- alerts ack / snooze / resolve --

var alertsAckCmd = &cobra.Command{
	Use:   "ack <alert-id>",
	Short: "Acknowledge an open alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return alertCommand(args[0], "acknowledge", nil)
	},
}

var alertsSnoozeCmd = &cobra.Command{
	Use:   "snooze <alert-id>",
	Short: "Snooze an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		minutes, _ := cmd.Flags().GetInt("minutes")
		until, _ := cmd.Flags().GetString("until")

		body := map[string]any{}
		switch {
		case until != "":
			ts, err := time.Parse(time.RFC3339, until)
			if err != nil {
				return eris.Wrap(err, "parse --until")
			}
			body["until"] = ts
		case minutes > 0:
			body["minutes"] = minutes
		default:
			return eris.New("either --minutes or --until is required")
		}

		return alertCommand(args[0], "snooze", body)
	},
}

var alertsResolveCmd = &cobra.Command{
	Use:   "resolve <alert-id>",
	Short: "Resolve an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return alertCommand(args[0], "resolve", nil)
	},
}

func alertCommand(id, action string, body map[string]any) error {
	var alert model.Alert
	if err := apiPost("/alerts/"+url.PathEscape(id)+"/"+action, body, &alert); err != nil {
		return err
	}
	fmt.Printf("%s: %s → %s\n", action, alert.ID, alert.State)
	return nil
}

func formatAlertsList(w io.Writer, alerts []model.Alert) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tENTITY\tTYPE\tSEVERITY\tSTATE\tCREATED\tMESSAGE")
	for _, a := range alerts {
		msg := a.Message
		if len(msg) > 60 {
			msg = msg[:57] + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.EntityID, a.Type, a.Severity, a.State,
			a.CreatedAt.Format("2006-01-02 15:04"), msg)
	}
	tw.Flush() //nolint:errcheck
}

// -- HTTP helpers --

func apiBase() string {
	if alertsServer != "" {
		return strings.TrimRight(alertsServer, "/")
	}
	return fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
}

func apiGet(path string, out any) error {
	resp, err := http.Get(apiBase() + path) //nolint:noctx
	if err != nil {
		return eris.Wrap(err, "request")
	}
	return decodeAPIResponse(resp, out)
}

func apiPost(path string, body map[string]any, out any) error {
	payload := []byte("{}")
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return eris.Wrap(err, "encode request")
		}
	}

	resp, err := http.Post(apiBase()+path, "application/json", bytes.NewReader(payload)) //nolint:noctx
	if err != nil {
		return eris.Wrap(err, "request")
	}
	return decodeAPIResponse(resp, out)
}

func decodeAPIResponse(resp *http.Response, out any) error {
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return eris.Errorf("server: %s (%s)", apiErr.Error, resp.Status)
		}
		return eris.Errorf("server: %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}

func init() {
	alertsCmd.PersistentFlags().StringVar(&alertsServer, "server", "", "server base URL (default http://localhost:<config port>)")

	alertsListCmd.Flags().String("state", "", "filter by state (open, acknowledged, snoozed, resolved; comma-separated)")
	alertsListCmd.Flags().String("type", "", "filter by alert type")
	alertsListCmd.Flags().String("severity", "", "filter by severity")
	alertsListCmd.Flags().String("entity", "", "filter by entity id")
	alertsListCmd.Flags().String("sort", "", "sort order: newest or entity (default severity)")

	alertsSnoozeCmd.Flags().Int("minutes", 0, "snooze duration in minutes")
	alertsSnoozeCmd.Flags().String("until", "", "snooze deadline (RFC3339)")

	alertsCmd.AddCommand(alertsListCmd, alertsShowCmd, alertsAckCmd, alertsSnoozeCmd, alertsResolveCmd)
	rootCmd.AddCommand(alertsCmd)
}
