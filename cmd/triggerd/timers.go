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

	"github.com/spf13/cobra"

	"triggerd/internal/timer"
)

type client struct {
	base  string
	token string
	http  *http.Client
}

func (c *client) do(method, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequest(method, c.base+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		return nil, fmt.Errorf("%s %s: %s", method, path, e.Error)
	}
	return resp, nil
}

func timersCmd() *cobra.Command {
	var (
		addr  string
		token string
	)
	cl := &client{http: &http.Client{Timeout: 10 * time.Second}}

	cmd := &cobra.Command{
		Use:   "timers",
		Short: "Manage timers on a running server",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cl.base = "http://" + strings.TrimPrefix(addr, "http://")
			cl.token = token
			if cl.token == "" {
				cl.token = os.Getenv("TRIGGERD_TOKEN")
			}
		},
	}
	cmd.PersistentFlags().StringVar(&addr, "addr", "127.0.0.1:8787", "server address")
	cmd.PersistentFlags().StringVar(&token, "token", "", "API bearer token (default $TRIGGERD_TOKEN)")

	cmd.AddCommand(timersListCmd(cl), timersStartCmd(cl), timersStopCmd(cl))
	return cmd
}

func timersListCmd(cl *client) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active timers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := cl.do(http.MethodGet, "/api/timers", nil)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			var infos []timer.Info
			if err := json.NewDecoder(resp.Body).Decode(&infos); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}
			if len(infos) == 0 {
				fmt.Fprintln(out, "no active timers")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tMODE\tSUBSCRIBERS\tFIRES\tNEXT FIRE")
			for _, in := range infos {
				next := "-"
				if in.NextFire != nil {
					next = in.NextFire.Local().Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", in.Key, in.Config.Mode, in.SubscriberCount, in.Fires, next)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")
	return cmd
}

func timersStartCmd(cl *client) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "start <key> [config-json]",
		Short: "Start or replace a timer",
		Long: `Start or replace a timer. The config is given inline or with --file.

Examples:
  triggerd timers start heartbeat '{"mode":"interval","interval":5,"immediate":true}'
  triggerd timers start report '{"mode":"cron","cron":"0 9 * * 1-5","timezone":"Europe/Berlin"}'
  triggerd timers start billing --file billing.json`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body []byte
			switch {
			case len(args) == 2:
				body = []byte(args[1])
			case file != "":
				b, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				body = b
			default:
				return fmt.Errorf("timer config required (inline or --file)")
			}
			// Fail locally with the same message the server would give.
			if _, err := timer.ParseConfig(body); err != nil {
				return err
			}
			resp, err := cl.do(http.MethodPut, "/api/timers/"+url.PathEscape(args[0]), body)
			if err != nil {
				return err
			}
			resp.Body.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "started %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the timer config from a file")
	return cmd
}

func timersStopCmd(cl *client) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <key>",
		Short: "Stop a timer (no-op if it is not running)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := cl.do(http.MethodDelete, "/api/timers/"+url.PathEscape(args[0]), nil)
			if err != nil {
				return err
			}
			resp.Body.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "stopped %s\n", args[0])
			return nil
		},
	}
}
