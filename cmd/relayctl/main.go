// relayctl queries a running relay's snapshot API.
//
//	relayctl sessions [--status waiting|connected] [--json]
//	relayctl session <id>
//	relayctl stats
//
// The server and bearer token come from --server/--token or the
// RELAY_SERVER and RELAY_TOKEN environment variables.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/openclaw/support-relay-go/internal/model"
)

const requestTimeout = 10 * time.Second

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	server string
	token  string
	status string
	json   bool
}

func run(args []string, stdout io.Writer) error {
	var opts options

	flagSet := pflag.NewFlagSet("relayctl", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVar(&opts.server, "server", envOr("RELAY_SERVER", "http://localhost:3000"), "relay base URL")
	flagSet.StringVar(&opts.token, "token", os.Getenv("RELAY_TOKEN"), "bearer token for the snapshot API")
	flagSet.StringVar(&opts.status, "status", "", "only list sessions in this status (waiting or connected)")
	flagSet.BoolVar(&opts.json, "json", false, "print raw JSON")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(stdout, flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(stdout, flagSet)
		return nil
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		printHelp(stdout, flagSet)
		return errors.New("missing command")
	}

	client := &apiClient{
		base:  strings.TrimRight(opts.server, "/"),
		token: opts.token,
		http:  &http.Client{Timeout: requestTimeout},
	}
	ctx := context.Background()

	switch rest[0] {
	case "sessions":
		return listSessions(ctx, client, opts, stdout)
	case "session":
		if len(rest) != 2 {
			return errors.New("usage: relayctl session <id>")
		}
		return showSession(ctx, client, rest[1], opts, stdout)
	case "stats":
		return showStats(ctx, client, opts, stdout)
	default:
		return fmt.Errorf("unknown command %q", rest[0])
	}
}

func listSessions(ctx context.Context, client *apiClient, opts options, stdout io.Writer) error {
	query := url.Values{}
	if opts.status != "" {
		query.Set("status", opts.status)
	}

	var sessions []model.SessionSnapshot
	raw, err := client.get(ctx, "/api/sessions", query, &sessions)
	if err != nil {
		return err
	}
	if opts.json {
		_, err := stdout.Write(raw)
		return err
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPIN\tSTATUS\tOPERATOR\tCREATED\tCLIENT")
	for _, s := range sessions {
		operator := "-"
		if s.OperatorAttached {
			operator = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.Pin, s.Status, operator,
			s.CreatedAt.Local().Format(time.DateTime),
			describeClient(s.ClientInfo),
		)
	}
	return tw.Flush()
}

func showSession(ctx context.Context, client *apiClient, id string, opts options, stdout io.Writer) error {
	var snapshot model.SessionSnapshot
	raw, err := client.get(ctx, "/api/sessions/"+url.PathEscape(id), nil, &snapshot)
	if err != nil {
		return err
	}
	if opts.json {
		_, err := stdout.Write(raw)
		return err
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", snapshot.ID)
	fmt.Fprintf(tw, "PIN:\t%s\n", snapshot.Pin)
	fmt.Fprintf(tw, "Status:\t%s\n", snapshot.Status)
	fmt.Fprintf(tw, "Operator attached:\t%t\n", snapshot.OperatorAttached)
	fmt.Fprintf(tw, "Created:\t%s\n", snapshot.CreatedAt.Local().Format(time.DateTime))
	for _, key := range slices.Sorted(maps.Keys(snapshot.ClientInfo)) {
		fmt.Fprintf(tw, "  %s:\t%v\n", key, snapshot.ClientInfo[key])
	}
	return tw.Flush()
}

func showStats(ctx context.Context, client *apiClient, opts options, stdout io.Writer) error {
	var stats model.HubStats
	raw, err := client.get(ctx, "/api/stats", nil, &stats)
	if err != nil {
		return err
	}
	if opts.json {
		_, err := stdout.Write(raw)
		return err
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Connections:\t%d\n", stats.Connections)
	fmt.Fprintf(tw, "  clients:\t%d\n", stats.Clients)
	fmt.Fprintf(tw, "  operators:\t%d\n", stats.Operators)
	fmt.Fprintf(tw, "  unassigned:\t%d\n", stats.Unassigned)
	fmt.Fprintf(tw, "Sessions waiting:\t%d\n", stats.SessionsWaiting)
	fmt.Fprintf(tw, "Sessions connected:\t%d\n", stats.SessionsConnected)
	return tw.Flush()
}

// describeClient prints the most useful identifying field a client sent.
func describeClient(info model.ClientInfo) string {
	for _, key := range []string{"hostname", "name", "os"} {
		if v, ok := info[key]; ok {
			return fmt.Sprint(v)
		}
	}
	return "-"
}

type apiClient struct {
	base  string
	token string
	http  *http.Client
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (c *apiClient) get(ctx context.Context, path string, query url.Values, out any) ([]byte, error) {
	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("%s: %s (%s)", path, apiErr.Error, apiErr.Code)
		}
		return nil, fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return body, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `relayctl inspects a running support relay.

Usage:
  relayctl [flags] sessions
  relayctl [flags] session <id>
  relayctl [flags] stats

Flags:
%s`, flagSet.FlagUsages())
}
