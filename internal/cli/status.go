package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hamed0406/uptimed/internal/httpapi"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var (
		api     string
		key     string
		verdict string
		output  string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status [target-id]",
		Short: "Show the status reported by a running agent",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validOutput(output); err != nil {
				return err
			}
			if api == "" || key == "" {
				cfg, err := opts.load()
				if err != nil {
					return err
				}
				if api == "" {
					api = baseURL(cfg.Server.Addr)
				}
				if key == "" {
					if len(cfg.Auth.PublicKeys) > 0 {
						key = cfg.Auth.PublicKeys[0]
					} else if len(cfg.Auth.AdminKeys) > 0 {
						key = cfg.Auth.AdminKeys[0]
					}
				}
			}

			path := "/status"
			if len(args) == 1 {
				path += "/" + url.PathEscape(args[0])
			} else if verdict != "" {
				path += "?verdict=" + url.QueryEscape(strings.ToUpper(verdict))
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, strings.TrimRight(api, "/")+path, nil)
			if err != nil {
				return err
			}
			if key != "" {
				req.Header.Set("X-API-Key", key)
			}
			resp, err := (&http.Client{Timeout: timeout}).Do(req)
			if err != nil {
				return fmt.Errorf("contact agent: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("agent returned %s", resp.Status)
			}

			var states []httpapi.StatusView
			if len(args) == 1 {
				var one httpapi.StatusView
				if err := json.NewDecoder(resp.Body).Decode(&one); err != nil {
					return fmt.Errorf("decode response: %w", err)
				}
				states = append(states, one)
			} else if err := json.NewDecoder(resp.Body).Decode(&states); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}

			rows := make([][]string, 0, len(states))
			for _, s := range states {
				since := "-"
				if s.LastTransition != nil {
					since = s.LastTransition.Local().Format(time.RFC3339)
				}
				rows = append(rows, []string{
					s.ID, s.Verdict, since, strconv.FormatFloat(s.LastLatency, 'f', 1, 64) + "ms", s.LastError,
				})
			}
			return render(opts.stdout, output, states, []string{"ID", "VERDICT", "SINCE", "LATENCY", "LAST ERROR"}, rows)
		},
	}
	cmd.Flags().StringVar(&api, "api", os.Getenv("UPTIMED_API"), "agent base URL (default from server.addr)")
	cmd.Flags().StringVar(&key, "key", os.Getenv("UPTIMED_API_KEY"), "API key (default first configured key)")
	cmd.Flags().StringVar(&verdict, "verdict", "", "only show targets with this verdict (UP, DOWN, UNKNOWN)")
	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "output format: table, json or yaml")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	return cmd
}

// baseURL turns a listen address like ":8080" into a dialable URL.
func baseURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	addr = strings.Replace(addr, "0.0.0.0:", "127.0.0.1:", 1)
	return "http://" + addr
}
