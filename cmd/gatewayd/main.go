package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/meshfed/gatewayd/pkg/config"
	"github.com/meshfed/gatewayd/pkg/engine"
	"github.com/meshfed/gatewayd/pkg/httpapi"
	"github.com/meshfed/gatewayd/pkg/log"
	"github.com/meshfed/gatewayd/pkg/metrics"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "gatewayd",
	Short: "gatewayd - a per-node federation gateway",
	Long: `gatewayd lets independently operated services join decentralised
federations ("networks"), discover peers, and exchange signed
application messages over a mesh of persistent transports.`,
}

func init() {
	rootCmd.PersistentFlags().String("api", "", "override the local gatewayd manage API address (defaults to DG_BIND_ADDR)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(networkCmd)
	rootCmd.AddCommand(requestsCmd)
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(keysCmd)
}

// exitCodeFor maps a top-level command error to the exit codes the
// specification names: 1 config error, 2 everything else.
func exitCodeFor(err error) int {
	if _, ok := err.(*config.ConfigError); ok {
		return 1
	}
	return 2
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway daemon: httpapi, metrics, and background sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		e, err := engine.New(cfg)
		if err != nil {
			return err
		}
		defer e.Close()
		e.Start()

		metrics.SetVersion("dev")

		logger := log.WithComponent("gatewayd")

		metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux()}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server error")
			}
		}()

		api := httpapi.NewServer(e)
		errCh := make(chan error, 1)
		go func() {
			if err := api.Start(cfg.BindAddr); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()

		logger.Info().Str("bind_addr", cfg.BindAddr).Str("metrics_addr", cfg.MetricsAddr).Msg("gatewayd started")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigCh:
			logger.Info().Msg("shutting down")
		case err := <-errCh:
			logger.Error().Err(err).Msg("httpapi server error")
			return err
		}
		return nil
	},
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	return mux
}

// apiAddr resolves the manage API base address a CLI subcommand talks
// to: the --api flag if set, otherwise DG_BIND_ADDR.
func apiAddr(cmd *cobra.Command) (string, error) {
	if v, _ := cmd.Flags().GetString("api"); v != "" {
		return "http://" + v, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return "", err
	}
	return "http://" + cfg.BindAddr, nil
}

func apiCall(cmd *cobra.Command, method, path string, body interface{}) ([]byte, error) {
	base, err := apiAddr(cmd)
	if err != nil {
		return nil, err
	}
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, base+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gatewayd: %s %s: %s", method, path, string(out))
	}
	return out, nil
}

var networkCmd = &cobra.Command{
	Use:   "network",
	Short: "Manage local networks",
}

var networkListCmd = &cobra.Command{
	Use:   "list",
	Short: "List networks known to this gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := apiCall(cmd, http.MethodGet, "/manage/networks", nil)
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var networkCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a new network, generating its management and node keys",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		visible, _ := cmd.Flags().GetBool("visible")
		registered, _ := cmd.Flags().GetBool("registered")
		out, err := apiCall(cmd, http.MethodPost, "/manage/networks", map[string]interface{}{
			"name":       args[0],
			"visible":    visible,
			"registered": registered,
		})
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var networkJoinCmd = &cobra.Command{
	Use:   "join TARGET_URL NETWORK_ID",
	Short: "Ask a peer gateway to admit this node into one of its networks",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		justification, _ := cmd.Flags().GetString("justification")
		_, err := apiCall(cmd, http.MethodPost, "/manage/networks/join", map[string]string{
			"targetUrl":     args[0],
			"networkId":     args[1],
			"justification": justification,
		})
		if err != nil {
			return err
		}
		fmt.Println("join request submitted")
		return nil
	},
}

var networkInviteCmd = &cobra.Command{
	Use:   "invite TARGET_URL NETWORK_ID",
	Short: "Invite a peer gateway into one of this node's networks",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		justification, _ := cmd.Flags().GetString("justification")
		_, err := apiCall(cmd, http.MethodPost, "/manage/networks/invite", map[string]string{
			"targetUrl":     args[0],
			"networkId":     args[1],
			"justification": justification,
		})
		if err != nil {
			return err
		}
		fmt.Println("invite submitted")
		return nil
	},
}

func init() {
	networkCreateCmd.Flags().Bool("visible", false, "advertise this network on GET /service/networks")
	networkCreateCmd.Flags().Bool("registered", false, "mark this network as registered")
	networkJoinCmd.Flags().String("justification", "", "operator-supplied justification sent with the join request")
	networkInviteCmd.Flags().String("justification", "", "operator-supplied justification sent with the invite")

	networkCmd.AddCommand(networkListCmd, networkCreateCmd, networkJoinCmd, networkInviteCmd)
}

var requestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "Inspect and decide pending admission requests",
}

var requestsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List admission requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		path := "/manage/requests"
		if status != "" {
			path += "?status=" + status
		}
		out, err := apiCall(cmd, http.MethodGet, path, nil)
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var requestsDecideCmd = &cobra.Command{
	Use:   "decide MESSAGE_ID",
	Short: "Approve or reject a pending admission request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		approve, _ := cmd.Flags().GetBool("approve")
		justification, _ := cmd.Flags().GetString("justification")
		_, err := apiCall(cmd, http.MethodPatch, "/manage/requests/"+args[0], map[string]interface{}{
			"approve":       approve,
			"justification": justification,
		})
		if err != nil {
			return err
		}
		fmt.Println("decision recorded")
		return nil
	},
}

func init() {
	requestsListCmd.Flags().String("status", "", "filter by admission status (pending, accepted, rejected)")
	requestsDecideCmd.Flags().Bool("approve", false, "approve the request (omit to reject)")
	requestsDecideCmd.Flags().String("justification", "", "operator-supplied justification for the decision")

	requestsCmd.AddCommand(requestsListCmd, requestsDecideCmd)
}

var messagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "Send operator-authored messages into a network",
}

var messagesSendCmd = &cobra.Command{
	Use:   "send ENVELOPE_JSON",
	Short: "Send or broadcast a message envelope, collecting responses within the broker timeout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		broadcast, _ := cmd.Flags().GetBool("broadcast")
		targetNode, _ := cmd.Flags().GetString("target-node")
		out, err := apiCall(cmd, http.MethodPost, "/manage/messages", map[string]interface{}{
			"message":    json.RawMessage(args[0]),
			"broadcast":  broadcast,
			"targetNode": targetNode,
		})
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	messagesSendCmd.Flags().Bool("broadcast", false, "deliver to every approved peer instead of one targetNode")
	messagesSendCmd.Flags().String("target-node", "", "instance id of the peer to send to (ignored with --broadcast)")

	messagesCmd.AddCommand(messagesSendCmd)
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Inspect this node's signing keys",
}

var keysShowCmd = &cobra.Command{
	Use:   "show NETWORK_ID",
	Short: "Print a network's document, including its current and previous management public keys",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := apiCall(cmd, http.MethodGet, "/manage/networks/"+args[0], nil)
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	keysCmd.AddCommand(keysShowCmd)
}
