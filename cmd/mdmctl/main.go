// mdmctl is a thin HTTP client for the control plane's admin API,
// grounded on the teacher's cmd/flightctl CLI shape (one cobra
// subcommand per verb, JSON in/out over the REST API) but talking to
// this service's endpoints instead of flightctl's resource API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

type clientOptions struct {
	serverURL string
	adminKey  string
}

func main() {
	if err := NewMdmctlCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func NewMdmctlCommand() *cobra.Command {
	o := &clientOptions{}

	cmd := &cobra.Command{
		Use:   "mdmctl",
		Short: "mdmctl controls the MDM control plane",
	}
	cmd.PersistentFlags().StringVar(&o.serverURL, "server", envOr("MDMCTL_SERVER_URL", "http://localhost:8080"), "control plane base URL")
	cmd.PersistentFlags().StringVar(&o.adminKey, "admin-key", os.Getenv("MDMCTL_ADMIN_KEY"), "admin API key")

	cmd.AddCommand(newDevicesCommand(o))
	cmd.AddCommand(newCommandCommand(o))
	cmd.AddCommand(newDeployCommand(o))
	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (o *clientOptions) do(method, path string, body interface{}) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, o.serverURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("X-Admin-Key", o.adminKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}
	return out, resp.StatusCode, nil
}

func newDevicesCommand(o *clientOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "list or inspect enrolled devices",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "list enrolled devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, status, err := o.do(http.MethodGet, "/v1/devices", nil)
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return fmt.Errorf("listing devices: %s", out)
			}
			return printDevicesTable(out)
		},
		SilenceUsage: true,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get DEVICE_ID",
		Short: "get a single device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, status, err := o.do(http.MethodGet, "/v1/devices/"+args[0], nil)
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return fmt.Errorf("getting device/%s: %s", args[0], out)
			}
			fmt.Println(string(out))
			return nil
		},
		SilenceUsage: true,
	})

	return cmd
}

type deviceRow struct {
	ID       string     `json:"ID"`
	Alias    string     `json:"Alias"`
	LastSeen *time.Time `json:"LastSeen"`
}

func printDevicesTable(out []byte) error {
	var rows []deviceRow
	if err := json.Unmarshal(out, &rows); err != nil {
		return fmt.Errorf("decoding device list: %w", err)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 1, '\t', 0)
	fmt.Fprintln(w, "ID\tALIAS\tLAST_SEEN")
	for _, d := range rows {
		lastSeen := "-"
		if d.LastSeen != nil {
			lastSeen = d.LastSeen.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", d.ID, d.Alias, lastSeen)
	}
	return w.Flush()
}

func newCommandCommand(o *clientOptions) *cobra.Command {
	var action string
	var params map[string]string

	cmd := &cobra.Command{
		Use:   "command DEVICE_ID",
		Short: "dispatch a command to a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if action == "" {
				return fmt.Errorf("must specify --action")
			}
			body := map[string]interface{}{
				"action": action,
				"params": params,
			}
			out, status, err := o.do(http.MethodPost, "/v1/devices/"+args[0]+"/commands", body)
			if err != nil {
				return err
			}
			if status != http.StatusOK && status != http.StatusCreated {
				return fmt.Errorf("dispatching command: %s", out)
			}
			fmt.Println(string(out))
			return nil
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVar(&action, "action", "", "command action (e.g. relaunch_unity, install_apk)")
	cmd.Flags().StringToStringVar(&params, "param", nil, "command parameter as key=value, repeatable")
	return cmd
}

func newDeployCommand(o *clientOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "manage staged APK deployments",
	}

	var apkVersionID string
	var deviceIDs []string
	var batchSize int
	var successThreshold int
	var batchTimeoutMin int

	create := &cobra.Command{
		Use:   "create",
		Short: "create a staged deployment run",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{
				"apk_version_id":    apkVersionID,
				"device_ids":        deviceIDs,
				"batch_size":        batchSize,
				"success_threshold": successThreshold,
				"batch_timeout_min": batchTimeoutMin,
			}
			out, status, err := o.do(http.MethodPost, "/v1/deployments", body)
			if err != nil {
				return err
			}
			if status != http.StatusOK && status != http.StatusCreated {
				return fmt.Errorf("creating deployment: %s", out)
			}
			fmt.Println(string(out))
			return nil
		},
		SilenceUsage: true,
	}
	create.Flags().StringVar(&apkVersionID, "apk-version-id", "", "APK version to roll out")
	create.Flags().StringSliceVar(&deviceIDs, "device", nil, "target device id, repeatable")
	create.Flags().IntVar(&batchSize, "batch-size", 0, "devices per batch (default from server)")
	create.Flags().IntVar(&successThreshold, "success-threshold", 0, "required successful devices per batch (default: batch size)")
	create.Flags().IntVar(&batchTimeoutMin, "batch-timeout-min", 0, "per-batch timeout in minutes")
	cmd.AddCommand(create)

	for _, verb := range []string{"pause", "resume", "abort"} {
		verb := verb
		cmd.AddCommand(&cobra.Command{
			Use:   verb + " RUN_ID",
			Short: verb + " a deployment run",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				out, status, err := o.do(http.MethodPost, "/v1/deployments/"+args[0]+"/"+verb, nil)
				if err != nil {
					return err
				}
				if status != http.StatusOK && status != http.StatusNoContent {
					return fmt.Errorf("%sing deployment/%s: %s", verb, args[0], out)
				}
				fmt.Println(string(out))
				return nil
			},
			SilenceUsage: true,
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status RUN_ID",
		Short: "show a deployment run and its batches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, status, err := o.do(http.MethodGet, "/v1/deployments/"+args[0], nil)
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return fmt.Errorf("getting deployment/%s: %s", args[0], out)
			}
			fmt.Println(string(out))
			return nil
		},
		SilenceUsage: true,
	})

	return cmd
}
