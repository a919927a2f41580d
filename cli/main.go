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

	"github.com/trustplane/trustplane/pkg/threat"
)

var (
	serverURL  string
	adminToken string
	Version    = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "trustplane",
		Short: "Trustplane - zero-trust access evaluation",
		Long:  "Evaluate access requests, inspect incidents, and check service segmentation",
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "Trustplane server URL")
	rootCmd.PersistentFlags().StringVarP(&adminToken, "token", "t", os.Getenv("TRUSTPLANE_ADMIN_TOKEN"), "Admin bearer token")

	rootCmd.AddCommand(
		evaluateCmd(),
		incidentsCmd(),
		incidentCmd(),
		checkSegmentCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func evaluateCmd() *cobra.Command {
	var contextFile string
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate an access request from a context file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(contextFile)
			if err != nil {
				return err
			}

			body, err := postJSON("/v1/evaluate", data)
			if err != nil {
				return err
			}

			var out struct {
				RequestID string `json:"request_id"`
				Trust     struct {
					Overall float64 `json:"overall"`
					Level   string  `json:"level"`
				} `json:"trust"`
				Decision struct {
					Access       string `json:"access"`
					Reason       string `json:"reason"`
					Session      int64  `json:"session"`
					Requirements []struct {
						Kind      string `json:"kind"`
						Detail    string `json:"detail"`
						Mandatory bool   `json:"mandatory"`
					} `json:"requirements"`
				} `json:"decision"`
			}
			if err := json.Unmarshal(body, &out); err != nil {
				return err
			}

			fmt.Printf("Request:   %s\n", out.RequestID)
			fmt.Printf("Decision:  %s\n", out.Decision.Access)
			fmt.Printf("Reason:    %s\n", out.Decision.Reason)
			fmt.Printf("Trust:     %.3f (%s)\n", out.Trust.Overall, out.Trust.Level)
			fmt.Printf("Session:   %s\n", time.Duration(out.Decision.Session))
			for _, r := range out.Decision.Requirements {
				marker := "optional"
				if r.Mandatory {
					marker = "required"
				}
				fmt.Printf("  - [%s] %s: %s\n", marker, r.Kind, r.Detail)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&contextFile, "file", "f", "context.json", "Evaluation context JSON file")
	return cmd
}

func incidentsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:     "incidents",
		Aliases: []string{"ls"},
		Short:   "List recent security incidents",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := getJSON(fmt.Sprintf("/v1/incidents?limit=%d", limit))
			if err != nil {
				return err
			}

			var out struct {
				Incidents []threat.Incident `json:"incidents"`
				Count     int               `json:"count"`
			}
			if err := json.Unmarshal(body, &out); err != nil {
				return err
			}
			if out.Count == 0 {
				fmt.Println("No incidents.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSUBJECT\tSEVERITY\tRISK\tTHREATS\tOPENED")
			for _, i := range out.Incidents {
				fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%d\t%s ago\n",
					i.ID, i.SubjectID, i.Severity, i.RiskScore, i.ThreatCount,
					time.Since(i.OpenedAt).Round(time.Second))
			}
			w.Flush()
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum incidents to list")
	return cmd
}

func incidentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "incident [id]",
		Short: "Show one incident with its assessments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := getJSON("/v1/incidents/" + args[0])
			if err != nil {
				return err
			}

			var out struct {
				Incident    threat.Incident     `json:"incident"`
				Assessments []threat.Assessment `json:"assessments"`
			}
			if err := json.Unmarshal(body, &out); err != nil {
				return err
			}

			i := out.Incident
			fmt.Printf("Incident: %s\n", i.ID)
			fmt.Printf("Subject:     %s\n", i.SubjectID)
			fmt.Printf("Event:       %s\n", i.EventID)
			fmt.Printf("Severity:    %s\n", i.Severity)
			fmt.Printf("Risk:        %.2f\n", i.RiskScore)
			fmt.Printf("Opened:      %s\n", i.OpenedAt.Format(time.RFC3339))
			fmt.Printf("Description: %s\n", i.Description)

			for _, a := range out.Assessments {
				fmt.Printf("\nAssessment at %s (%s, %.2f):\n", a.AssessedAt.Format(time.RFC3339), a.RiskLevel, a.RiskScore)
				for _, th := range a.Threats {
					fmt.Printf("  - %s [%s]: %s\n", th.Kind, th.Severity, th.Description)
				}
			}
			return nil
		},
	}
}

func checkSegmentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-segment [source] [target] [operation]",
		Short: "Check whether a service-to-service operation is allowed",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := json.Marshal(map[string]string{
				"source":    args[0],
				"target":    args[1],
				"operation": args[2],
			})
			if err != nil {
				return err
			}

			body, err := postJSON("/v1/segmentation/check", payload)
			if err != nil {
				return err
			}

			var out struct {
				Allowed bool `json:"allowed"`
			}
			if err := json.Unmarshal(body, &out); err != nil {
				return err
			}
			if out.Allowed {
				fmt.Printf("%s -> %s (%s): allowed\n", args[0], args[1], args[2])
				return nil
			}
			fmt.Printf("%s -> %s (%s): denied\n", args[0], args[1], args[2])
			os.Exit(2)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("trustplane version %s\n", Version)
		},
	}
}

func postJSON(path string, payload []byte) ([]byte, error) {
	req, err := http.NewRequest(http.MethodPost, serverURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return doRequest(req)
}

func getJSON(path string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, serverURL+path, nil)
	if err != nil {
		return nil, err
	}
	return doRequest(req)
}

func doRequest(req *http.Request) ([]byte, error) {
	if adminToken != "" {
		req.Header.Set("Authorization", "Bearer "+adminToken)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, apiErr.Error)
		}
		return nil, fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return body, nil
}
