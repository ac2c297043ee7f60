package main

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fleetctl/fleetd/pkg/security"
	"github.com/fleetctl/fleetd/pkg/types"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fleetctl",
	Short: "fleetctl - operator CLI for a fleetd cluster",
	Long: `fleetctl talks to any one node's HTTP control API: status and
cluster membership, task submission, goal management, and enrollment.
It holds no state of its own and can be pointed at any node in the
cluster.`,
}

func init() {
	rootCmd.PersistentFlags().String("node", "127.0.0.1:9000", "Address of a fleetd node to talk to")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(clusterCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(goalsCmd)
	rootCmd.AddCommand(enrollCmd)
	rootCmd.AddCommand(certStatusCmd)

	certStatusCmd.Flags().String("node-id", "", "Node ID whose certificate to inspect")
}

func nodeClient(cmd *cobra.Command) *client {
	addr, _ := cmd.Flags().GetString("node")
	return newClient(addr)
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the node's status and leadership",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp map[string]interface{}
		if err := nodeClient(cmd).get("/status", &resp); err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Show full cluster state (nodes, tasks, goals, attachments)",
	RunE: func(cmd *cobra.Command, args []string) error {
		var snapshot types.Snapshot
		if err := nodeClient(cmd).get("/cluster", &snapshot); err != nil {
			return err
		}
		printJSON(snapshot)
		return nil
	},
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		var tasks []types.Task
		if err := nodeClient(cmd).get("/tasks", &tasks); err != nil {
			return err
		}
		printJSON(tasks)
		return nil
	},
}

var tasksSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit an echo task to a target node (--target and --message)",
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetString("target")
		message, _ := cmd.Flags().GetString("message")
		if target == "" {
			return fmt.Errorf("--target is required")
		}

		req := map[string]interface{}{
			"target_node": target,
			"payload": types.TaskPayload{
				Kind:    types.PayloadEcho,
				Message: message,
			},
		}

		var task types.Task
		if err := nodeClient(cmd).post("/tasks", req, &task); err != nil {
			return err
		}
		printJSON(task)
		return nil
	},
}

var goalsCmd = &cobra.Command{
	Use:   "goals",
	Short: "List goals",
	RunE: func(cmd *cobra.Command, args []string) error {
		var goals []types.Goal
		if err := nodeClient(cmd).get("/goals", &goals); err != nil {
			return err
		}
		printJSON(goals)
		return nil
	},
}

var goalsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a goal (--description, optional --priority)",
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")
		priority, _ := cmd.Flags().GetUint8("priority")
		if description == "" {
			return fmt.Errorf("--description is required")
		}

		req := map[string]interface{}{
			"description": description,
			"priority":    priority,
		}

		var goal types.Goal
		if err := nodeClient(cmd).post("/goals", req, &goal); err != nil {
			return err
		}
		printJSON(goal)
		return nil
	},
}

// enrollResult mirrors the fields of pkg/httpapi's enrollResponse that
// fleetctl needs in order to lay the issued material on disk.
type enrollResult struct {
	NodeID      string `json:"node_id"`
	ClusterID   string `json:"cluster_id"`
	NodeCertPEM string `json:"node_cert_pem"`
	NodeKeyPEM  string `json:"node_key_pem"`
	CACertPEM   string `json:"ca_cert_pem"`
	Peers       []struct {
		NodeID string `json:"node_id"`
		Addr   string `json:"addr"`
	} `json:"peers"`
}

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Redeem a join token for a node certificate and the current peer list",
	RunE: func(cmd *cobra.Command, args []string) error {
		token, _ := cmd.Flags().GetString("token")
		nodeID, _ := cmd.Flags().GetString("node-id")
		hostname, _ := cmd.Flags().GetString("hostname")
		if token == "" || nodeID == "" {
			return fmt.Errorf("--token and --node-id are required")
		}

		req := map[string]interface{}{
			"token":    token,
			"node_id":  nodeID,
			"hostname": hostname,
		}

		var resp enrollResult
		if err := nodeClient(cmd).post("/enroll", req, &resp); err != nil {
			return err
		}

		certDir, err := security.GetCertDir(resp.NodeID)
		if err != nil {
			return fmt.Errorf("locate cert directory: %w", err)
		}

		tlsCert, err := tls.X509KeyPair([]byte(resp.NodeCertPEM), []byte(resp.NodeKeyPEM))
		if err != nil {
			return fmt.Errorf("decode issued certificate: %w", err)
		}
		if err := security.SaveCertToFile(&tlsCert, certDir); err != nil {
			return fmt.Errorf("save node certificate: %w", err)
		}
		if err := security.SaveCACertToFile([]byte(resp.CACertPEM), certDir); err != nil {
			return fmt.Errorf("save CA certificate: %w", err)
		}

		fmt.Printf("enrolled as %s in cluster %s, certificate saved to %s\n", resp.NodeID, resp.ClusterID, certDir)
		printJSON(resp)
		return nil
	},
}

// certStatusCmd reports on the certificate enroll saved locally, without
// talking to any node: whether it exists, when it expires, and whether
// it has crossed the rotation threshold.
var certStatusCmd = &cobra.Command{
	Use:   "cert-status",
	Short: "Show the on-disk certificate's validity and rotation status",
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeID, _ := cmd.Flags().GetString("node-id")
		if nodeID == "" {
			return fmt.Errorf("--node-id is required")
		}

		certDir, err := security.GetCertDir(nodeID)
		if err != nil {
			return fmt.Errorf("locate cert directory: %w", err)
		}
		if !security.CertExists(certDir) {
			return fmt.Errorf("no certificate found under %s, run enroll first", certDir)
		}

		cert, err := security.LoadCertFromFile(certDir)
		if err != nil {
			return fmt.Errorf("load certificate: %w", err)
		}
		caCert, err := security.LoadCACertFromFile(certDir)
		if err != nil {
			return fmt.Errorf("load CA certificate: %w", err)
		}

		info := security.GetCertInfo(cert.Leaf)
		info["needs_rotation"] = security.CertNeedsRotation(cert.Leaf)
		info["time_remaining"] = security.GetCertTimeRemaining(cert.Leaf).String()
		if err := security.ValidateCertChain(cert.Leaf, caCert); err != nil {
			info["chain_valid"] = false
			info["chain_error"] = err.Error()
		} else {
			info["chain_valid"] = true
		}
		printJSON(info)
		return nil
	},
}

func init() {
	tasksSubmitCmd.Flags().String("target", "", "Target node ID")
	tasksSubmitCmd.Flags().String("message", "", "Echo message")
	tasksCmd.AddCommand(tasksSubmitCmd)

	goalsAddCmd.Flags().String("description", "", "Goal description")
	goalsAddCmd.Flags().Uint8("priority", 5, "Goal priority (0-255)")
	goalsCmd.AddCommand(goalsAddCmd)

	enrollCmd.Flags().String("token", "", "Enrollment token minted by an existing node")
	enrollCmd.Flags().String("node-id", "", "Node ID to enroll as")
	enrollCmd.Flags().String("hostname", "", "Hostname to embed in the issued certificate")
}
