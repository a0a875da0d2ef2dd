package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/marmos91/mountd/cmd/mountd/cmdutil"
	"github.com/marmos91/mountd/internal/cli/health"
	"github.com/marmos91/mountd/internal/cli/output"
	"github.com/marmos91/mountd/internal/cli/timeutil"
	"github.com/spf13/cobra"
)

var (
	statusOutput  string
	statusPidFile string
	statusAPIAddr string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long: `Display the current status of the mount daemon.

This command checks the PID file and queries the daemon's status endpoint
for node identity, queue name, uptime, and mount counters.

Examples:
  # Check status (uses API address from config)
  mountd status

  # Check status with explicit API address
  mountd status --api-addr 127.0.0.1:9080

  # Output as JSON
  mountd status --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusPidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/mountd/mountd.pid)")
	statusCmd.Flags().StringVar(&statusAPIAddr, "api-addr", "", "Status endpoint address (default: api.host:api.port from config)")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// DaemonStatus represents the daemon status information.
type DaemonStatus struct {
	Running bool   `json:"running" yaml:"running"`
	PID     int    `json:"pid,omitempty" yaml:"pid,omitempty"`
	Healthy bool   `json:"healthy" yaml:"healthy"`
	Message string `json:"message" yaml:"message"`

	NodeID  string `json:"node_id,omitempty" yaml:"node_id,omitempty"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
	Queue   string `json:"queue,omitempty" yaml:"queue,omitempty"`
	Uptime  string `json:"uptime,omitempty" yaml:"uptime,omitempty"`

	Targets         int   `json:"targets" yaml:"targets"`
	MountedTargets  int   `json:"mounted_targets" yaml:"mounted_targets"`
	ActiveJobs      int64 `json:"active_jobs" yaml:"active_jobs"`
	Inconsistencies int   `json:"inconsistencies" yaml:"inconsistencies"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	status := DaemonStatus{
		Running: false,
		Healthy: false,
		Message: "Daemon is not running",
	}

	// Use default PID file if not specified
	pidPath := statusPidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}

	// Check PID file first
	pidData, err := os.ReadFile(pidPath)
	if err == nil {
		pid, err := strconv.Atoi(strings.TrimSpace(string(pidData)))
		if err == nil {
			process, err := os.FindProcess(pid)
			if err == nil {
				// On Unix, FindProcess always succeeds; signal 0 probes liveness
				if err := process.Signal(syscall.Signal(0)); err == nil {
					status.Running = true
					status.PID = pid
				}
			}
		}
	}

	// Query the status endpoint (works for both daemon and foreground mode)
	statusURL := fmt.Sprintf("http://%s/status", resolveAPIAddr())
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(statusURL)
	if err == nil {
		defer func() { _ = resp.Body.Close() }()

		var envelope health.Response
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil {
			status.Running = true
			if envelope.Status == "ok" {
				var data health.StatusData
				if err := json.Unmarshal(envelope.Data, &data); err == nil {
					status.Healthy = true
					status.Message = "Daemon is running"
					status.NodeID = data.NodeID
					status.Version = data.Version
					status.Queue = data.Queue
					status.Uptime = (time.Duration(data.UptimeSeconds) * time.Second).String()
					status.Targets = data.Targets
					status.MountedTargets = data.MountedTargets
					status.ActiveJobs = data.ActiveJobs
					status.Inconsistencies = data.Inconsistencies
					if data.Inconsistencies > 0 {
						status.Message = fmt.Sprintf("Daemon is running; %d ledger/mount inconsistencies need attention", data.Inconsistencies)
					}
				}
			} else {
				status.Message = fmt.Sprintf("Daemon is running but unhealthy: %s", envelope.Error)
			}
		} else {
			status.Running = true
			status.Message = "Daemon is running but status response invalid"
		}
	} else if status.Running {
		// PID file says running but the endpoint did not answer
		status.Message = "Daemon process exists but status endpoint unreachable"
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, status)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, status)
	default:
		printStatusTable(status)
	}

	return nil
}

// resolveAPIAddr picks the status endpoint address: the flag wins, then the
// configuration, then the compiled-in default.
func resolveAPIAddr() string {
	if statusAPIAddr != "" {
		return statusAPIAddr
	}
	if cfg, err := cmdutil.LoadConfig(); err == nil {
		return cfg.API.ListenAddr()
	}
	return "127.0.0.1:8080"
}

func printStatusTable(status DaemonStatus) {
	fmt.Println()
	fmt.Println("Mount Daemon Status")
	fmt.Println("===================")
	fmt.Println()

	if status.Running {
		if status.Healthy {
			fmt.Printf("  Status:          \033[32m● Running\033[0m\n")
		} else {
			fmt.Printf("  Status:          \033[33m● Running (unhealthy)\033[0m\n")
		}
		if status.PID != 0 {
			fmt.Printf("  PID:             %d\n", status.PID)
		}
		if status.NodeID != "" {
			fmt.Printf("  Node:            %s\n", status.NodeID)
		}
		if status.Version != "" {
			fmt.Printf("  Version:         %s\n", status.Version)
		}
		if status.Queue != "" {
			fmt.Printf("  Queue:           %s\n", status.Queue)
		}
		if status.Uptime != "" {
			fmt.Printf("  Uptime:          %s\n", timeutil.FormatUptime(status.Uptime))
		}
		if status.Healthy {
			fmt.Println()
			fmt.Printf("  Targets:         %d\n", status.Targets)
			fmt.Printf("  Mounted:         %d\n", status.MountedTargets)
			fmt.Printf("  Active jobs:     %d\n", status.ActiveJobs)
			fmt.Printf("  Inconsistencies: %d\n", status.Inconsistencies)
		}
	} else {
		fmt.Printf("  Status:          \033[31m○ Stopped\033[0m\n")
	}

	fmt.Println()
	fmt.Printf("  %s\n", status.Message)
	fmt.Println()
}
