package commands

import (
	"fmt"
	"os"
	"text/template"

	"github.com/spf13/cobra"
)

var systemdBinary string

var systemdCmd = &cobra.Command{
	Use:   "systemd",
	Short: "Emit a systemd unit file",
	Long: `Emit a systemd service unit for the mount daemon to stdout.

The unit runs the daemon in the foreground under systemd supervision.
KillMode=process stops only the daemon itself: user-fs child processes
keep their filesystems attached across a restart and are adopted when
the daemon comes back.

Examples:
  # Write the unit file
  mountd systemd | sudo tee /etc/systemd/system/mountd.service

  # Then enable and start
  sudo systemctl daemon-reload
  sudo systemctl enable --now mountd`,
	RunE: runSystemd,
}

func init() {
	systemdCmd.Flags().StringVar(&systemdBinary, "binary", "", "Executable path in ExecStart (default: this executable)")
}

const unitTemplate = `[Unit]
Description=mountd dynamic mount daemon
Documentation=https://github.com/marmos91/mountd
After=network-online.target rabbitmq-server.service
Wants=network-online.target

[Service]
Type=simple
ExecStart={{.Binary}} start --foreground{{if .ConfigFile}} --config {{.ConfigFile}}{{end}}
Restart=always
RestartSec=10
# Stop only the daemon; user-fs children keep their mounts and are
# adopted on the next start.
KillMode=process
TimeoutStopSec=45
LimitNOFILE=65536

[Install]
WantedBy=multi-user.target
`

func runSystemd(cmd *cobra.Command, args []string) error {
	binary := systemdBinary
	if binary == "" {
		executable, err := os.Executable()
		if err != nil {
			binary = "/usr/local/bin/mountd"
		} else {
			binary = executable
		}
	}

	tmpl, err := template.New("unit").Parse(unitTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse unit template: %w", err)
	}

	return tmpl.Execute(os.Stdout, struct {
		Binary     string
		ConfigFile string
	}{
		Binary:     binary,
		ConfigFile: GetConfigFile(),
	})
}
