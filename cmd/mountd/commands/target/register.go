package target

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/marmos91/mountd/cmd/mountd/cmdutil"
	"github.com/marmos91/mountd/internal/cli/output"
	"github.com/marmos91/mountd/internal/cli/prompt"
	"github.com/marmos91/mountd/pkg/models"
	"github.com/spf13/cobra"
)

// defaultMountBase is where derived mount paths land when the user does
// not pick one.
const defaultMountBase = "/var/lib/mountd/mounts"

var (
	registerName          string
	registerKind          string
	registerExport        string
	registerMountPath     string
	registerMountOptions  string
	registerCredentialRef string
	registerMountBase     string
	registerYes           bool
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a new backup target",
	Long: `Register a backup target in the shared ledger database.

With no flags the command runs an interactive wizard. With --name set,
the remaining fields come from flags and the command is scriptable.

Examples:
  # Interactive wizard
  mountd target register

  # NFS export, non-interactive
  mountd target register --name vault-nfs --kind netfs \
    --export backup-srv:/exports/vault --mount-options "vers=4,soft"

  # Object-storage bucket behind the user-space filesystem
  mountd target register --name vault-s3 --kind userfs \
    --export backup-vault \
    --credential-ref https://keystore.local/v1/secrets/abc123`,
	RunE: runRegister,
}

func init() {
	registerCmd.Flags().StringVar(&registerName, "name", "", "Target name (unique; enables non-interactive mode)")
	registerCmd.Flags().StringVar(&registerKind, "kind", "", "Target kind (netfs|userfs)")
	registerCmd.Flags().StringVar(&registerExport, "export", "", "NFS export (host:/path) or bucket name")
	registerCmd.Flags().StringVar(&registerMountPath, "mount-path", "", "Mount point on the node (default: derived from the export)")
	registerCmd.Flags().StringVar(&registerMountOptions, "mount-options", "", "mount(8) -o options (netfs only, default: defaults)")
	registerCmd.Flags().StringVar(&registerCredentialRef, "credential-ref", "", "Secret-store URL holding the driver credentials (userfs only)")
	registerCmd.Flags().StringVar(&registerMountBase, "mount-base", defaultMountBase, "Base directory for derived mount paths")
	registerCmd.Flags().BoolVarP(&registerYes, "yes", "y", false, "Skip the confirmation prompt")
}

func runRegister(cmd *cobra.Command, args []string) error {
	cfg, err := cmdutil.LoadConfig()
	if err != nil {
		return err
	}
	st, err := cmdutil.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	target, err := buildTarget()
	if err != nil {
		return cmdutil.HandleAbort(err)
	}
	if target == nil {
		fmt.Println("Aborted.")
		return nil
	}

	if err := target.Validate(); err != nil {
		return err
	}

	id, err := st.CreateTarget(cmd.Context(), target)
	if err != nil {
		if errors.Is(err, models.ErrDuplicateTarget) {
			return fmt.Errorf("a target named %q already exists", target.Name)
		}
		return fmt.Errorf("failed to register target: %w", err)
	}

	output.DefaultPrinter().Success(fmt.Sprintf("Target '%s' registered (id %s)", target.Name, id))
	fmt.Printf("  Kind:       %s\n", target.Kind)
	fmt.Printf("  Export:     %s\n", target.Export)
	fmt.Printf("  Mount path: %s\n", target.MountPath)
	return nil
}

// buildTarget assembles a target from flags, falling back to the wizard
// for anything missing. Returns (nil, nil) when the user declines the
// final confirmation.
func buildTarget() (*models.BackupTarget, error) {
	kind, err := pickKind()
	if err != nil {
		return nil, err
	}

	export := registerExport
	if export == "" {
		label := "NFS export (host:/path)"
		if kind == models.TargetKindUserFS {
			label = "Bucket name"
		}
		export, err = prompt.InputRequired(label)
		if err != nil {
			return nil, err
		}
	}

	name := registerName
	if name == "" {
		name, err = prompt.Input("Target name", deriveName(export))
		if err != nil {
			return nil, err
		}
	}

	mountPath := registerMountPath
	if mountPath == "" {
		defaultPath := filepath.Join(registerMountBase, deriveName(export))
		if registerName != "" {
			// Non-interactive: take the derived default silently.
			mountPath = defaultPath
		} else {
			mountPath, err = prompt.Input("Mount path", defaultPath)
			if err != nil {
				return nil, err
			}
		}
	}

	target := &models.BackupTarget{
		Name:      name,
		Kind:      kind,
		Export:    export,
		MountPath: mountPath,
	}

	switch kind {
	case models.TargetKindNetFS:
		target.MountOptions = registerMountOptions
		if target.MountOptions == "" && registerName == "" {
			opts, err := prompt.Input("Mount options", "defaults")
			if err != nil {
				return nil, err
			}
			if opts != "defaults" {
				target.MountOptions = opts
			}
		}
	case models.TargetKindUserFS:
		target.CredentialRef = registerCredentialRef
		if target.CredentialRef == "" {
			target.CredentialRef, err = prompt.InputRequired("Credential reference (secret-store URL)")
			if err != nil {
				return nil, err
			}
		}
	}

	if registerName == "" && !registerYes {
		printSummary(target)
		ok, err := prompt.Confirm("Register this target?", true)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
	}
	return target, nil
}

func pickKind() (models.TargetKind, error) {
	switch registerKind {
	case "":
		if registerName != "" {
			return "", fmt.Errorf("--kind is required with --name")
		}
	case string(models.TargetKindNetFS):
		return models.TargetKindNetFS, nil
	case string(models.TargetKindUserFS):
		return models.TargetKindUserFS, nil
	default:
		return "", fmt.Errorf("invalid kind %q: must be netfs or userfs", registerKind)
	}

	value, err := prompt.Select("Target kind", []prompt.SelectOption{
		{Label: "Network filesystem (NFS)", Value: string(models.TargetKindNetFS),
			Description: "Kernel mount of a remote export via mount(8)"},
		{Label: "Object storage (user-space filesystem)", Value: string(models.TargetKindUserFS),
			Description: "Bucket exposed through a user-space filesystem child process"},
	})
	if err != nil {
		return "", err
	}
	return models.TargetKind(value), nil
}

// deriveName turns an export into a filesystem-safe default name, the
// same way operators tend to name these by hand: host:/a/b -> host_a_b.
func deriveName(export string) string {
	name := strings.ReplaceAll(export, ":", "_")
	name = strings.ReplaceAll(name, "/", "_")
	return strings.Trim(name, "_")
}

func printSummary(t *models.BackupTarget) {
	fmt.Println("\nAbout to register:")
	fmt.Printf("  Name:       %s\n", t.Name)
	fmt.Printf("  Kind:       %s\n", t.Kind)
	fmt.Printf("  Export:     %s\n", t.Export)
	fmt.Printf("  Mount path: %s\n", t.MountPath)
	if t.Kind == models.TargetKindNetFS {
		fmt.Printf("  Options:    %s\n", t.EffectiveMountOptions())
	} else {
		fmt.Printf("  Credentials: %s\n", t.CredentialRef)
	}
	fmt.Println()
}
