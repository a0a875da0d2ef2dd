package mounts

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/marmos91/mountd/cmd/mountd/cmdutil"
	"github.com/marmos91/mountd/pkg/broker"
	"github.com/marmos91/mountd/pkg/client"
	"github.com/marmos91/mountd/pkg/creds"
	"github.com/marmos91/mountd/pkg/models"
	"github.com/spf13/cobra"
)

var (
	testMountJobID   uint64
	testMountToken   string
	testMountTimeout time.Duration
	testMountNode    string
	testMountNoWait  bool
)

var testMountCmd = &cobra.Command{
	Use:   "test-mount <id|name>",
	Short: "Mount and unmount a target through the daemon",
	Long: `Exercise the full mount path against a running daemon.

The command registers a synthetic running job, sends a mount request to
the node's queue, waits for Enter, then sends the matching unmount and
marks the job succeeded. Without an active job the daemon records the
claim but skips the physical mount, so the job registration is part of
the test.

The job ID must not collide with a real job; pick a high one with --job
if the default is taken.`,
	Args: cobra.ExactArgs(1),
	RunE: runTestMount,
}

func init() {
	testMountCmd.Flags().Uint64Var(&testMountJobID, "job", 99999, "Job ID to claim the mount with")
	testMountCmd.Flags().StringVar(&testMountToken, "token", "", "Request token (default: minted from the configured secret)")
	testMountCmd.Flags().DurationVar(&testMountTimeout, "timeout", 30*time.Second, "Per-request timeout")
	testMountCmd.Flags().StringVar(&testMountNode, "node", "", "Node to send the request to (default: this node)")
	testMountCmd.Flags().BoolVar(&testMountNoWait, "no-wait", false, "Unmount immediately instead of waiting for Enter")
}

func runTestMount(cmd *cobra.Command, args []string) error {
	cfg, err := cmdutil.LoadConfig()
	if err != nil {
		return err
	}
	st, err := cmdutil.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	ctx := cmd.Context()
	target, err := st.ResolveTarget(ctx, args[0])
	if err != nil {
		return err
	}

	node := testMountNode
	if node == "" {
		node = cfg.Node.ID
	}

	token := testMountToken
	if token == "" && cfg.Auth.HasSecret() {
		verifier, err := creds.NewJWTVerifier(cfg.Auth.GetSecret(), cfg.Auth.Issuer)
		if err != nil {
			return fmt.Errorf("failed to build token issuer: %w", err)
		}
		token, err = verifier.IssueToken("test-mount", 15*time.Minute)
		if err != nil {
			return fmt.Errorf("failed to mint request token: %w", err)
		}
	}

	// The daemon only mounts for active jobs; a bare claim is parked for
	// the reconciler. Register the synthetic job before asking.
	job := &models.Job{JobID: testMountJobID, Status: models.JobStatusRunning, Action: "test-mount"}
	if err := st.UpsertJob(ctx, job); err != nil {
		return fmt.Errorf("failed to register test job %d: %w", testMountJobID, err)
	}

	c, err := client.New(client.Config{
		URL:         cfg.Broker.URL,
		NodeID:      node,
		QueuePrefix: cfg.Broker.QueuePrefix,
		Timeout:     testMountTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	defer func() { _ = c.Close() }()

	fmt.Printf("Mounting '%s' as job %d on node %s...\n", target.Name, testMountJobID, node)
	reply, err := c.Mount(ctx, testMountJobID, target.ID, token)
	if err != nil {
		return fmt.Errorf("mount request failed: %w", err)
	}
	printReply("Mount", reply)
	if !reply.Success {
		return fmt.Errorf("daemon refused the mount: %s", reply.Message)
	}

	if !testMountNoWait {
		fmt.Print("\nPress Enter to unmount... ")
		_, _ = bufio.NewReader(os.Stdin).ReadString('\n')
	}

	fmt.Printf("Unmounting '%s'...\n", target.Name)
	reply, err = c.Unmount(ctx, testMountJobID, target.ID)
	if err != nil {
		return fmt.Errorf("unmount request failed: %w", err)
	}
	printReply("Unmount", reply)

	if err := st.SetJobStatus(ctx, testMountJobID, models.JobStatusSucceeded); err != nil {
		return fmt.Errorf("failed to close test job %d: %w", testMountJobID, err)
	}

	if !reply.Success {
		return fmt.Errorf("daemon refused the unmount: %s", reply.Message)
	}
	fmt.Println("\nTest mount completed.")
	return nil
}

func printReply(op string, r *broker.Reply) {
	status := "ok"
	if !r.Success {
		status = "failed"
	}
	fmt.Printf("%s: %s (%s)\n", op, status, r.Message)
	if r.MountPath != "" {
		fmt.Printf("  Mount path: %s\n", r.MountPath)
	}
	if r.ReusedExisting != nil {
		fmt.Printf("  Reused existing mount: %s\n", cmdutil.BoolToYesNo(r.WasReused()))
	}
	if r.PhysicallyMounted != nil {
		fmt.Printf("  Physically mounted: %s\n", cmdutil.BoolToYesNo(r.DidMount()))
	}
	if r.PhysicallyUnmounted != nil {
		fmt.Printf("  Physically unmounted: %s\n", cmdutil.BoolToYesNo(r.DidUnmount()))
	}
	if remaining := r.Remaining(); remaining >= 0 {
		fmt.Printf("  Active mounts remaining: %d\n", remaining)
	}
}
