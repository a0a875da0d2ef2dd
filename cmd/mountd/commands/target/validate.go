package target

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/mountd/cmd/mountd/cmdutil"
	"github.com/marmos91/mountd/internal/cli/output"
	"github.com/marmos91/mountd/pkg/models"
	"github.com/spf13/cobra"
)

// probeTimeout bounds the bucket reachability check so a wedged endpoint
// cannot hang the command.
const probeTimeout = 10 * time.Second

var (
	validateEndpointURL string
	validateRegion      string
	validateAccessKey   string
	validateSecretKey   string
	validatePathStyle   bool
	validateSkipProbe   bool
)

var validateCmd = &cobra.Command{
	Use:   "validate <id|name>",
	Short: "Validate a target's registration",
	Long: `Check that a target's registered fields are usable.

Syntax checks always run: mount path shape, export format, bucket
naming. For object-storage targets the command can additionally probe
the bucket with an S3 HeadBucket call; pass the endpoint and
credentials as flags, or --skip-probe to stay offline. The probe does
not use the target's credential reference — resolving that requires a
request token and is the daemon's job.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateEndpointURL, "endpoint-url", "", "S3 endpoint URL for the reachability probe")
	validateCmd.Flags().StringVar(&validateRegion, "region", "", "S3 region for the reachability probe")
	validateCmd.Flags().StringVar(&validateAccessKey, "access-key", "", "S3 access key (default: SDK credential chain)")
	validateCmd.Flags().StringVar(&validateSecretKey, "secret-key", "", "S3 secret key")
	validateCmd.Flags().BoolVar(&validatePathStyle, "path-style", false, "Use path-style addressing (MinIO and most private endpoints)")
	validateCmd.Flags().BoolVar(&validateSkipProbe, "skip-probe", false, "Syntax checks only; do not contact the endpoint")
}

func runValidate(cmd *cobra.Command, args []string) error {
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

	printer := output.DefaultPrinter()

	if err := target.Validate(); err != nil {
		printer.Error(fmt.Sprintf("Syntax check failed: %v", err))
		return fmt.Errorf("target %q is invalid", target.Name)
	}
	printer.Success("Syntax checks passed")

	if target.Kind == models.TargetKindUserFS && target.CredentialRef == "" {
		printer.Warning("Warning: no credential reference registered; the daemon cannot mount this target")
	}

	if target.Kind != models.TargetKindUserFS || validateSkipProbe {
		return nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := probeBucket(probeCtx, target.Export); err != nil {
		printer.Error(fmt.Sprintf("Bucket probe failed: %v", err))
		return fmt.Errorf("bucket %q is not reachable", target.Export)
	}
	printer.Success(fmt.Sprintf("Bucket '%s' is reachable", target.Export))
	return nil
}

// probeBucket issues a HeadBucket against the flag-supplied endpoint.
// Flag credentials take precedence; without them the SDK's default
// chain (environment, shared config, instance metadata) applies.
func probeBucket(ctx context.Context, bucket string) error {
	var opts []func(*awsconfig.LoadOptions) error
	if validateRegion != "" {
		opts = append(opts, awsconfig.WithRegion(validateRegion))
	}
	if validateAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(validateAccessKey, validateSecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if validateEndpointURL != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(validateEndpointURL)
		})
	}
	if validatePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return err
	}
	return nil
}
