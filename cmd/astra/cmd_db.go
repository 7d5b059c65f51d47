package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/astra/types"
)

var (
	listStatus string
	listCloud  string
	listRegion string

	createCloud         string
	createRegion        string
	createKeyspace      string
	createTier          string
	createCapacityUnits int
	createWait          bool

	deleteYes bool

	resumeWait bool

	waitInterval time.Duration
	waitCeiling  time.Duration
)

// dbCmd groups the database commands
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Inspect and manage databases",
}

var dbListCmd = &cobra.Command{
	Use:   "list",
	Short: "List non-terminated databases",
	Example: `  astra db list                     # Every live database
  astra db list --status HIBERNATED   # Only hibernated ones
  astra db list --cloud gcp -o json   # GCP databases as JSON`,
	Args: cobra.NoArgs,
	RunE: runDBList,
}

var dbGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one database",
	Args:  cobra.ExactArgs(1),
	RunE:  runDBGet,
}

var dbCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a serverless database",
	Long: `Create a serverless database. The create policy, when configured, is
consulted first. Creation does not check whether the name is taken;
use ensure-active for that.`,
	Example: `  astra db create demo-db --cloud gcp --region us-east1
  astra db create demo-db --cloud aws --region us-east-1 --wait`,
	Args: cobra.ExactArgs(1),
	RunE: runDBCreate,
}

var dbDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Terminate a database",
	Args:  cobra.ExactArgs(1),
	RunE:  runDBDelete,
}

var dbResumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Send a resume request to a hibernated database",
	Args:  cobra.ExactArgs(1),
	RunE:  runDBResume,
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbListCmd, dbGetCmd, dbCreateCmd, dbDeleteCmd, dbResumeCmd)

	dbListCmd.Flags().StringVar(&listStatus, "status", "", "Only databases in this status")
	dbListCmd.Flags().StringVar(&listCloud, "cloud", "", "Only databases on this cloud (aws, gcp, azure)")
	dbListCmd.Flags().StringVar(&listRegion, "region", "", "Only databases in this region")

	dbCreateCmd.Flags().StringVar(&createCloud, "cloud", "", "Cloud provider (aws, gcp, azure); defaults to activation.default_cloud")
	dbCreateCmd.Flags().StringVar(&createRegion, "region", "", "Region; defaults to activation.default_region")
	dbCreateCmd.Flags().StringVar(&createKeyspace, "keyspace", "", "Initial keyspace; defaults to activation.default_keyspace")
	dbCreateCmd.Flags().StringVar(&createTier, "tier", "", "Tier (default serverless)")
	dbCreateCmd.Flags().IntVar(&createCapacityUnits, "capacity-units", 0, "Capacity units (default 1)")
	dbCreateCmd.Flags().BoolVar(&createWait, "wait", false, "Wait until the database is ACTIVE")

	dbDeleteCmd.Flags().BoolVar(&deleteYes, "yes", false, "Confirm termination")

	dbResumeCmd.Flags().BoolVar(&resumeWait, "wait", false, "Wait until the database is ACTIVE")

	for _, cmd := range []*cobra.Command{dbCreateCmd, dbResumeCmd} {
		cmd.Flags().DurationVar(&waitInterval, "poll-interval", 0, "Override activation.poll_interval")
		cmd.Flags().DurationVar(&waitCeiling, "ceiling", 0, "Override activation.ceiling")
	}
}

func runDBList(cmd *cobra.Command, args []string) error {
	filter := types.Filter{Region: listRegion}
	if listStatus != "" {
		filter.Status = types.ParseStatus(listStatus)
	}
	if listCloud != "" {
		cloud, err := types.ParseCloudProvider(listCloud)
		if err != nil {
			return err
		}
		filter.CloudProvider = cloud
	}

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	dbs, err := a.controlPlane.ListNonTerminated(cmd.Context())
	if err != nil {
		return err
	}
	return printDatabases(cmd.OutOrStdout(), outputFmt, types.FilterDatabases(dbs, filter))
}

func runDBGet(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	db, found, err := a.controlPlane.FindByID(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if !found {
		return errNotFound(args[0])
	}
	return printDatabase(cmd.OutOrStdout(), outputFmt, db)
}

func runDBCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cloud, region, err := placement(createCloud, createRegion)
	if err != nil {
		return err
	}

	keyspace := createKeyspace
	if keyspace == "" {
		keyspace = cfg.Activation.DefaultKeyspace
	}
	spec := types.DatabaseSpec{
		Name:          args[0],
		CloudProvider: cloud,
		Region:        region,
		Keyspace:      keyspace,
		Tier:          createTier,
		CapacityUnits: createCapacityUnits,
	}.WithDefaults()
	if err := spec.Validate(); err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	if err := a.openState(ctx); err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if a.guard != nil {
		if err := a.guard.Check(ctx, spec); err != nil {
			return err
		}
	}

	id, err := a.controlPlane.Create(ctx, spec)
	if err != nil {
		return err
	}

	if !createWait {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), id)
		return err
	}

	db, err := a.orchestrator(a.pollPolicy(waitInterval, waitCeiling)).AwaitActive(ctx, id)
	if err != nil {
		return err
	}
	return printDatabase(cmd.OutOrStdout(), outputFmt, *db)
}

func runDBDelete(cmd *cobra.Command, args []string) error {
	if !deleteYes {
		return fmt.Errorf("refusing to terminate %s without --yes", args[0])
	}

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	if err := a.controlPlane.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Termination of %s requested\n", args[0])
	return err
}

func runDBResume(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}

	db, found, err := a.controlPlane.FindByID(ctx, args[0])
	if err != nil {
		return err
	}
	if !found {
		return errNotFound(args[0])
	}

	switch db.Status.Disposition() {
	case types.Terminal:
		return &types.UnrecoverableStateError{ID: db.ID, Status: db.Status}
	case types.Ready:
		return printDatabase(cmd.OutOrStdout(), outputFmt, db)
	}

	if err := a.dataPlane.Resume(ctx, db); err != nil {
		return err
	}

	if !resumeWait {
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "Resume of %s requested (status %s)\n", db.ID, db.Status)
		return err
	}

	if err := a.openState(ctx); err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	active, err := a.orchestrator(a.pollPolicy(waitInterval, waitCeiling)).AwaitActive(ctx, db.ID)
	if err != nil {
		return err
	}
	return printDatabase(cmd.OutOrStdout(), outputFmt, *active)
}

// placement resolves cloud and region flags against the configured defaults
func placement(cloudFlag, regionFlag string) (types.CloudProvider, string, error) {
	if cloudFlag == "" {
		cloudFlag = cfg.Activation.DefaultCloud
	}
	if regionFlag == "" {
		regionFlag = cfg.Activation.DefaultRegion
	}

	var cloud types.CloudProvider
	if cloudFlag != "" {
		parsed, err := types.ParseCloudProvider(cloudFlag)
		if err != nil {
			return "", "", err
		}
		cloud = parsed
	}
	return cloud, regionFlag, nil
}
