package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/astra/types"
)

var (
	ensureName     string
	ensureID       string
	ensureCloud    string
	ensureRegion   string
	ensureInterval time.Duration
	ensureCeiling  time.Duration
)

var dbEnsureActiveCmd = &cobra.Command{
	Use:   "ensure-active [name]",
	Short: "Bring a database to ACTIVE, creating or resuming it if needed",
	Long: `Bring a database to ACTIVE.

By name: a name that matches nothing is created with --cloud and --region;
a name that matches more than one live database is an error and nothing is
touched. By id: an unknown id is an error, nothing is created.

Hibernated databases are resumed, transitional ones waited on. Running it
against a database that is already ACTIVE changes nothing.

Exit codes: 2 ambiguous name, 3 not found, 4 unrecoverable status,
5 timeout, 6 resume rejected, 7 creation denied by policy.`,
	Example: `  astra db ensure-active demo-db --cloud gcp --region us-east1
  astra db ensure-active --id 3c8e9f7a-... --ceiling 5m`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEnsureActive,
}

func init() {
	dbCmd.AddCommand(dbEnsureActiveCmd)

	dbEnsureActiveCmd.Flags().StringVar(&ensureName, "name", "", "Select by database name")
	dbEnsureActiveCmd.Flags().StringVar(&ensureID, "id", "", "Select by database id")
	dbEnsureActiveCmd.Flags().StringVar(&ensureCloud, "cloud", "", "Cloud for creation (aws, gcp, azure); defaults to activation.default_cloud")
	dbEnsureActiveCmd.Flags().StringVar(&ensureRegion, "region", "", "Region for creation; defaults to activation.default_region")
	dbEnsureActiveCmd.Flags().DurationVar(&ensureInterval, "poll-interval", 0, "Override activation.poll_interval")
	dbEnsureActiveCmd.Flags().DurationVar(&ensureCeiling, "ceiling", 0, "Override activation.ceiling")
	dbEnsureActiveCmd.MarkFlagsMutuallyExclusive("name", "id")
}

func runEnsureActive(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	sel, err := selectorFrom(args, ensureName, ensureID)
	if err != nil {
		return err
	}

	cloud, region, err := placement(ensureCloud, ensureRegion)
	if err != nil {
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

	db, err := a.orchestrator(a.pollPolicy(ensureInterval, ensureCeiling)).EnsureActive(ctx, sel, cloud, region)
	if err != nil {
		return err
	}
	return printDatabase(cmd.OutOrStdout(), outputFmt, *db)
}

// selectorFrom builds a selector from a positional name or --name/--id
func selectorFrom(args []string, name, id string) (types.Selector, error) {
	if len(args) == 1 {
		if name != "" || id != "" {
			return types.Selector{}, fmt.Errorf("give the name as an argument or a flag, not both")
		}
		name = args[0]
	}

	var sel types.Selector
	switch {
	case id != "":
		sel = types.ByID(id)
	case name != "":
		sel = types.ByName(name)
	default:
		return types.Selector{}, fmt.Errorf("a database name or --id is required")
	}
	return sel, sel.Validate()
}
