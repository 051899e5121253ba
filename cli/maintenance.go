package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRepairCommand runs one consistency sweep and a ledger reconciliation, then exits.
func NewRepairCommand() *cobra.Command {
	var reconcile bool

	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Repair every account record and report ledger drift",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			eng, err := buildEngine(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			n, err := eng.guard.RepairAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "repaired %d accounts\n", n)
			if !reconcile {
				return nil
			}
			drifts, err := eng.guard.ReconcileAll(cmd.Context())
			if err != nil {
				return err
			}
			for _, d := range drifts {
				fmt.Fprintf(cmd.OutOrStdout(), "drift %s %s: balance=%d ledger=%d\n", d.SubjectID, d.Instrument, d.Balance, d.LedgerSum)
			}
			if len(drifts) > 0 {
				return fmt.Errorf("%d ledger drifts found", len(drifts))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&reconcile, "reconcile", true, "compare balances with ledger sums")
	return cmd
}

// NewSeedCommand upserts a YAML catalog of events, missions and deliverables.
func NewSeedCommand() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a YAML catalog into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if path == "" {
				path = cfg.CatalogPath
			}
			if path == "" {
				return fmt.Errorf("--catalog or CATALOG_PATH is required")
			}
			eng, err := buildEngine(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return seedCatalog(cmd.Context(), eng.db, path)
		},
	}
	cmd.Flags().StringVar(&path, "catalog", "", "path to the catalog YAML")
	return cmd
}
