package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qontrek/civos/pkg/ledger"
	"github.com/qontrek/civos/pkg/ledger/sqlstore"
)

func (c *cli) ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the persisted proof ledger",
	}
	cmd.AddCommand(c.ledgerVerifyCmd())
	cmd.AddCommand(c.ledgerExportCmd())
	return cmd
}

func (c *cli) openLedger(cmd *cobra.Command) (*ledger.Ledger, func() error, error) {
	if c.cfg.Ledger.Driver == "memory" {
		return nil, nil, fmt.Errorf("ledger.driver is memory; nothing is persisted")
	}
	store, err := sqlstore.Open(cmd.Context(), c.cfg.Ledger.Driver, c.cfg.Ledger.DSN)
	if err != nil {
		return nil, nil, err
	}
	l := ledger.New()
	if _, err := l.Restore(cmd.Context(), store); err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return l, store.Close, nil
}

func (c *cli) ledgerVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify the hash chain of the persisted ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, closeFn, err := c.openLedger(cmd)
			if err != nil {
				return fmt.Errorf("ledger verification failed: %w", err)
			}
			defer func() { _ = closeFn() }()
			fmt.Fprintf(cmd.OutOrStdout(), "ledger ok: %d entries, head %s\n", l.Len(), l.Head())
			return nil
		},
	}
}

func (c *cli) ledgerExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Write every ledger entry as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, closeFn, err := c.openLedger(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, e := range l.List() {
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
