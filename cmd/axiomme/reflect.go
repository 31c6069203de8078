package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func reflectCmd() *cobra.Command {
	var scopeKey string

	cmd := &cobra.Command{
		Use:   "reflect",
		Short: "reflect a scope key now: buffer a reflection if none is staged, then apply it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if scopeKey == "" {
				return fmt.Errorf("--scope is required")
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := context.Background()
			record, err := a.st.GetOmRecordByScopeKey(ctx, scopeKey)
			if err != nil {
				return fmt.Errorf("load om record for %s: %w", scopeKey, err)
			}

			if record.BufferedReflection == "" && !record.IsBufferingReflection {
				if _, err := a.reflector.Buffer(ctx, record, a.cfg.Reflection.ObservationTokens); err != nil {
					return fmt.Errorf("buffer reflection: %w", err)
				}
			}

			record, err = a.st.GetOmRecordByScopeKey(ctx, scopeKey)
			if err != nil {
				return err
			}
			// Manual trigger events aren't outbox rows, so synthesize a
			// negative id that can never collide with a real one (real
			// outbox ids are positive autoincrement), keeping the CAS
			// idempotence check meaningful per call.
			manualEventID := -time.Now().UnixNano()
			outcome, err := a.reflector.Apply(ctx, record, manualEventID, a.cfg.Reflection.ObservationTokens)
			if err != nil {
				return fmt.Errorf("apply reflection: %w", err)
			}
			fmt.Println("reflection outcome:", outcome)
			return nil
		},
	}

	cmd.Flags().StringVar(&scopeKey, "scope", "", "scope key, e.g. session:s1")
	return cmd
}
