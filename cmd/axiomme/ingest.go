package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/axiomme/axiomme/pkg/types"
)

func ingestCmd() *cobra.Command {
	var sessionID, role, text string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "append one message to a session, running the on-message OM hook",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" || text == "" {
				return fmt.Errorf("--session and --text are required")
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			sess := a.newSession(types.ScopeSession, sessionID, "", "")
			plan, err := sess.Append(context.Background(), role, text, false)
			if err != nil {
				return err
			}
			fmt.Printf("observer=%v reflection=%v\n", plan.ShouldRunObserver, plan.ReflectionDecision != nil)
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session id")
	cmd.Flags().StringVar(&role, "role", "user", "message role")
	cmd.Flags().StringVar(&text, "text", "", "message text")
	return cmd
}
