package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/axiomme/axiomme/internal/drr"
	"github.com/axiomme/axiomme/pkg/types"
)

func searchCmd() *cobra.Command {
	var target string
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "run a DRR query and print the ranked hit list plus trace id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			req := drr.Request{
				Query:       args[0],
				RequestType: "search",
				Filter:      types.Filter{TargetURI: target},
				Limit:       limit,
			}
			result, err := a.drr.Find(context.Background(), req)
			if err != nil {
				return err
			}

			printHits("memories", result.Memories)
			printHits("skills", result.Skills)
			printHits("resources", result.Resources)
			if result.Trace != nil {
				fmt.Println("trace_id:", result.Trace.TraceID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&target, "target", "", "target URI to focus the search under")
	cmd.Flags().IntVar(&limit, "limit", 10, "max hits in total, across all scope buckets")
	return cmd
}

func printHits(label string, hits []types.ScoredHit) {
	if len(hits) == 0 {
		return
	}
	fmt.Printf("-- %s --\n", label)
	for _, h := range hits {
		fmt.Printf("%.4f  %s  (depth %d)\n", h.Score, h.URI, h.Depth)
	}
}
