/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	paydash "github.com/jingkai27/payments-dashboard"
)

// settlementCommands groups the reconciliation drill tooling: generating a
// mock settlement file from the books and reconciling a real one.
func settlementCommands(b *paydashInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settlement",
		Short: "settlement file tooling",
	}

	cmd.AddCommand(generateSettlementCommand(b))
	cmd.AddCommand(reconcileSettlementCommand(b))

	return cmd
}

// generateSettlementCommand projects a window of internal transactions
// into a settlement CSV, with a configured fraction perturbed so the file
// exercises the reconciliation path.
func generateSettlementCommand(b *paydashInstance) *cobra.Command {
	var (
		merchantID string
		provider   string
		days       int
		seed       int64
		out        string
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "generate a mock settlement CSV from recorded transactions",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			windowEnd := time.Now()
			windowStart := windowEnd.AddDate(0, 0, -days)

			records, err := b.paydash.GenerateMockSettlement(ctx, merchantID, provider, windowStart, windowEnd, seed)
			if err != nil {
				log.Fatalf("Error generating settlement: %v", err)
			}

			w := os.Stdout
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					log.Fatalf("Error creating %s: %v", out, err)
				}
				defer func() {
					if err := f.Close(); err != nil {
						log.Printf("Error closing %s: %v", out, err)
					}
				}()
				w = f
			}

			if err := paydash.WriteSettlementCSV(w, records); err != nil {
				log.Fatalf("Error writing settlement CSV: %v", err)
			}
			log.Printf("Wrote %d settlement records", len(records))
		},
	}

	cmd.Flags().StringVar(&merchantID, "merchant", "", "restrict to one merchant id")
	cmd.Flags().StringVar(&provider, "provider", "", "provider code to settle")
	cmd.Flags().IntVar(&days, "days", 1, "window length in days, ending now")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed for reproducible perturbation")
	cmd.Flags().StringVar(&out, "out", "", "output file (defaults to stdout)")

	return cmd
}

// reconcileSettlementCommand reconciles a settlement file against the
// books and prints the report summary.
func reconcileSettlementCommand(b *paydashInstance) *cobra.Command {
	var (
		merchantID string
		provider   string
		days       int
		file       string
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "reconcile a settlement file against internal records",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			f, err := os.Open(file)
			if err != nil {
				log.Fatalf("Error opening %s: %v", file, err)
			}
			defer func() {
				if err := f.Close(); err != nil {
					log.Printf("Error closing %s: %v", file, err)
				}
			}()

			records, err := paydash.ParseSettlementFile(f, file)
			if err != nil {
				log.Fatalf("Error parsing settlement file: %v", err)
			}

			windowEnd := time.Now()
			report, err := b.paydash.Reconcile(ctx, paydash.ReconcileRequest{
				MerchantID:   merchantID,
				ProviderCode: provider,
				WindowStart:  windowEnd.AddDate(0, 0, -days),
				WindowEnd:    windowEnd,
				Records:      records,
			})
			if err != nil {
				log.Fatalf("Error reconciling: %v", err)
			}

			log.Printf("Report %s: %s", report.ReportID, report.Status)
			log.Printf("  matched=%d missing_in_db=%d missing_in_provider=%d amount_mismatches=%d status_mismatches=%d",
				report.Summary.Matched, report.Summary.MissingInDB, report.Summary.MissingInProvider,
				report.Summary.AmountMismatches, report.Summary.StatusMismatches)
		},
	}

	cmd.Flags().StringVar(&merchantID, "merchant", "", "restrict to one merchant id")
	cmd.Flags().StringVar(&provider, "provider", "", "provider code the file came from")
	cmd.Flags().IntVar(&days, "days", 1, "window length in days, ending now")
	cmd.Flags().StringVar(&file, "file", "", "settlement file to reconcile (CSV or JSON)")
	if err := cmd.MarkFlagRequired("file"); err != nil {
		log.Fatal(err)
	}

	return cmd
}
