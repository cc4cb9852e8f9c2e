package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"dams-sync/internal/services"
	"dams-sync/pkg/logging"
)

var (
	ingestDir       string
	ingestBatchSize int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load observation files into the source database",
	Long: `Load every <TAG>.txt file of --dir into dam_observations under the
variable tag TAG. Each line holds DAM_CODE<TAB>YYYY-MM-DD HH:MM:SS<TAB>VALUE;
blank lines and lines starting with # are ignored. Existing observations are
overwritten.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := bootstrap(ctx, "damsync-ingest")
		if err != nil {
			return err
		}
		defer a.close()

		ingestion := services.NewIngestionService(a.repo, a.logger, a.metrics)
		result, err := ingestion.IngestDirectory(ctx, ingestDir, ingestBatchSize)
		if err != nil {
			a.logger.Error(ctx, "[INGESTION_ERROR] Ingestion failed", logging.Fields{
				"data_dir": ingestDir,
			}, err)
			return err
		}

		fmt.Println(strings.Repeat("=", 60))
		fmt.Println("INGESTION COMPLETE")
		fmt.Println(strings.Repeat("=", 60))
		fmt.Printf("Total Files:        %d\n", result.TotalFiles)
		fmt.Printf("Total Records:      %d\n", result.TotalRecords)
		fmt.Printf("Successful Records: %d\n", result.SuccessfulRecords)
		fmt.Printf("Failed Records:     %d\n", result.FailedRecords)
		fmt.Printf("Duration:           %v\n", result.Duration)

		if len(result.Errors) > 0 {
			fmt.Printf("\nErrors (%d):\n", len(result.Errors))
			for i, errMsg := range result.Errors {
				if i == 10 {
					fmt.Printf("  ... and %d more errors\n", len(result.Errors)-10)
					break
				}
				fmt.Printf("  - %s\n", errMsg)
			}
			return fmt.Errorf("%d of %d files failed", len(result.Errors), result.TotalFiles)
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestDir, "dir", "./dams_data", "Directory containing observation files")
	ingestCmd.Flags().IntVar(&ingestBatchSize, "batch-size", services.DefaultIngestBatchSize, "Rows per insert batch")
	rootCmd.AddCommand(ingestCmd)
}
