package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/qs3c/novel_go_server/internal/model"
	"github.com/qs3c/novel_go_server/internal/repository"
)

func newLogsCmd() *cobra.Command {
	var (
		days   int
		status string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "删除指定天数之前的 AI 调用日志",
		Example: `  cleanup logs --days 30
  cleanup logs --days 7 --status failed --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 1 {
				return fmt.Errorf("--days must be at least 1")
			}
			if status != "" && status != model.CallStatusSuccess && status != model.CallStatusFailed {
				return fmt.Errorf("--status must be %q or %q", model.CallStatusSuccess, model.CallStatusFailed)
			}

			db, err := openDB()
			if err != nil {
				return err
			}
			repo := repository.NewCallLogRepository(db)
			before := time.Now().AddDate(0, 0, -days)

			out := cmd.OutOrStdout()
			scope := "all"
			if status != "" {
				scope = status
			}
			fmt.Fprintf(out, "Cleaning %s call logs created before %s\n", scope, before.Format(time.DateTime))

			if dryRun {
				n, err := repo.CountOlderThan(before, status)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Would delete %d logs\n", n)
				fmt.Fprintln(out, "DRY RUN MODE - nothing was deleted")
				return nil
			}

			n, err := repo.DeleteOlderThan(before, status)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, strings.Repeat("=", 40))
			fmt.Fprintf(out, "Deleted %d logs\n", n)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 30, "delete logs older than this many days")
	cmd.Flags().StringVar(&status, "status", "", "only delete logs with this status (success|failed)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only count matching logs")
	return cmd
}
