package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/qs3c/novel_go_server/internal/repository"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "按状态统计 AI 调用日志",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			repo := repository.NewCallLogRepository(db)

			counts, err := repo.CountByStatus()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, strings.Repeat("=", 40))
			fmt.Fprintln(out, "AI Call Log Summary")
			fmt.Fprintln(out, strings.Repeat("=", 40))

			statuses := make([]string, 0, len(counts))
			var total int64
			for s, n := range counts {
				statuses = append(statuses, s)
				total += n
			}
			sort.Strings(statuses)
			fmt.Fprintf(out, "%-10s %d\n", "total", total)
			for _, s := range statuses {
				fmt.Fprintf(out, "%-10s %d\n", s, counts[s])
			}

			oldest, err := repo.Oldest()
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				fmt.Fprintln(out, "oldest     -")
			case err != nil:
				return err
			default:
				fmt.Fprintf(out, "oldest     %s (%d days ago)\n",
					oldest.Format(time.DateTime), int(time.Since(*oldest).Hours()/24))
			}
			return nil
		},
	}
}
