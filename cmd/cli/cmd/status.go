package cmd

import (
	"context"
	"fmt"
	"time"

	"buildstate/pkg/api"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [build_id|build_number]",
	Short: "Get status of a build",
	Long:  `Retrieve the build record: its status (pending, running, completed, failed, cancelled), current checkpoint and timestamps. --history adds the checkpoint ledger.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c, ok := newClient(cmd)
		if !ok {
			return
		}
		ctx := context.Background()

		var build *api.BuildResponse
		var err error
		if _, perr := uuid.Parse(args[0]); perr == nil {
			build, err = c.GetBuild(ctx, args[0])
		} else {
			build, err = c.GetBuildByNumber(ctx, args[0])
		}
		if err != nil {
			printError(cmd, err)
			return
		}

		printBuild(cmd, *build)

		if history, _ := cmd.Flags().GetBool("history"); history {
			entries, err := c.ListLedger(ctx, build.ID)
			if err != nil {
				printError(cmd, err)
				return
			}
			cmd.Println()
			printLedger(cmd, entries)
		}
	},
}

func printBuild(cmd *cobra.Command, b api.BuildResponse) {
	icon := statusIcon(b.Status)
	cmd.Printf("%s %sBuild %s%s\n", icon, colorBold, b.BuildNumber, colorReset)
	cmd.Println("──────────────────────────────")

	cmd.Printf("%sID:%s          %s\n", colorDim, colorReset, b.ID)
	cmd.Printf("%sStatus:%s      %s\n", colorDim, colorReset, colorizeStatus(b.Status))
	cmd.Printf("%sCheckpoint:%s  %d\n", colorDim, colorReset, b.CurrentCheckpoint)
	cmd.Printf("%sTarget:%s      %s/%s/%s\n", colorDim, colorReset, b.Platform, b.OSVersion, b.ImageType)
	cmd.Printf("%sOwner:%s       %s\n", colorDim, colorReset, b.Owner)
	if b.Description != nil {
		cmd.Printf("%sDescription:%s %s\n", colorDim, colorReset, *b.Description)
	}

	cmd.Printf("%sStarted:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(&b.StartTime))
	if b.EndTime != nil {
		cmd.Printf("%sFinished:%s    %s %s(%s)%s\n", colorDim, colorReset,
			formatTimeWithRelative(b.EndTime),
			colorCyan, formatDuration(b.EndTime.Sub(b.StartTime)), colorReset)
	} else {
		cmd.Printf("%sFinished:%s    -\n", colorDim, colorReset)
	}
}

func printLedger(cmd *cobra.Command, entries []api.LedgerEntryResponse) {
	cmd.Printf("%sHistory%s\n", colorBold, colorReset)
	for _, e := range entries {
		line := fmt.Sprintf("  %3d  %-22s %s", e.Checkpoint, colorizeStatus(e.Status), e.StartTime.Format(time.RFC3339))
		if e.DurationMs != nil {
			line += fmt.Sprintf(" %s(%s)%s", colorCyan, formatDuration(time.Duration(*e.DurationMs)*time.Millisecond), colorReset)
		}
		if e.RetryCount > 0 {
			line += fmt.Sprintf(" retry %d", e.RetryCount)
		}
		if e.Message != nil {
			line += " " + *e.Message
		}
		cmd.Println(line)
	}
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func statusIcon(status string) string {
	switch status {
	case "completed":
		return colorGreen + "✓" + colorReset
	case "failed":
		return colorRed + "✗" + colorReset
	case "running", "started":
		return colorYellow + "⏳" + colorReset
	case "pending":
		return colorCyan + "◯" + colorReset
	case "cancelled", "skipped":
		return colorDim + "⊘" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	icon := statusIcon(status)
	switch status {
	case "completed":
		return icon + " " + colorGreen + status + colorReset
	case "failed":
		return icon + " " + colorRed + status + colorReset
	case "running", "started":
		return icon + " " + colorYellow + status + colorReset
	case "pending":
		return icon + " " + colorCyan + status + colorReset
	case "cancelled", "skipped":
		return icon + " " + colorDim + status + colorReset
	default:
		return status
	}
}

func formatTimeWithRelative(t *time.Time) string {
	if t == nil {
		return "-"
	}
	relative := relativeTime(*t)
	return fmt.Sprintf("%s %s(%s ago)%s", t.Format("Mon, 02 Jan 2006 15:04:05 MST"), colorDim, relative, colorReset)
}

func relativeTime(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	} else if duration < time.Hour {
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%dh", int(duration.Hours()))
	} else {
		days := int(duration.Hours() / 24)
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func init() {
	statusCmd.Flags().Bool("history", false, "Show the checkpoint ledger")
	rootCmd.AddCommand(statusCmd)
}
