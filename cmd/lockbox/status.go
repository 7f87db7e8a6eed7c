package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/goccy/go-json"
	"github.com/goodtune/lockbox/internal/app"
	"github.com/goodtune/lockbox/internal/lock"
	"github.com/goodtune/lockbox/internal/quota"
	"github.com/goodtune/lockbox/internal/subscription"
	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show lock state, usage and streak",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print status as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer closeApp(a)

	status := a.Status(ctx)
	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}
	printStatus(status)
	return nil
}

func printStatus(s app.Status) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("LOCKBOX STATUS")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	cyan.Print("State:      ")
	switch s.Lock.State {
	case lock.Unlocked:
		green.Println("UNLOCKED")
	case lock.Locked:
		red.Println("LOCKED")
		if s.Lock.ScheduledUnlock != nil {
			fmt.Printf("            → Unlocks automatically at %s\n", s.Lock.ScheduledUnlock.Format("2006-01-02 15:04"))
		}
	case lock.ChallengeActive:
		yellow.Println("CHALLENGE IN PROGRESS")
	}
	if s.Lock.Degraded {
		yellow.Println("            → Storage unavailable, changes are kept in memory only")
	}
	fmt.Println()

	fmt.Printf("Tier:       %s\n", s.Settings.Tier)
	fmt.Printf("Used today: %s\n", s.Lock.Usage.Total())
	switch {
	case !s.Settings.HasGoalSet():
		fmt.Println("Budget:     (no goal set)")
	case s.Lock.Remaining >= 0:
		fmt.Printf("Remaining:  %s\n", s.Lock.Remaining.Round(time.Second))
	default:
		fmt.Println("Remaining:  (outside any time slot)")
	}
	if s.Settings.Tier == subscription.Premium && s.Settings.Premium != nil {
		for _, slot := range s.Settings.Premium.TimeSlots {
			fmt.Printf("  %-20s %s-%s  %s / %s\n", slot.Name, slot.Start, slot.End, s.Lock.Usage.SlotUsage(slot.ID), slot.Allowed())
		}
	}
	fmt.Printf("Attempts:   %s\n", quotaString(s.Lock.AttemptsRemaining))
	fmt.Printf("Refreshes:  %s\n", quotaString(s.Lock.RefreshesRemaining))
	fmt.Println()

	fmt.Printf("Days:       %d (streak %d)\n", s.Streak.TotalDays, s.Streak.ConsecutiveDays)
	green.Println(s.Motivation.Text)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}

func quotaString(n int) string {
	if n == quota.Unlimited {
		return "unlimited"
	}
	return fmt.Sprintf("%d left today", n)
}
