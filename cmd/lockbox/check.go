package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/lockbox/internal/clock"
	"github.com/goodtune/lockbox/internal/policy"
	"github.com/goodtune/lockbox/internal/subscription"
	"github.com/goodtune/lockbox/internal/usage"
	"github.com/spf13/cobra"
)

var (
	checkAt    string
	checkUsage time.Duration
	checkSlots []string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the lock decision interactively",
	Long: `Check what lock decision Lockbox would make with the stored settings at a
given time and usage. Without flags the current time and today's usage are used.`,
	Example: `  lockbox check --at 21:30 --usage 90m
  lockbox check --at "2025-03-10 18:30" --slot evening=45m`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkAt, "at", "", "Time of day (HH:MM) or date and time (YYYY-MM-DD HH:MM); defaults to now")
	checkCmd.Flags().DurationVar(&checkUsage, "usage", -1, "Total usage today; defaults to the recorded usage")
	checkCmd.Flags().StringSliceVar(&checkSlots, "slot", nil, "Usage inside a time slot, as NAME=DURATION (repeatable)")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer closeApp(a)

	now, err := parseCheckTime(checkAt, time.Now())
	if err != nil {
		return fmt.Errorf("invalid time specification: %w", err)
	}

	record := a.Ledger.Today(ctx)
	settings := a.Store.CurrentSettings()
	if checkUsage >= 0 {
		record.TotalSeconds = int64(checkUsage / time.Second)
	}
	for _, entry := range checkSlots {
		name, value, ok := strings.Cut(entry, "=")
		if !ok {
			return fmt.Errorf("invalid slot usage %q, want NAME=DURATION", entry)
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid slot usage %q: %w", entry, err)
		}
		slot, ok := findSlot(settings, name)
		if !ok {
			return fmt.Errorf("unknown time slot %q", name)
		}
		record.SlotSeconds[slot.ID] = int64(d / time.Second)
	}

	decision := a.Check(ctx, record, now)
	printCheckResult(settings, record, now, decision)
	return nil
}

// parseCheckTime accepts HH:MM (today) or YYYY-MM-DD HH:MM in local time.
func parseCheckTime(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return now, nil
	}
	if t, err := time.ParseInLocation(clock.DayLayout+" 15:04", s, now.Location()); err == nil {
		return t, nil
	}
	tod, err := clock.ParseTimeOfDay(s)
	if err != nil {
		return time.Time{}, err
	}
	return clock.StartOfDay(now).Add(time.Duration(tod.Minutes()) * time.Minute), nil
}

func findSlot(settings subscription.Settings, nameOrID string) (subscription.TimeSlot, bool) {
	if settings.Premium == nil {
		return subscription.TimeSlot{}, false
	}
	for _, slot := range settings.Premium.TimeSlots {
		if slot.Name == nameOrID || slot.ID == nameOrID {
			return slot, true
		}
	}
	return subscription.TimeSlot{}, false
}

// printCheckResult prints the check result with colors
func printCheckResult(settings subscription.Settings, record usage.Record, now time.Time, decision policy.Decision) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("LOCK POLICY CHECK")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("Check Time: %s (%s)\n", now.Format("2006-01-02 15:04"), now.Weekday())
	fmt.Printf("Tier:       %s\n", settings.Tier)
	fmt.Printf("Usage:      %s\n", record.Total())
	if decision.ActiveSlot != "" {
		if slot, ok := findSlot(settings, decision.ActiveSlot); ok {
			fmt.Printf("Slot:       %s (%s of %s used)\n", slot, record.SlotUsage(slot.ID), slot.Allowed())
		}
	}
	fmt.Println()

	cyan.Print("Decision:   ")
	if decision.Lock {
		red.Println("LOCK")
		fmt.Printf("            → Unlocks automatically at %s\n", policy.ComputeScheduledUnlock(settings, now).Format("2006-01-02 15:04"))
	} else {
		green.Println("ALLOW")
		if remaining := policy.Remaining(settings, record, now); remaining >= 0 {
			fmt.Printf("            → %s remaining\n", remaining)
		}
	}
	fmt.Printf("Reason:     %s\n", decision.Reason)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}
