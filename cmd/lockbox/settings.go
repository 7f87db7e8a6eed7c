package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/lockbox/internal/clock"
	"github.com/goodtune/lockbox/internal/subscription"
	"github.com/spf13/cobra"
)

var (
	limitAutoUnlock string
	slotName        string
	slotStart       string
	slotEnd         string
	slotAllowed     time.Duration
)

var tierCmd = &cobra.Command{
	Use:   "tier free|premium",
	Short: "Switch the subscription tier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tier, err := subscription.ParseTier(args[0])
		if err != nil {
			return err
		}
		return withApp(func(ctx context.Context, s *subscription.Store) error {
			return s.SetTier(ctx, tier)
		})
	},
}

var limitCmd = &cobra.Command{
	Use:     "limit DURATION",
	Short:   "Set the free tier daily limit",
	Example: `  lockbox limit 2h --auto-unlock 07:00`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, err := time.ParseDuration(args[0])
		if err != nil {
			return fmt.Errorf("invalid limit: %w", err)
		}
		at, err := clock.ParseTimeOfDay(limitAutoUnlock)
		if err != nil {
			return err
		}
		return withApp(func(ctx context.Context, s *subscription.Store) error {
			return s.UpdateFreeSettings(ctx, limit, at.Hour, at.Minute)
		})
	},
}

var autoUnlockCmd = &cobra.Command{
	Use:   "auto-unlock HH:MM|midnight",
	Short: "Set when a premium lock is released automatically",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var at *clock.TimeOfDay
		if args[0] != "midnight" {
			tod, err := clock.ParseTimeOfDay(args[0])
			if err != nil {
				return err
			}
			at = &tod
		}
		return withApp(func(ctx context.Context, s *subscription.Store) error {
			return s.SetPremiumAutoUnlock(ctx, at)
		})
	},
}

var slotsCmd = &cobra.Command{
	Use:   "slots",
	Short: "Manage premium time slots",
}

var slotsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List premium time slots",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, s *subscription.Store) error {
			settings := s.CurrentSettings()
			if settings.Premium == nil {
				return fmt.Errorf("time slots require the premium tier")
			}
			mode := color.New(color.FgRed).Sprint("off")
			if settings.Premium.UseTimeSlotMode {
				mode = color.New(color.FgGreen).Sprint("on")
			}
			fmt.Printf("Time slot mode: %s\n", mode)
			if len(settings.Premium.TimeSlots) == 0 {
				fmt.Println("No time slots configured")
			}
			for _, slot := range settings.Premium.TimeSlots {
				fmt.Printf("%s  %s\n", slot.ID, slot)
			}
			return nil
		})
	},
}

var slotsAddCmd = &cobra.Command{
	Use:     "add",
	Short:   "Add a premium time slot",
	Example: `  lockbox slots add --name evening --start 18:00 --end 21:00 --allowed 1h`,
	RunE: func(cmd *cobra.Command, args []string) error {
		start, end, err := slotWindow()
		if err != nil {
			return err
		}
		return withApp(func(ctx context.Context, s *subscription.Store) error {
			slot := subscription.NewTimeSlot(slotName, start, end, slotAllowed, time.Now())
			if err := s.AddTimeSlot(ctx, slot); err != nil {
				return err
			}
			fmt.Printf("Added %s\n", slot.ID)
			return nil
		})
	},
}

var slotsUpdateCmd = &cobra.Command{
	Use:   "update ID",
	Short: "Replace a premium time slot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		start, end, err := slotWindow()
		if err != nil {
			return err
		}
		return withApp(func(ctx context.Context, s *subscription.Store) error {
			slot := subscription.NewTimeSlot(slotName, start, end, slotAllowed, time.Now())
			slot.ID = args[0]
			return s.UpdateTimeSlot(ctx, slot)
		})
	},
}

var slotsRemoveCmd = &cobra.Command{
	Use:   "remove ID",
	Short: "Remove a premium time slot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, s *subscription.Store) error {
			s.RemoveTimeSlot(ctx, args[0])
			return nil
		})
	},
}

var slotsModeCmd = &cobra.Command{
	Use:       "mode on|off",
	Short:     "Enable or disable time slot budgets",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if args[0] != "on" && args[0] != "off" {
			return fmt.Errorf("mode must be on or off")
		}
		return withApp(func(ctx context.Context, s *subscription.Store) error {
			return s.SetTimeSlotMode(ctx, args[0] == "on")
		})
	},
}

func init() {
	limitCmd.Flags().StringVar(&limitAutoUnlock, "auto-unlock", "00:00", "Time of day (HH:MM) a lock is released automatically")

	for _, c := range []*cobra.Command{slotsAddCmd, slotsUpdateCmd} {
		c.Flags().StringVar(&slotName, "name", "", "Slot name")
		c.Flags().StringVar(&slotStart, "start", "", "Start time (HH:MM)")
		c.Flags().StringVar(&slotEnd, "end", "", "End time (HH:MM)")
		c.Flags().DurationVar(&slotAllowed, "allowed", time.Hour, "Usage allowed inside the slot")
		_ = c.MarkFlagRequired("start")
		_ = c.MarkFlagRequired("end")
	}

	slotsCmd.AddCommand(slotsListCmd, slotsAddCmd, slotsUpdateCmd, slotsRemoveCmd, slotsModeCmd)
	rootCmd.AddCommand(tierCmd, limitCmd, autoUnlockCmd, slotsCmd)
}

func slotWindow() (clock.TimeOfDay, clock.TimeOfDay, error) {
	start, err := clock.ParseTimeOfDay(slotStart)
	if err != nil {
		return clock.TimeOfDay{}, clock.TimeOfDay{}, fmt.Errorf("invalid start: %w", err)
	}
	end, err := clock.ParseTimeOfDay(slotEnd)
	if err != nil {
		return clock.TimeOfDay{}, clock.TimeOfDay{}, fmt.Errorf("invalid end: %w", err)
	}
	return start, end, nil
}

// withApp runs fn against the settings store. The lock rule is applied to
// the new settings before the command returns.
func withApp(fn func(ctx context.Context, s *subscription.Store) error) error {
	ctx := context.Background()
	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer closeApp(a)

	if err := fn(ctx, a.Store); err != nil {
		return err
	}
	a.Machine.Evaluate(ctx)
	return nil
}
