package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/lockbox/internal/challenge"
	"github.com/goodtune/lockbox/internal/lock"
	"github.com/spf13/cobra"
)

var challengeCmd = &cobra.Command{
	Use:   "challenge",
	Short: "Earn an early unlock by writing a sentence",
	Long: `Start an unlock challenge. Two words are drawn and the sentence you write
must use both; it passes only when both judges accept it. Type !refresh for a
new pair of words, or an empty line to give up. Starting a challenge uses one
of today's attempts even when it is cancelled.`,
	RunE: runChallenge,
}

func init() {
	rootCmd.AddCommand(challengeCmd)
}

func runChallenge(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer closeApp(a)

	cyan := color.New(color.FgCyan, color.Bold)
	yellow := color.New(color.FgYellow)

	c, err := a.Machine.StartChallenge(ctx)
	if errors.Is(err, lock.ErrNotLocked) {
		yellow.Println("The device is not locked, there is nothing to unlock")
		return nil
	}
	if err != nil {
		return err
	}
	printWords(c)

	in := bufio.NewScanner(os.Stdin)
	for {
		cyan.Print("> ")
		if !in.Scan() {
			break
		}
		line := strings.TrimSpace(in.Text())

		switch line {
		case "":
			if err := a.Machine.CancelChallenge(ctx); err != nil {
				return err
			}
			fmt.Println("Challenge cancelled")
			return nil

		case "!refresh":
			c, err = a.Machine.RefreshWords(ctx)
			if errors.Is(err, challenge.ErrRefreshLimitReached) {
				yellow.Println("No word refreshes left today")
				continue
			}
			if err != nil {
				return err
			}
			printWords(c)
			continue
		}

		fmt.Println("Judging...")
		result, err := a.Machine.SubmitChallenge(ctx, line)
		if errors.Is(err, challenge.ErrInvalidAttempt) {
			yellow.Println("Use both words in a longer sentence")
			continue
		}
		if err != nil {
			return err
		}
		printResult(result)
		return nil
	}

	if err := in.Err(); err != nil {
		return err
	}
	return a.Machine.CancelChallenge(ctx)
}

func printWords(c challenge.Challenge) {
	bold := color.New(color.Bold)
	first, second := c.Pair.Strings()
	fmt.Print("Write a sentence using ")
	bold.Print(first)
	fmt.Print(" and ")
	bold.Println(second)
}

func printResult(r challenge.Result) {
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	for _, e := range r.Evaluations {
		verdict := red.Sprint(e.Verdict)
		if e.Verdict.Pass {
			verdict = green.Sprint(e.Verdict)
		}
		fmt.Printf("  judge %s: %s  %s\n", e.Judge, verdict, e.Verdict.Feedback)
	}
	if r.Success {
		green.Println("Unlocked! Today's budget starts again now.")
	} else {
		red.Println("Not this time.")
	}
}
