package streak

import "fmt"

// Kind classifies a motivation message.
type Kind string

const (
	KindWelcome Kind = "welcome"
	KindStreak  Kind = "streak"
	KindSuccess Kind = "success"
	KindRetry   Kind = "retry"
)

// Motivation is the message shown to the user.
type Motivation struct {
	Kind       Kind   `json:"kind"`
	Text       string `json:"text"`
	StreakDays int    `json:"streak_days,omitempty"`
}

// Message picks the motivation for the given counters. Precedence is
// welcome on day one, then a streak of three or more days, then
// yesterday's success, then encouragement to retry.
func Message(totalDays, streakDays int, yesterdayAchieved bool) Motivation {
	switch {
	case totalDays == 1:
		return Motivation{Kind: KindWelcome, Text: "Day one. Let's build a healthier habit together!"}
	case streakDays >= 3:
		return Motivation{Kind: KindStreak, Text: streakText(streakDays), StreakDays: streakDays}
	case yesterdayAchieved:
		return Motivation{Kind: KindSuccess, Text: "You met your goal yesterday. Keep it going today!"}
	default:
		return Motivation{Kind: KindRetry, Text: "Yesterday was tough. Today is a fresh start!"}
	}
}

func streakText(days int) string {
	switch days {
	case 7:
		return fmt.Sprintf("A full week! %d days in a row.", days)
	case 30:
		return fmt.Sprintf("A whole month! %d days in a row.", days)
	case 100:
		return fmt.Sprintf("Incredible, %d days in a row!", days)
	default:
		return fmt.Sprintf("%d days in a row. You're on fire!", days)
	}
}
