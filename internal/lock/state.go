package lock

import (
	"errors"
	"time"

	"github.com/goodtune/lockbox/internal/challenge"
	"github.com/goodtune/lockbox/internal/policy"
	"github.com/goodtune/lockbox/internal/subscription"
	"github.com/goodtune/lockbox/internal/usage"
)

// State is the lock state of the device.
type State string

const (
	Unlocked        State = "unlocked"
	Locked          State = "locked"
	ChallengeActive State = "challenge_active"
)

var states = []State{Unlocked, Locked, ChallengeActive}

var (
	ErrAlreadyActive       = errors.New("lock: a challenge is already active")
	ErrNoAttemptsRemaining = errors.New("lock: no challenge attempts remaining today")
	ErrNoActiveChallenge   = errors.New("lock: no active challenge")
	ErrNotLocked           = errors.New("lock: device is not locked")
)

// Transition reasons
const (
	ReasonPolicy     = "policy"
	ReasonManual     = "manual"
	ReasonAutoUnlock = "auto_unlock"
	ReasonChallenge  = "challenge"
	ReasonCancel     = "cancel"
	ReasonFailure    = "challenge_failed"
	ReasonRestore    = "restore"
)

// persisted is the lock context kept in storage across restarts.
type persisted struct {
	State           State      `json:"state"`
	Prior           State      `json:"prior,omitempty"`
	LockStart       *time.Time `json:"lock_start,omitempty"`
	ScheduledUnlock *time.Time `json:"scheduled_unlock,omitempty"`
}

// Snapshot is a read-only view for the presentation layer.
type Snapshot struct {
	State State             `json:"state"`
	At    time.Time         `json:"at"`
	Tier  subscription.Tier `json:"tier"`
	// LockStart and ScheduledUnlock are set only while Locked.
	LockStart          *time.Time           `json:"lock_start,omitempty"`
	ScheduledUnlock    *time.Time           `json:"scheduled_unlock,omitempty"`
	Decision           policy.Decision      `json:"decision"`
	Usage              usage.Record         `json:"usage"`
	Remaining          time.Duration        `json:"remaining"`
	AttemptsRemaining  int                  `json:"attempts_remaining"`
	RefreshesRemaining int                  `json:"refreshes_remaining"`
	Challenge          *challenge.Challenge `json:"challenge,omitempty"`
	LastResult         *challenge.Result    `json:"last_result,omitempty"`
	Degraded           bool                 `json:"degraded"`
}
