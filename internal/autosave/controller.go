// Package autosave persists card edits without an explicit save action. Edits are debounced,
// at most one save runs at a time, and saves identical to the last persisted state are skipped.
package autosave

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cafecursor/cafecursor/internal/api"
	"github.com/cafecursor/cafecursor/internal/cards"
	"github.com/cafecursor/cafecursor/internal/timers"
	"go.uber.org/zap"
)

// State is the save indicator shown next to the editor.
type State string

const (
	StateIdle   State = "idle"
	StateSaving State = "saving"
	StateSaved  State = "saved"
	StateError  State = "error"
)

// SkipReason explains why a save attempt did not reach the network.
type SkipReason string

const (
	SkipNone            SkipReason = ""
	SkipUnauthenticated SkipReason = "unauthenticated"
	SkipInFlight        SkipReason = "in_flight"
	SkipNothingToSave   SkipReason = "nothing_to_save"
	SkipUnchanged       SkipReason = "unchanged"
	SkipClosed          SkipReason = "closed"
)

const (
	defaultDebounce  = time.Second
	defaultSavedHold = 2 * time.Second
	defaultErrorHold = 5 * time.Second
)

// CardAPI is the subset of the API client used to persist cards.
type CardAPI interface {
	CreateCard(ctx context.Context, input api.CardInput) (api.Card, error)
	UpdateCard(ctx context.Context, id string, input api.CardInput) (api.Card, error)
}

// Config wires a Controller. Client and Authenticated are required.
type Config struct {
	Client        CardAPI
	Authenticated func() bool
	// Existing seeds the controller with a card that is already persisted.
	Existing *api.Card
	// Regenerate runs after a save that changed the profile but kept the image.
	Regenerate func(ctx context.Context, card api.Card)
	OnStatus   func(Status)
	Scheduler  timers.Scheduler
	Logger     *zap.Logger
	Debounce   time.Duration
	SavedHold  time.Duration
	ErrorHold  time.Duration
}

// Status is a point-in-time view of the controller.
type Status struct {
	State  State
	Error  string
	CardID string
}

// Result describes the outcome of one save attempt.
type Result struct {
	Skipped SkipReason
	Created bool
	Card    api.Card
}

type snapshot struct {
	profile []byte
	image   string
}

func (s snapshot) equal(other snapshot) bool {
	return s.image == other.image && bytes.Equal(s.profile, other.profile)
}

type Controller struct {
	client        CardAPI
	authenticated func() bool
	regenerate    func(ctx context.Context, card api.Card)
	onStatus      func(Status)
	scheduler     timers.Scheduler
	logger        *zap.Logger
	debouncer     *timers.Debouncer
	savedHold     time.Duration
	errorHold     time.Duration

	mu         sync.Mutex
	profile    []byte
	image      string
	interacted bool
	cardID     string
	last       *snapshot
	inFlight   bool
	done       chan struct{}
	state      State
	errMessage string
	revert     timers.Timer
	revertGen  uint64
	closed     bool
}

var errMissingClient = errors.New("autosave: client and authentication check are required")

func NewController(cfg Config) (*Controller, error) {
	if cfg.Client == nil || cfg.Authenticated == nil {
		return nil, errMissingClient
	}
	scheduler := cfg.Scheduler
	if scheduler == nil {
		scheduler = timers.System()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	savedHold := cfg.SavedHold
	if savedHold <= 0 {
		savedHold = defaultSavedHold
	}
	errorHold := cfg.ErrorHold
	if errorHold <= 0 {
		errorHold = defaultErrorHold
	}

	c := &Controller{
		client:        cfg.Client,
		authenticated: cfg.Authenticated,
		regenerate:    cfg.Regenerate,
		onStatus:      cfg.OnStatus,
		scheduler:     scheduler,
		logger:        logger,
		debouncer:     timers.NewDebouncer(scheduler, debounce),
		savedHold:     savedHold,
		errorHold:     errorHold,
		profile:       []byte("{}"),
		state:         StateIdle,
	}
	if cfg.Existing != nil {
		profile, err := cards.CanonicalProfile(cfg.Existing.Profile)
		if err != nil {
			return nil, fmt.Errorf("autosave: existing profile: %w", err)
		}
		c.cardID = cfg.Existing.ID
		c.profile = profile
		c.image = strings.TrimSpace(cfg.Existing.ImageURL)
		c.last = &snapshot{profile: profile, image: c.image}
	}
	return c, nil
}

// SetProfile tracks the edited profile document. Malformed documents are rejected.
func (c *Controller) SetProfile(profile json.RawMessage) error {
	canonical, err := cards.CanonicalProfile(profile)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if bytes.Equal(canonical, c.profile) {
		return nil
	}
	c.profile = canonical
	c.armLocked()
	return nil
}

// SetImage tracks the resolved image URL.
func (c *Controller) SetImage(imageURL string) {
	imageURL = strings.TrimSpace(imageURL)
	c.mu.Lock()
	defer c.mu.Unlock()
	if imageURL == c.image {
		return
	}
	c.image = imageURL
	c.armLocked()
}

// MarkInteraction records that the user touched the editor. Changes made before the first
// interaction, such as loading an existing card, do not schedule saves.
func (c *Controller) MarkInteraction() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interacted = true
}

// ForceSave cancels the debounce timer and runs the save-or-skip logic now. A save already in
// flight is awaited first so the latest edits are durable when ForceSave returns.
func (c *Controller) ForceSave(ctx context.Context) (Result, error) {
	c.debouncer.Cancel()
	for {
		result, err := c.attempt(ctx)
		if result.Skipped != SkipInFlight {
			return result, err
		}
		c.mu.Lock()
		done := c.done
		c.mu.Unlock()
		if done == nil {
			continue
		}
		select {
		case <-done:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
}

// Close cancels pending timers. Saves completing after Close do not change the status.
func (c *Controller) Close() {
	c.debouncer.Cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.stopRevertLocked()
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// CardID returns the persisted card id, empty until the first save creates the card.
func (c *Controller) CardID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cardID
}

// DebouncePending reports whether a debounced save is armed.
func (c *Controller) DebouncePending() bool {
	return c.debouncer.Pending()
}

func (c *Controller) armLocked() {
	if !c.interacted || c.closed {
		return
	}
	c.debouncer.Debounce(c.fire)
}

func (c *Controller) fire() {
	result, err := c.attempt(context.Background())
	if err != nil {
		c.logger.Info("autosave failed", zap.Error(err))
		return
	}
	if result.Skipped != SkipNone {
		c.logger.Debug("autosave skipped", zap.String("reason", string(result.Skipped)))
	}
}

func (c *Controller) attempt(ctx context.Context) (Result, error) {
	c.mu.Lock()
	if reason := c.skipReasonLocked(); reason != SkipNone {
		c.mu.Unlock()
		return Result{Skipped: reason}, nil
	}
	candidate := snapshot{profile: c.profile, image: c.image}
	previous := c.last
	cardID := c.cardID
	c.inFlight = true
	c.done = make(chan struct{})
	c.setStateLocked(StateSaving, "")
	status := c.statusLocked()
	c.mu.Unlock()
	c.notify(status)

	input := api.CardInput{Profile: json.RawMessage(candidate.profile), ImageURL: candidate.image}
	var (
		card api.Card
		err  error
	)
	if cardID == "" {
		card, err = c.client.CreateCard(ctx, input)
	} else {
		card, err = c.client.UpdateCard(ctx, cardID, input)
	}

	c.mu.Lock()
	c.inFlight = false
	close(c.done)
	c.done = nil
	if c.closed {
		c.mu.Unlock()
		return Result{Skipped: SkipClosed}, err
	}
	if err != nil {
		c.setStateLocked(StateError, errorMessage(err))
		c.scheduleRevertLocked(c.errorHold)
		status = c.statusLocked()
		c.mu.Unlock()
		c.notify(status)
		return Result{}, err
	}

	if cardID == "" && card.ID != "" {
		c.cardID = card.ID
	}
	c.last = &candidate
	c.setStateLocked(StateSaved, "")
	c.scheduleRevertLocked(c.savedHold)
	status = c.statusLocked()
	c.mu.Unlock()
	c.notify(status)

	if previous != nil && !bytes.Equal(previous.profile, candidate.profile) && previous.image == candidate.image && c.regenerate != nil {
		c.regenerate(ctx, card)
	}
	return Result{Created: cardID == "", Card: card}, nil
}

func (c *Controller) skipReasonLocked() SkipReason {
	switch {
	case c.closed:
		return SkipClosed
	case !c.authenticated():
		return SkipUnauthenticated
	case c.inFlight:
		return SkipInFlight
	case c.cardID == "" && c.image == "":
		return SkipNothingToSave
	case c.last != nil && c.last.equal(snapshot{profile: c.profile, image: c.image}):
		return SkipUnchanged
	default:
		return SkipNone
	}
}

func (c *Controller) setStateLocked(state State, message string) {
	c.stopRevertLocked()
	c.state = state
	c.errMessage = message
}

// scheduleRevertLocked returns the indicator to idle after hold.
func (c *Controller) scheduleRevertLocked(hold time.Duration) {
	c.revertGen++
	generation := c.revertGen
	c.revert = c.scheduler.AfterFunc(hold, func() {
		c.mu.Lock()
		if c.closed || generation != c.revertGen {
			c.mu.Unlock()
			return
		}
		c.revert = nil
		c.state = StateIdle
		c.errMessage = ""
		status := c.statusLocked()
		c.mu.Unlock()
		c.notify(status)
	})
}

func (c *Controller) stopRevertLocked() {
	c.revertGen++
	if c.revert != nil {
		c.revert.Stop()
		c.revert = nil
	}
}

func (c *Controller) statusLocked() Status {
	return Status{State: c.state, Error: c.errMessage, CardID: c.cardID}
}

func (c *Controller) notify(status Status) {
	if c.onStatus != nil {
		c.onStatus(status)
	}
}

func errorMessage(err error) string {
	var apiErr *api.Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}
