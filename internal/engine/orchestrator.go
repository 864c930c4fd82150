package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/plf1996/simFocus/internal/cache"
	"github.com/plf1996/simFocus/internal/config"
	"github.com/plf1996/simFocus/internal/llm"
	"github.com/plf1996/simFocus/internal/models"
	"github.com/plf1996/simFocus/internal/store"
)

const (
	minParticipants = 3
	maxParticipants = 7
	minRounds       = 1
	maxRounds       = 10
	defaultRounds   = 3
)

// CreateInput is the request payload for creating a discussion.
type CreateInput struct {
	TopicID        uuid.UUID
	DiscussionMode string
	MaxRounds      int
	PersonaIDs     []uuid.UUID
}

// Orchestrator owns discussion lifecycles and the per-discussion background
// task. One process owns at most one live task per discussion id; the task
// registry is the in-process liveness lease enforcing that.
type Orchestrator struct {
	store        store.Store
	cache        cache.Cache
	registry     *llm.Registry
	turns        *TurnExecutor
	log          *logrus.Logger
	messageDelay time.Duration
	roundDelay   time.Duration

	// OnCompleted, when set, runs as a fire-and-forget side effect after a
	// discussion reaches completed via stop or natural exhaustion.
	OnCompleted func(discussionID uuid.UUID, providerName string)

	mu    sync.Mutex
	tasks map[uuid.UUID]*task
}

// task is one discussion's background loop handle.
type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewOrchestrator(s store.Store, c cache.Cache, registry *llm.Registry, cfg *config.EngineConfig, log *logrus.Logger) *Orchestrator {
	if log == nil {
		log = logrus.New()
	}
	summarizer := NewSummarizer(c, log)
	return &Orchestrator{
		store:        s,
		cache:        c,
		registry:     registry,
		turns:        NewTurnExecutor(s, c, summarizer, log),
		log:          log,
		messageDelay: cfg.MessageDelay,
		roundDelay:   cfg.RoundDelay,
		tasks:        make(map[uuid.UUID]*task),
	}
}

// Create validates input and persists a discussion in `initialized` with its
// participants, snapshotting each persona's stance.
func (o *Orchestrator) Create(ctx context.Context, userID uuid.UUID, in *CreateInput) (*models.Discussion, error) {
	topic, err := o.store.GetTopic(ctx, in.TopicID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, validationErrorf("topic not found")
		}
		return nil, fmt.Errorf("failed to load topic: %w", err)
	}
	if topic.UserID != userID {
		return nil, validationErrorf("topic not found")
	}

	if len(in.PersonaIDs) < minParticipants || len(in.PersonaIDs) > maxParticipants {
		return nil, validationErrorf("discussion must have %d-%d personas", minParticipants, maxParticipants)
	}

	rounds := in.MaxRounds
	if rounds == 0 {
		rounds = defaultRounds
	}
	if rounds < minRounds || rounds > maxRounds {
		return nil, validationErrorf("max_rounds must be between %d and %d", minRounds, maxRounds)
	}

	mode := in.DiscussionMode
	if mode == "" {
		mode = models.ModeFree
	}

	participants := make([]*models.Participant, 0, len(in.PersonaIDs))
	for idx, personaID := range in.PersonaIDs {
		persona, err := o.store.GetPersona(ctx, personaID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, validationErrorf("persona not found: %s", personaID)
			}
			return nil, fmt.Errorf("failed to load persona: %w", err)
		}
		stance := persona.ConfigString("stance")
		if stance == "" {
			stance = "neutral"
		}
		participants = append(participants, &models.Participant{
			PersonaID: persona.ID,
			Position:  idx,
			Stance:    stance,
		})
	}

	discussion := &models.Discussion{
		TopicID:        in.TopicID,
		UserID:         userID,
		DiscussionMode: mode,
		MaxRounds:      rounds,
		Status:         models.StatusInitialized,
		CurrentRound:   0,
		CurrentPhase:   models.PhaseOpening,
	}
	if err := o.store.CreateDiscussion(ctx, discussion, participants); err != nil {
		return nil, fmt.Errorf("failed to create discussion: %w", err)
	}

	if err := o.store.UpdateTopicStatus(ctx, topic.ID, models.TopicStatusInDiscussion); err != nil {
		o.log.WithError(err).Warn("Failed to mark topic in discussion")
	}

	refreshStateCache(ctx, o.cache, discussion, o.log)
	return discussion, nil
}

// Start transitions an initialized discussion to running and spawns its
// background task. Idempotent with respect to the task: a second start while
// a task is live never spawns a duplicate.
func (o *Orchestrator) Start(ctx context.Context, discussionID, userID uuid.UUID, providerName string) (*models.Discussion, error) {
	discussion, err := o.getOwned(ctx, discussionID, userID)
	if err != nil {
		return nil, err
	}

	target, err := nextStatus(discussion.Status, opStart)
	if err != nil {
		return nil, err
	}

	provider, err := o.registry.Get(providerName)
	if err != nil {
		return nil, stateErrorf("generation provider not found: %s", providerName)
	}

	now := time.Now()
	discussion.Status = target
	discussion.StartedAt = &now
	discussion.LLMProvider = provider.Name()
	if err := o.store.UpdateDiscussion(ctx, discussion); err != nil {
		return nil, fmt.Errorf("failed to update discussion: %w", err)
	}
	refreshStateCache(ctx, o.cache, discussion, o.log)

	o.spawnLoop(discussion.ID, provider.Name())
	return discussion, nil
}

// Pause flips a running discussion to paused. The background task is not
// cancelled; it observes the status at its next checkpoint, finishes the
// in-flight turn, and exits gracefully.
func (o *Orchestrator) Pause(ctx context.Context, discussionID, userID uuid.UUID) (*models.Discussion, error) {
	return o.transition(ctx, discussionID, userID, opPause, nil)
}

// Resume flips a paused discussion back to running and re-spawns the loop if
// no task is registered for it. The paused task always deregisters on exit,
// so in the normal case resume spawns a fresh task; a resume racing the old
// task's exit is absorbed by register-if-absent.
func (o *Orchestrator) Resume(ctx context.Context, discussionID, userID uuid.UUID) (*models.Discussion, error) {
	return o.transition(ctx, discussionID, userID, opResume, func(d *models.Discussion) {
		// A paused task that already decided to exit may still hold the
		// registry entry; wait for it to unwind so the spawn is not skipped.
		o.WaitForTask(d.ID, time.Second)
		o.spawnLoop(d.ID, d.LLMProvider)
	})
}

// Stop ends a discussion early: the background task is cancelled outright
// (unlike pause), status becomes completed, and the topic is closed out.
func (o *Orchestrator) Stop(ctx context.Context, discussionID, userID uuid.UUID) (*models.Discussion, error) {
	discussion, err := o.getOwned(ctx, discussionID, userID)
	if err != nil {
		return nil, err
	}

	target, err := nextStatus(discussion.Status, opStop)
	if err != nil {
		return nil, err
	}

	o.cancelTask(discussion.ID)

	now := time.Now()
	discussion.Status = target
	discussion.CompletedAt = &now
	if err := o.store.UpdateDiscussion(ctx, discussion); err != nil {
		return nil, fmt.Errorf("failed to update discussion: %w", err)
	}
	if err := o.store.UpdateTopicStatus(ctx, discussion.TopicID, models.TopicStatusCompleted); err != nil {
		o.log.WithError(err).Warn("Failed to mark topic completed")
	}
	refreshStateCache(ctx, o.cache, discussion, o.log)
	discussionsCompleted.Inc()

	if o.OnCompleted != nil {
		go o.OnCompleted(discussion.ID, discussion.LLMProvider)
	}
	return discussion, nil
}

// InjectQuestion records an externally injected user question at the current
// round/phase. It does not alter the state machine; subsequent turns surface
// it as prior context.
func (o *Orchestrator) InjectQuestion(ctx context.Context, discussionID, userID uuid.UUID, question string) (*models.Message, error) {
	discussion, err := o.getOwned(ctx, discussionID, userID)
	if err != nil {
		return nil, err
	}
	if discussion.Status != models.StatusRunning {
		return nil, stateErrorf("cannot inject question in status: %s", discussion.Status)
	}

	msg := &models.Message{
		DiscussionID:       discussion.ID,
		ParticipantID:      models.UserParticipantID,
		Round:              discussion.CurrentRound,
		Phase:              discussion.CurrentPhase,
		Content:            question,
		IsInjectedQuestion: true,
	}
	if err := o.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to create injected question: %w", err)
	}
	return msg, nil
}

// GetState returns the progress snapshot, cache-first with recomputation
// from the discussion record on a miss.
func (o *Orchestrator) GetState(ctx context.Context, discussionID uuid.UUID) (*models.DiscussionState, error) {
	var state models.DiscussionState
	if err := o.cache.Get(ctx, stateCacheKey(discussionID), &state); err == nil {
		return &state, nil
	}

	discussion, err := o.store.GetDiscussion(ctx, discussionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, validationErrorf("discussion not found")
		}
		return nil, fmt.Errorf("failed to load discussion: %w", err)
	}
	return Snapshot(discussion), nil
}

// Get returns a discussion owned by the user.
func (o *Orchestrator) Get(ctx context.Context, discussionID, userID uuid.UUID) (*models.Discussion, error) {
	return o.getOwned(ctx, discussionID, userID)
}

// List returns the user's discussions, newest first.
func (o *Orchestrator) List(ctx context.Context, userID uuid.UUID, offset, limit int) ([]*models.Discussion, error) {
	return o.store.ListDiscussions(ctx, userID, offset, limit)
}

// Delete removes a discussion and its dependent records. A live task is
// cancelled first.
func (o *Orchestrator) Delete(ctx context.Context, discussionID, userID uuid.UUID) error {
	if _, err := o.getOwned(ctx, discussionID, userID); err != nil {
		return err
	}
	o.cancelTask(discussionID)
	if err := o.store.DeleteDiscussion(ctx, discussionID); err != nil {
		return fmt.Errorf("failed to delete discussion: %w", err)
	}
	if err := o.cache.Delete(ctx, stateCacheKey(discussionID)); err != nil {
		o.log.WithError(err).Warn("Failed to drop state cache entry")
	}
	return nil
}

// ListMessages returns a discussion's messages enriched with speaker display
// names and avatars. A message with a broken participant join is still
// returned, labeled "Unknown".
func (o *Orchestrator) ListMessages(ctx context.Context, discussionID, userID uuid.UUID, offset, limit int) ([]*models.EnrichedMessage, error) {
	if _, err := o.getOwned(ctx, discussionID, userID); err != nil {
		return nil, err
	}

	msgs, err := o.store.ListMessages(ctx, discussionID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	names, avatars := o.speakerDirectory(ctx, discussionID)
	out := make([]*models.EnrichedMessage, 0, len(msgs))
	for _, msg := range msgs {
		enriched := &models.EnrichedMessage{Message: *msg}
		enriched.SpeakerName = SpeakerName(msg, names)
		if !msg.IsInjectedQuestion {
			enriched.SpeakerAvatar = avatars[msg.ParticipantID]
		}
		out = append(out, enriched)
	}
	return out, nil
}

func (o *Orchestrator) getOwned(ctx context.Context, discussionID, userID uuid.UUID) (*models.Discussion, error) {
	discussion, err := o.store.GetUserDiscussion(ctx, discussionID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, validationErrorf("discussion not found")
		}
		return nil, fmt.Errorf("failed to load discussion: %w", err)
	}
	return discussion, nil
}

// transition applies a table-driven lifecycle transition and an optional
// post-commit hook.
func (o *Orchestrator) transition(ctx context.Context, discussionID, userID uuid.UUID, op operation, after func(*models.Discussion)) (*models.Discussion, error) {
	discussion, err := o.getOwned(ctx, discussionID, userID)
	if err != nil {
		return nil, err
	}

	target, err := nextStatus(discussion.Status, op)
	if err != nil {
		return nil, err
	}

	discussion.Status = target
	if err := o.store.UpdateDiscussion(ctx, discussion); err != nil {
		return nil, fmt.Errorf("failed to update discussion: %w", err)
	}
	refreshStateCache(ctx, o.cache, discussion, o.log)

	if after != nil {
		after(discussion)
	}
	return discussion, nil
}

// speakerDirectory resolves participant ids to persona display names and
// avatars. Resolution failures degrade to missing entries, never errors.
func (o *Orchestrator) speakerDirectory(ctx context.Context, discussionID uuid.UUID) (map[uuid.UUID]string, map[uuid.UUID]string) {
	names := make(map[uuid.UUID]string)
	avatars := make(map[uuid.UUID]string)

	participants, err := o.store.ListParticipants(ctx, discussionID)
	if err != nil {
		o.log.WithError(err).Warn("Failed to load participants for enrichment")
		return names, avatars
	}
	for _, p := range participants {
		persona, err := o.store.GetPersona(ctx, p.PersonaID)
		if err != nil {
			continue
		}
		names[p.ID] = persona.Name
		avatars[p.ID] = persona.AvatarURL
	}
	return names, avatars
}

// spawnLoop registers and launches the background task for a discussion if
// none is live. The registry entry is always cleared when the task exits.
func (o *Orchestrator) spawnLoop(discussionID uuid.UUID, providerName string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.tasks[discussionID]; exists {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel, done: make(chan struct{})}
	o.tasks[discussionID] = t

	o.log.WithField("discussion_id", discussionID).Info("Spawning discussion loop")
	go func() {
		defer close(t.done)
		defer o.clearTask(discussionID)
		defer cancel()
		o.runLoop(ctx, discussionID, providerName)
	}()
}

func (o *Orchestrator) clearTask(discussionID uuid.UUID) {
	o.mu.Lock()
	delete(o.tasks, discussionID)
	o.mu.Unlock()
}

// cancelTask hard-cancels a registered task and waits for it to unwind so a
// partially flushed message is stable before the caller proceeds.
func (o *Orchestrator) cancelTask(discussionID uuid.UUID) {
	o.mu.Lock()
	t, ok := o.tasks[discussionID]
	if ok {
		delete(o.tasks, discussionID)
	}
	o.mu.Unlock()

	if ok {
		t.cancel()
		<-t.done
		o.log.WithField("discussion_id", discussionID).Info("Cancelled discussion loop")
	}
}

// TaskRunning reports whether a background task is registered for the
// discussion id.
func (o *Orchestrator) TaskRunning(discussionID uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.tasks[discussionID]
	return ok
}

// WaitForTask blocks until the discussion's task exits or the timeout
// elapses. It reports whether the task finished.
func (o *Orchestrator) WaitForTask(discussionID uuid.UUID, timeout time.Duration) bool {
	o.mu.Lock()
	t, ok := o.tasks[discussionID]
	o.mu.Unlock()
	if !ok {
		return true
	}
	select {
	case <-t.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// runLoop is the background task body. It exits on pause/stop, completion,
// hard cancellation, or a fatal error (which marks the discussion failed).
func (o *Orchestrator) runLoop(ctx context.Context, discussionID uuid.UUID, providerName string) {
	log := o.log.WithField("discussion_id", discussionID)
	log.Info("Discussion loop started")

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Discussion loop panicked")
			o.markFailed(discussionID)
		}
		log.Info("Discussion loop ended")
	}()

	provider, err := o.registry.Get(providerName)
	if err != nil {
		log.WithError(err).Error("Provider vanished from registry")
		o.markFailed(discussionID)
		return
	}

	if err := o.loop(ctx, discussionID, provider, log); err != nil {
		if ctx.Err() != nil {
			// Hard cancellation via stop; the stop path owns the status.
			return
		}
		log.WithError(err).Error("Discussion loop failed")
		o.markFailed(discussionID)
	}
}

func (o *Orchestrator) loop(ctx context.Context, discussionID uuid.UUID, provider llm.Provider, log *logrus.Entry) error {
	for {
		discussion, err := o.store.GetDiscussion(ctx, discussionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				log.Warn("Discussion no longer exists, stopping loop")
				return nil
			}
			return fmt.Errorf("failed to reload discussion: %w", err)
		}

		if discussion.Status != models.StatusRunning {
			log.WithField("status", discussion.Status).Info("Discussion no longer running, stopping loop")
			return nil
		}

		if IsComplete(discussion) {
			return o.complete(ctx, discussion, log)
		}

		participants, err := o.store.ListParticipants(ctx, discussionID)
		if err != nil {
			return fmt.Errorf("failed to load participants: %w", err)
		}
		if len(participants) == 0 {
			log.Error("No participants found, stopping loop")
			return nil
		}

		topic, err := o.store.GetTopic(ctx, discussion.TopicID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				log.Error("Topic not found, stopping loop")
				return nil
			}
			return fmt.Errorf("failed to load topic: %w", err)
		}

		names, _ := o.speakerDirectory(ctx, discussionID)

		// A resumed loop re-enters the phase it was paused in; participants
		// who already spoke in this (round, phase) must not speak twice.
		spoken, err := o.spokenThisPhase(ctx, discussion)
		if err != nil {
			return err
		}

		// Turns run strictly in position order so each turn sees every
		// earlier turn of the same round.
		for _, participant := range participants {
			if spoken[participant.ID] {
				continue
			}
			current, err := o.store.GetDiscussion(ctx, discussionID)
			if err != nil || current.Status != models.StatusRunning {
				log.Info("Discussion stopped during round, exiting loop")
				return nil
			}

			persona, err := o.store.GetPersona(ctx, participant.PersonaID)
			if err != nil {
				log.WithError(err).WithField("persona_id", participant.PersonaID).
					Error("Failed to load persona, skipping turn")
				continue
			}

			if _, err := o.turns.Execute(ctx, current, participant, persona, topic, names, provider); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("turn execution failed: %w", err)
			}

			if err := sleepCtx(ctx, o.messageDelay); err != nil {
				return err
			}
		}

		discussion, err = o.store.GetDiscussion(ctx, discussionID)
		if err != nil {
			return fmt.Errorf("failed to reload discussion before advance: %w", err)
		}
		Advance(discussion)
		if err := o.store.UpdateDiscussion(ctx, discussion); err != nil {
			return fmt.Errorf("failed to persist advanced state: %w", err)
		}
		refreshStateCache(ctx, o.cache, discussion, o.log)

		if discussion.Status == models.StatusRunning {
			if err := sleepCtx(ctx, o.roundDelay); err != nil {
				return err
			}
		}
	}
}

// spokenThisPhase returns the participant ids that already produced a turn
// message in the discussion's current (round, phase).
func (o *Orchestrator) spokenThisPhase(ctx context.Context, d *models.Discussion) (map[uuid.UUID]bool, error) {
	msgs, err := o.store.ListMessagesInRounds(ctx, d.ID, d.CurrentRound, d.CurrentRound)
	if err != nil {
		return nil, fmt.Errorf("failed to load current round messages: %w", err)
	}
	spoken := make(map[uuid.UUID]bool)
	for _, msg := range msgs {
		if msg.Phase == d.CurrentPhase && !msg.IsInjectedQuestion && msg.Content != "" {
			spoken[msg.ParticipantID] = true
		}
	}
	return spoken, nil
}

// complete finalizes a discussion that exhausted its rounds naturally.
func (o *Orchestrator) complete(ctx context.Context, discussion *models.Discussion, log *logrus.Entry) error {
	now := time.Now()
	discussion.Status = models.StatusCompleted
	discussion.CompletedAt = &now
	if err := o.store.UpdateDiscussion(ctx, discussion); err != nil {
		return fmt.Errorf("failed to mark discussion completed: %w", err)
	}
	if err := o.store.UpdateTopicStatus(ctx, discussion.TopicID, models.TopicStatusCompleted); err != nil {
		o.log.WithError(err).Warn("Failed to mark topic completed")
	}
	refreshStateCache(ctx, o.cache, discussion, o.log)
	discussionsCompleted.Inc()
	log.Info("Discussion completed")

	if o.OnCompleted != nil {
		go o.OnCompleted(discussion.ID, discussion.LLMProvider)
	}
	return nil
}

// markFailed marks a discussion failed if it is still running. Uses a fresh
// context: the loop's context may already be cancelled.
func (o *Orchestrator) markFailed(discussionID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	discussion, err := o.store.GetDiscussion(ctx, discussionID)
	if err != nil {
		o.log.WithField("discussion_id", discussionID).WithError(err).
			Error("Failed to load discussion while marking failed")
		return
	}
	if discussion.Status != models.StatusRunning {
		return
	}
	discussion.Status = models.StatusFailed
	if err := o.store.UpdateDiscussion(ctx, discussion); err != nil {
		o.log.WithField("discussion_id", discussionID).WithError(err).
			Error("Failed to mark discussion failed")
		return
	}
	refreshStateCache(ctx, o.cache, discussion, o.log)
	discussionsFailed.Inc()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
