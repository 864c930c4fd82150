package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/plf1996/simFocus/internal/cache"
	"github.com/plf1996/simFocus/internal/llm"
	"github.com/plf1996/simFocus/internal/models"
	"github.com/plf1996/simFocus/internal/store"
)

const (
	turnMaxTokens   = 500
	turnTemperature = 0.8
	// flushEvery controls how often partial stream content is persisted so
	// observers polling storage see incremental progress.
	flushEvery = 3
)

// TurnExecutor produces exactly one Message for one participant's turn:
// context assembly, streaming generation with incremental persistence, and
// final bookkeeping. A generation failure is absorbed into deterministic
// fallback content; only persistence failures surface as errors.
type TurnExecutor struct {
	store      store.Store
	cache      cache.Cache
	summarizer *Summarizer
	log        *logrus.Logger
}

func NewTurnExecutor(s store.Store, c cache.Cache, summarizer *Summarizer, log *logrus.Logger) *TurnExecutor {
	if log == nil {
		log = logrus.New()
	}
	return &TurnExecutor{store: s, cache: c, summarizer: summarizer, log: log}
}

// Execute runs one participant's turn and returns the persisted message.
func (t *TurnExecutor) Execute(
	ctx context.Context,
	discussion *models.Discussion,
	participant *models.Participant,
	persona *models.Persona,
	topic *models.Topic,
	names map[uuid.UUID]string,
	provider llm.Provider,
) (*models.Message, error) {
	log := t.log.WithFields(logrus.Fields{
		"discussion_id": discussion.ID,
		"persona":       persona.Name,
		"round":         discussion.CurrentRound,
		"phase":         discussion.CurrentPhase,
	})

	prompt, err := t.buildPrompt(ctx, discussion, participant, persona, topic, names, provider)
	if err != nil {
		return nil, err
	}

	// Persist an empty message first so it has a stable identity that
	// incremental flushes and observers can reference.
	msg := &models.Message{
		DiscussionID:  discussion.ID,
		ParticipantID: participant.ID,
		Round:         discussion.CurrentRound,
		Phase:         discussion.CurrentPhase,
		Content:       "",
	}
	if err := t.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	content, tokens, genErr := t.streamContent(ctx, prompt, msg, provider)
	if genErr != nil && ctx.Err() != nil {
		// Hard cancellation: leave whatever partial content was flushed.
		return nil, ctx.Err()
	}
	if genErr != nil {
		// A single persona's generation failure never aborts the round.
		log.WithError(genErr).Error("Generation failed, using fallback content")
		turnFallbacks.Inc()
		content = fmt.Sprintf(
			"I'm %s, and I believe %s is an important topic that needs careful consideration.",
			persona.Name, topic.Title)
		tokens = 0
	}
	if tokens == 0 && genErr == nil {
		tokens = estimateTokens(content)
	}

	msg.Content = content
	msg.TokenCount = tokens
	if err := t.store.UpdateMessageContent(ctx, msg.ID, content, tokens); err != nil {
		return nil, fmt.Errorf("failed to finalize message: %w", err)
	}
	if err := t.store.AddParticipantUsage(ctx, participant.ID, 1, tokens); err != nil {
		return nil, fmt.Errorf("failed to update participant usage: %w", err)
	}

	// Increment tokens only; a full record write here could clobber a pause
	// issued while the turn was streaming.
	if err := t.store.AddDiscussionTokens(ctx, discussion.ID, tokens); err != nil {
		return nil, fmt.Errorf("failed to update discussion tokens: %w", err)
	}
	discussion.TotalTokensUsed += tokens
	if current, err := t.store.GetDiscussion(ctx, discussion.ID); err == nil {
		refreshStateCache(ctx, t.cache, current, t.log)
	}

	turnsTotal.Inc()
	log.WithField("chars", len(content)).Info("Turn completed")
	return msg, nil
}

// buildPrompt loads the discussion history, summarizes rounds older than the
// verbatim window, and assembles the context window.
func (t *TurnExecutor) buildPrompt(
	ctx context.Context,
	discussion *models.Discussion,
	participant *models.Participant,
	persona *models.Persona,
	topic *models.Topic,
	names map[uuid.UUID]string,
	provider llm.Provider,
) (string, error) {
	history, err := t.store.ListMessagesInRounds(ctx, discussion.ID, 0, discussion.CurrentRound)
	if err != nil {
		return "", fmt.Errorf("failed to load discussion history: %w", err)
	}

	summaries := make(map[int]string)
	oldest := discussion.CurrentRound - verbatimWindow
	if oldest > 0 {
		byRound := make(map[int][]*models.Message)
		for _, msg := range history {
			if msg.Round < oldest {
				byRound[msg.Round] = append(byRound[msg.Round], msg)
			}
		}
		for round, msgs := range byRound {
			summaries[round] = t.summarizer.Summarize(ctx, discussion.ID, round, msgs, names, provider)
		}
	}

	return BuildTurnPrompt(&PromptInput{
		Discussion: discussion,
		Persona:    persona,
		Stance:     participant.Stance,
		Topic:      topic,
		Messages:   history,
		Names:      names,
		Summaries:  summaries,
	}), nil
}

// streamContent drives the streaming generation, flushing partial content to
// the message record every few chunks.
func (t *TurnExecutor) streamContent(
	ctx context.Context,
	prompt string,
	msg *models.Message,
	provider llm.Provider,
) (string, int, error) {
	stream, err := provider.CompleteStream(ctx, &models.GenerationRequest{
		Prompt:      prompt,
		MaxTokens:   turnMaxTokens,
		Temperature: turnTemperature,
	})
	if err != nil {
		return "", 0, err
	}

	var (
		content    string
		tokens     int
		chunkCount int
	)
	for chunk := range stream {
		if chunk.Err != nil {
			return "", 0, chunk.Err
		}
		if chunk.IsComplete {
			tokens = chunk.TokensUsed
			break
		}
		if chunk.Content == "" {
			continue
		}
		content += chunk.Content
		chunkCount++
		if chunkCount%flushEvery == 0 {
			if err := t.store.UpdateMessageContent(ctx, msg.ID, content, 0); err != nil {
				t.log.WithError(err).Warn("Failed to flush partial message content")
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	if content == "" {
		return "", 0, fmt.Errorf("stream produced no content")
	}
	return content, tokens, nil
}

// estimateTokens approximates token usage when the backend reports none.
func estimateTokens(s string) int {
	n := len(s) / 4
	if n == 0 && len(s) > 0 {
		n = 1
	}
	return n
}
