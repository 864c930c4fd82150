package engine

import (
	"context"
	"crypto/md5" // #nosec G501 -- cache key derivation, not security
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/plf1996/simFocus/internal/cache"
	"github.com/plf1996/simFocus/internal/llm"
	"github.com/plf1996/simFocus/internal/models"
)

const (
	summaryTTL          = time.Hour
	summaryMaxTokens    = 800
	summaryTemperature  = 0.5
	summaryFallbackSize = 1000
)

// Summarizer condenses a completed round's messages into a short summary,
// cached by (discussion, round, content hash) so an unchanged round is never
// summarized twice. It never fails: on generation errors it falls back to a
// truncated transcript.
type Summarizer struct {
	cache cache.Cache
	log   *logrus.Logger
}

func NewSummarizer(c cache.Cache, log *logrus.Logger) *Summarizer {
	if log == nil {
		log = logrus.New()
	}
	return &Summarizer{cache: c, log: log}
}

// Summarize returns the summary for one round's messages, generating and
// caching it on a miss.
func (s *Summarizer) Summarize(
	ctx context.Context,
	discussionID uuid.UUID,
	round int,
	msgs []*models.Message,
	names map[uuid.UUID]string,
	provider llm.Provider,
) string {
	transcript := buildRoundTranscript(msgs, names)
	key := summaryCacheKey(discussionID, round, transcript)

	var cached string
	if err := s.cache.Get(ctx, key, &cached); err == nil && cached != "" {
		summaryCacheHits.Inc()
		return cached
	}

	prompt := fmt.Sprintf(`Please summarize the following discussion round (Round %d).
Focus on:
1. Key arguments presented by each participant
2. Main points of agreement and disagreement
3. Important conclusions reached

Keep the summary under 500 words. Preserve the names of participants.

Discussion to summarize:
%s

Summary:`, round+1, transcript)

	result, err := provider.Complete(ctx, &models.GenerationRequest{
		Prompt:      prompt,
		MaxTokens:   summaryMaxTokens,
		Temperature: summaryTemperature,
	})
	if err != nil || strings.TrimSpace(result.Content) == "" {
		s.log.WithFields(logrus.Fields{
			"discussion_id": discussionID,
			"round":         round,
		}).WithError(err).Warn("Round summarization failed, using transcript excerpt")
		summaryFallbacks.Inc()
		return fallbackSummary(round, transcript)
	}

	summary := strings.TrimSpace(result.Content)
	if err := s.cache.Set(ctx, key, summary, summaryTTL); err != nil {
		s.log.WithError(err).Warn("Failed to cache round summary")
	}
	summariesGenerated.Inc()
	return summary
}

// summaryCacheKey derives the content-addressed cache key: any change to the
// round's message set produces a different hash and invalidates the entry.
func summaryCacheKey(discussionID uuid.UUID, round int, transcript string) string {
	sum := md5.Sum([]byte(transcript)) // #nosec G401
	return fmt.Sprintf("%s:%d:%s", discussionID, round, hex.EncodeToString(sum[:])[:8])
}

// buildRoundTranscript renders one round's messages grouped by phase.
func buildRoundTranscript(msgs []*models.Message, names map[uuid.UUID]string) string {
	byPhase := make(map[string][]*models.Message)
	for _, msg := range msgs {
		byPhase[msg.Phase] = append(byPhase[msg.Phase], msg)
	}

	var parts []string
	for _, phase := range models.Phases {
		phaseMsgs, ok := byPhase[phase]
		if !ok {
			continue
		}
		parts = append(parts, fmt.Sprintf("\n[%s Phase]", phaseLabels[phase]))
		for _, msg := range phaseMsgs {
			parts = append(parts, fmt.Sprintf("%s: %s", SpeakerName(msg, names), msg.Content))
		}
	}
	return strings.Join(parts, "\n")
}

// fallbackSummary is the deterministic substitute used when generation fails:
// a length-capped excerpt of the raw transcript.
func fallbackSummary(round int, transcript string) string {
	excerpt := transcript
	if len(excerpt) > summaryFallbackSize {
		excerpt = truncateUTF8(excerpt, summaryFallbackSize) + "..."
	}
	return fmt.Sprintf("[Round %d discussion excerpt]\n%s", round+1, excerpt)
}

// truncateUTF8 cuts s to at most limit bytes without splitting a rune.
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
