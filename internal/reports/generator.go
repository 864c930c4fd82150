// Package reports produces post-discussion summary reports.
package reports

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/plf1996/simFocus/internal/llm"
	"github.com/plf1996/simFocus/internal/models"
	"github.com/plf1996/simFocus/internal/store"
)

const (
	reportMaxTokens   = 1500
	reportTemperature = 0.4
	// The transcript fed to the provider is bounded so very long
	// discussions do not overrun the provider's context limit.
	maxTranscriptChars = 24000

	generateTimeout = 2 * time.Minute
)

// Generator builds a summary report for a finished discussion by running the
// full transcript through a generation provider.
type Generator struct {
	store    store.Store
	registry *llm.Registry
	log      *logrus.Logger
}

func NewGenerator(s store.Store, registry *llm.Registry, log *logrus.Logger) *Generator {
	if log == nil {
		log = logrus.New()
	}
	return &Generator{store: s, registry: registry, log: log}
}

// GenerateAsync kicks off report generation without blocking the caller.
// Failures are logged, never surfaced; the report is a best-effort artifact.
func (g *Generator) GenerateAsync(discussionID uuid.UUID, providerName string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), generateTimeout)
		defer cancel()
		if _, err := g.Generate(ctx, discussionID, providerName); err != nil {
			g.log.WithField("discussion_id", discussionID).WithError(err).
				Warn("Report generation failed")
		}
	}()
}

// Generate produces and persists a report for the discussion. A second call
// for the same discussion returns the existing report.
func (g *Generator) Generate(ctx context.Context, discussionID uuid.UUID, providerName string) (*models.Report, error) {
	if existing, err := g.store.GetReportByDiscussion(ctx, discussionID); err == nil {
		return existing, nil
	}

	discussion, err := g.store.GetDiscussion(ctx, discussionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load discussion: %w", err)
	}
	topic, err := g.store.GetTopic(ctx, discussion.TopicID)
	if err != nil {
		return nil, fmt.Errorf("failed to load topic: %w", err)
	}

	transcript, err := g.buildTranscript(ctx, discussionID)
	if err != nil {
		return nil, err
	}
	if transcript == "" {
		return nil, fmt.Errorf("discussion has no messages to summarize")
	}

	provider, err := g.registry.Get(providerName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve provider: %w", err)
	}

	result, err := provider.Complete(ctx, &models.GenerationRequest{
		Prompt:      buildReportPrompt(topic, discussion, transcript),
		MaxTokens:   reportMaxTokens,
		Temperature: reportTemperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate report: %w", err)
	}

	report := &models.Report{
		DiscussionID: discussionID,
		Content:      result.Content,
		Provider:     provider.Name(),
	}
	if err := g.store.CreateReport(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to save report: %w", err)
	}
	g.log.WithFields(logrus.Fields{
		"discussion_id": discussionID,
		"tokens":        result.TokensUsed,
	}).Info("Report generated")
	return report, nil
}

// GetByDiscussion returns the stored report for a user's discussion.
func (g *Generator) GetByDiscussion(ctx context.Context, discussionID, userID uuid.UUID) (*models.Report, error) {
	if _, err := g.store.GetUserDiscussion(ctx, discussionID, userID); err != nil {
		return nil, err
	}
	return g.store.GetReportByDiscussion(ctx, discussionID)
}

func (g *Generator) buildTranscript(ctx context.Context, discussionID uuid.UUID) (string, error) {
	msgs, err := g.store.ListMessages(ctx, discussionID, 0, 0)
	if err != nil {
		return "", fmt.Errorf("failed to list messages: %w", err)
	}

	names := make(map[uuid.UUID]string)
	if participants, err := g.store.ListParticipants(ctx, discussionID); err == nil {
		for _, p := range participants {
			if persona, err := g.store.GetPersona(ctx, p.PersonaID); err == nil {
				names[p.ID] = persona.Name
			}
		}
	}

	var b strings.Builder
	lastRound := -1
	for _, msg := range msgs {
		if msg.Round != lastRound {
			fmt.Fprintf(&b, "\n## Round %d\n", msg.Round+1)
			lastRound = msg.Round
		}
		speaker := names[msg.ParticipantID]
		if msg.IsInjectedQuestion {
			speaker = "User"
		} else if speaker == "" {
			speaker = "Unknown"
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", msg.Phase, speaker, msg.Content)
	}

	transcript := strings.TrimSpace(b.String())
	if len(transcript) > maxTranscriptChars {
		// Back off to a rune boundary so the cut never emits invalid UTF-8.
		cut := maxTranscriptChars
		for cut > 0 && !utf8.RuneStart(transcript[cut]) {
			cut--
		}
		transcript = transcript[:cut]
	}
	return transcript, nil
}

func buildReportPrompt(topic *models.Topic, discussion *models.Discussion, transcript string) string {
	var b strings.Builder
	b.WriteString("You are preparing an analyst report on a multi-participant discussion.\n\n")
	fmt.Fprintf(&b, "Topic: %s\n", topic.Title)
	if topic.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", topic.Description)
	}
	fmt.Fprintf(&b, "Rounds held: %d of %d\n\n", discussion.CurrentRound, discussion.MaxRounds)
	b.WriteString("Transcript:\n")
	b.WriteString(transcript)
	b.WriteString("\n\nWrite a structured report covering: key arguments raised, ")
	b.WriteString("points of agreement and disagreement, how positions evolved across rounds, ")
	b.WriteString("and overall conclusions. Use markdown headings.")
	return b.String()
}
