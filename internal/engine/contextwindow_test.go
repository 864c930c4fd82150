package engine

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/plf1996/simFocus/internal/models"
)

func promptFixture(currentRound int) *PromptInput {
	alice := uuid.New()
	bob := uuid.New()
	names := map[uuid.UUID]string{alice: "Alice", bob: "Bob"}

	var msgs []*models.Message
	for round := 0; round <= currentRound; round++ {
		for _, pid := range []uuid.UUID{alice, bob} {
			msgs = append(msgs, &models.Message{
				ParticipantID: pid,
				Round:         round,
				Phase:         models.PhaseOpening,
				Content:       fmt.Sprintf("round %d content from %s", round, names[pid]),
			})
		}
	}

	summaries := make(map[int]string)
	for round := 0; round < currentRound-verbatimWindow; round++ {
		summaries[round] = fmt.Sprintf("summary of round %d", round)
	}

	return &PromptInput{
		Discussion: &models.Discussion{
			CurrentRound: currentRound,
			CurrentPhase: models.PhaseDebate,
			MaxRounds:    10,
		},
		Persona: &models.Persona{
			Name: "Alice",
			Config: map[string]any{
				"personality":      "analytical",
				"expression_style": "direct",
			},
		},
		Stance:    "pro",
		Topic:     &models.Topic{Title: "Remote work", Description: "Should companies go remote-first?"},
		Messages:  msgs,
		Names:     names,
		Summaries: summaries,
	}
}

// TestBuildTurnPrompt_WindowAtRoundFive tests that at round index 5 the
// prompt carries rounds 3-5 verbatim and rounds 0-2 only as summaries
func TestBuildTurnPrompt_WindowAtRoundFive(t *testing.T) {
	prompt := BuildTurnPrompt(promptFixture(5))

	assert.Contains(t, prompt, "--- Current Round (Round 6) ---")
	assert.Contains(t, prompt, "--- Round 5 (Previous) ---")
	assert.Contains(t, prompt, "--- Round 4 (Previous) ---")
	assert.Contains(t, prompt, "round 5 content from Alice")
	assert.Contains(t, prompt, "round 3 content from Bob")

	for round := 0; round < 3; round++ {
		assert.Contains(t, prompt, fmt.Sprintf("--- Round %d Summary ---", round+1))
		assert.Contains(t, prompt, fmt.Sprintf("summary of round %d", round))
		assert.NotContains(t, prompt, fmt.Sprintf("round %d content", round))
	}
}

func TestBuildTurnPrompt_EarlyRoundsAllVerbatim(t *testing.T) {
	prompt := BuildTurnPrompt(promptFixture(1))

	assert.Contains(t, prompt, "--- Current Round (Round 2) ---")
	assert.Contains(t, prompt, "--- Round 1 (Previous) ---")
	assert.Contains(t, prompt, "round 0 content from Alice")
	assert.NotContains(t, prompt, "Summary ---")
}

func TestBuildTurnPrompt_Header(t *testing.T) {
	prompt := BuildTurnPrompt(promptFixture(0))

	assert.True(t, strings.HasPrefix(prompt, "You are Alice."))
	assert.Contains(t, prompt, "Topic: Remote work")
	assert.Contains(t, prompt, "Description: Should companies go remote-first?")
	assert.Contains(t, prompt, "Current Round: 1/10")
	assert.Contains(t, prompt, "Current Phase: debate")
	assert.Contains(t, prompt, "Your Stance: pro")
	assert.Contains(t, prompt, "Your Personality: analytical")
	assert.Contains(t, prompt, "Expression Style: direct")
	assert.Contains(t, prompt, "Phase Instruction: "+PhaseInstructions[models.PhaseDebate])
	assert.True(t, strings.HasSuffix(prompt, "Alice, please respond:"))
}

func TestBuildTurnPrompt_NoHistory(t *testing.T) {
	in := promptFixture(0)
	in.Messages = nil
	prompt := BuildTurnPrompt(in)

	assert.NotContains(t, prompt, "=== Conversation History ===")
	assert.True(t, strings.HasSuffix(prompt, "Alice, please respond:"))
}

func TestSpeakerName(t *testing.T) {
	pid := uuid.New()
	names := map[uuid.UUID]string{pid: "Alice"}

	assert.Equal(t, "Alice", SpeakerName(&models.Message{ParticipantID: pid}, names))
	assert.Equal(t, "Unknown", SpeakerName(&models.Message{ParticipantID: uuid.New()}, names))
	assert.Equal(t, "User", SpeakerName(&models.Message{ParticipantID: models.UserParticipantID}, names))
	assert.Equal(t, "User", SpeakerName(&models.Message{ParticipantID: pid, IsInjectedQuestion: true}, names))
}
