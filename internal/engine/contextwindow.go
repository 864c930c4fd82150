package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/plf1996/simFocus/internal/models"
)

// PhaseInstructions are the fixed per-phase instruction strings used verbatim
// in prompt assembly.
var PhaseInstructions = map[string]string{
	models.PhaseOpening:     "Introduce yourself and state your initial position on the topic.",
	models.PhaseDevelopment: "Respond to previous points, deepen your arguments, and explore the topic.",
	models.PhaseDebate:      "Engage with opposing viewpoints, debate key disagreements.",
	models.PhaseClosing:     "Summarize your position and attempt to find common ground or clarify differences.",
}

var phaseLabels = map[string]string{
	models.PhaseOpening:     "Opening",
	models.PhaseDevelopment: "Development",
	models.PhaseDebate:      "Debate",
	models.PhaseClosing:     "Closing",
}

// verbatimWindow is how many rounds before the current one are included
// verbatim; older rounds are summarized.
const verbatimWindow = 2

// PromptInput carries everything the context window builder needs for one
// persona's upcoming turn.
type PromptInput struct {
	Discussion *models.Discussion
	Persona    *models.Persona
	Stance     string
	Topic      *models.Topic
	// Messages is the discussion history up to and including the current
	// round, in creation order.
	Messages []*models.Message
	// Names maps participant ids to display names.
	Names map[uuid.UUID]string
	// Summaries holds round summaries for rounds older than the verbatim
	// window, keyed by round number.
	Summaries map[int]string
}

// SpeakerName resolves the display name for a message: "User" for injected
// questions, "Unknown" when the participant cannot be resolved.
func SpeakerName(msg *models.Message, names map[uuid.UUID]string) string {
	if msg.IsInjectedQuestion || msg.ParticipantID == models.UserParticipantID {
		return "User"
	}
	if name, ok := names[msg.ParticipantID]; ok && name != "" {
		return name
	}
	return "Unknown"
}

// BuildTurnPrompt assembles the full prompt for one turn: persona identity,
// topic, position, persona attributes, phase instruction, then the history
// window (current and trailing rounds verbatim, older rounds summarized),
// and a closing instruction addressed to the persona. Missing fields are
// simply omitted; this function has no failure mode.
func BuildTurnPrompt(in *PromptInput) string {
	d := in.Discussion

	parts := []string{
		fmt.Sprintf("You are %s.", in.Persona.Name),
		fmt.Sprintf("Topic: %s", in.Topic.Title),
	}
	if in.Topic.Description != "" {
		parts = append(parts, fmt.Sprintf("Description: %s", in.Topic.Description))
	}
	parts = append(parts,
		fmt.Sprintf("Current Round: %d/%d", d.CurrentRound+1, d.MaxRounds),
		fmt.Sprintf("Current Phase: %s", d.CurrentPhase),
	)

	stance := in.Stance
	if stance == "" {
		stance = in.Persona.ConfigString("stance")
	}
	if stance != "" {
		parts = append(parts, fmt.Sprintf("Your Stance: %s", stance))
	}
	if personality, ok := in.Persona.Config["personality"]; ok && personality != nil {
		parts = append(parts, fmt.Sprintf("Your Personality: %v", personality))
	}
	if style := in.Persona.ConfigString("expression_style"); style != "" {
		parts = append(parts, fmt.Sprintf("Expression Style: %s", style))
	}

	if instruction, ok := PhaseInstructions[d.CurrentPhase]; ok {
		parts = append(parts, fmt.Sprintf("Phase Instruction: %s", instruction))
	}

	byRound := groupByRoundAndPhase(in.Messages)
	if len(byRound) > 0 {
		parts = append(parts, "\n=== Conversation History ===")

		rounds := make([]int, 0, len(byRound))
		for round := range byRound {
			rounds = append(rounds, round)
		}
		sort.Ints(rounds)

		for _, round := range rounds {
			switch {
			case round == d.CurrentRound:
				parts = append(parts, fmt.Sprintf("\n--- Current Round (Round %d) ---", round+1))
				parts = append(parts, formatRound(byRound[round], in.Names)...)
			case round >= d.CurrentRound-verbatimWindow:
				parts = append(parts, fmt.Sprintf("\n--- Round %d (Previous) ---", round+1))
				parts = append(parts, formatRound(byRound[round], in.Names)...)
			default:
				parts = append(parts, fmt.Sprintf("\n--- Round %d Summary ---", round+1))
				if summary, ok := in.Summaries[round]; ok && summary != "" {
					parts = append(parts, summary)
				}
			}
		}
	}

	return strings.Join(parts, "\n") + fmt.Sprintf("\n\n%s, please respond:", in.Persona.Name)
}

// groupByRoundAndPhase partitions messages by round then phase, preserving
// creation order within each phase.
func groupByRoundAndPhase(msgs []*models.Message) map[int]map[string][]*models.Message {
	out := make(map[int]map[string][]*models.Message)
	for _, msg := range msgs {
		if out[msg.Round] == nil {
			out[msg.Round] = make(map[string][]*models.Message)
		}
		out[msg.Round][msg.Phase] = append(out[msg.Round][msg.Phase], msg)
	}
	return out
}

// formatRound renders one round's messages grouped by phase in fixed phase
// order, each line labeled with the speaker's display name.
func formatRound(phases map[string][]*models.Message, names map[uuid.UUID]string) []string {
	var parts []string
	for _, phase := range models.Phases {
		msgs, ok := phases[phase]
		if !ok {
			continue
		}
		parts = append(parts, fmt.Sprintf("\n[%s Phase]", phaseLabels[phase]))
		for _, msg := range msgs {
			parts = append(parts, fmt.Sprintf("%s: %s", SpeakerName(msg, names), msg.Content))
		}
	}
	return parts
}
