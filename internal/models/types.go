package models

import (
	"time"

	"github.com/google/uuid"
)

// Discussion statuses.
const (
	StatusInitialized = "initialized"
	StatusRunning     = "running"
	StatusPaused      = "paused"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
)

// Discussion phases, in fixed cyclic order.
const (
	PhaseOpening     = "opening"
	PhaseDevelopment = "development"
	PhaseDebate      = "debate"
	PhaseClosing     = "closing"
)

// Phases lists the four phases in turn order.
var Phases = []string{PhaseOpening, PhaseDevelopment, PhaseDebate, PhaseClosing}

// Discussion modes. Mode does not alter orchestration yet, reserved.
const (
	ModeFree       = "free"
	ModeStructured = "structured"
	ModeCreative   = "creative"
	ModeConsensus  = "consensus"
)

// UserParticipantID is the sentinel participant id for injected user questions.
var UserParticipantID = uuid.Nil

type Discussion struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	TopicID          uuid.UUID  `json:"topic_id" db:"topic_id"`
	UserID           uuid.UUID  `json:"user_id" db:"user_id"`
	DiscussionMode   string     `json:"discussion_mode" db:"discussion_mode"`
	MaxRounds        int        `json:"max_rounds" db:"max_rounds"`
	Status           string     `json:"status" db:"status"`
	CurrentRound     int        `json:"current_round" db:"current_round"`
	CurrentPhase     string     `json:"current_phase" db:"current_phase"`
	LLMProvider      string     `json:"llm_provider,omitempty" db:"llm_provider"`
	LLMModel         string     `json:"llm_model,omitempty" db:"llm_model"`
	TotalTokensUsed  int        `json:"total_tokens_used" db:"total_tokens_used"`
	EstimatedCostUSD float64    `json:"estimated_cost_usd" db:"estimated_cost_usd"`
	StartedAt        *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// Participant binds one persona to one discussion at a fixed turn position.
// Stance is snapshotted from the persona at creation time.
type Participant struct {
	ID           uuid.UUID `json:"id" db:"id"`
	DiscussionID uuid.UUID `json:"discussion_id" db:"discussion_id"`
	PersonaID    uuid.UUID `json:"persona_id" db:"persona_id"`
	Position     int       `json:"position" db:"position"`
	Stance       string    `json:"stance,omitempty" db:"stance"`
	MessageCount int       `json:"message_count" db:"message_count"`
	TotalTokens  int       `json:"total_tokens" db:"total_tokens"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Persona is a reusable AI speaker profile. Config carries the free-form
// bundle (age, profession, personality, knowledge, stance, expression_style,
// behavior_pattern) and is treated as read-mostly reference data here.
type Persona struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	UserID    uuid.UUID      `json:"user_id,omitempty" db:"user_id"`
	Name      string         `json:"name" db:"name"`
	AvatarURL string         `json:"avatar_url,omitempty" db:"avatar_url"`
	Config    map[string]any `json:"config" db:"config"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

// ConfigString returns a string field from the persona config bundle.
func (p *Persona) ConfigString(key string) string {
	if p.Config == nil {
		return ""
	}
	if v, ok := p.Config[key].(string); ok {
		return v
	}
	return ""
}

// Topic statuses.
const (
	TopicStatusDraft        = "draft"
	TopicStatusReady        = "ready"
	TopicStatusInDiscussion = "in_discussion"
	TopicStatusCompleted    = "completed"
)

type Topic struct {
	ID          uuid.UUID `json:"id" db:"id"`
	UserID      uuid.UUID `json:"user_id" db:"user_id"`
	Title       string    `json:"title" db:"title"`
	Description string    `json:"description,omitempty" db:"description"`
	Context     string    `json:"context,omitempty" db:"context"`
	Status      string    `json:"status" db:"status"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Message is one turn's output. Content is updated incrementally while the
// turn streams and is immutable once the turn completes.
type Message struct {
	ID                 uuid.UUID      `json:"id" db:"id"`
	DiscussionID       uuid.UUID      `json:"discussion_id" db:"discussion_id"`
	ParticipantID      uuid.UUID      `json:"participant_id" db:"participant_id"`
	Round              int            `json:"round" db:"round"`
	Phase              string         `json:"phase" db:"phase"`
	Content            string         `json:"content" db:"content"`
	TokenCount         int            `json:"token_count" db:"token_count"`
	IsInjectedQuestion bool           `json:"is_injected_question" db:"is_injected_question"`
	ParentMessageID    *uuid.UUID     `json:"parent_message_id,omitempty" db:"parent_message_id"`
	Metadata           map[string]any `json:"metadata,omitempty" db:"metadata"`
	CreatedAt          time.Time      `json:"created_at" db:"created_at"`
}

// EnrichedMessage is a Message joined with its speaker's display identity.
type EnrichedMessage struct {
	Message
	SpeakerName   string `json:"speaker_name"`
	SpeakerAvatar string `json:"speaker_avatar,omitempty"`
}

// Report is the post-discussion summary generated when a discussion ends.
type Report struct {
	ID           uuid.UUID `json:"id" db:"id"`
	DiscussionID uuid.UUID `json:"discussion_id" db:"discussion_id"`
	Content      string    `json:"content" db:"content"`
	Provider     string    `json:"provider,omitempty" db:"provider"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// DiscussionState is the cached, eventually-consistent progress snapshot.
type DiscussionState struct {
	ID                 uuid.UUID `json:"id"`
	Status             string    `json:"status"`
	CurrentRound       int       `json:"current_round"`
	MaxRounds          int       `json:"max_rounds"`
	CurrentPhase       string    `json:"current_phase"`
	ProgressPercentage float64   `json:"progress_percentage"`
}

// GenerationRequest is a single prompt submitted to a generation provider.
type GenerationRequest struct {
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// GenerationChunk is one fragment of a streaming completion. The stream is a
// finite ordered sequence terminated by a chunk with IsComplete set.
type GenerationChunk struct {
	Content      string `json:"content"`
	IsComplete   bool   `json:"is_complete"`
	FinishReason string `json:"finish_reason,omitempty"`
	TokensUsed   int    `json:"tokens_used,omitempty"`
	Err          error  `json:"-"`
}

// GenerationResult is a completed single-shot generation.
type GenerationResult struct {
	Content      string `json:"content"`
	TokensUsed   int    `json:"tokens_used"`
	FinishReason string `json:"finish_reason,omitempty"`
}
