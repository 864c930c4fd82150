// Package store persists discussions, participants, messages, and the
// read-mostly topic/persona reference data. PostgresStore backs production;
// MemoryStore serves standalone mode and tests.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/plf1996/simFocus/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: record not found")

// Store is the persistence surface used by the engine and handlers. Writes
// follow reload-before-mutate semantics: callers fetch, modify, and save
// whole records.
type Store interface {
	CreateTopic(ctx context.Context, topic *models.Topic) error
	GetTopic(ctx context.Context, id uuid.UUID) (*models.Topic, error)
	UpdateTopicStatus(ctx context.Context, id uuid.UUID, status string) error

	CreatePersona(ctx context.Context, persona *models.Persona) error
	GetPersona(ctx context.Context, id uuid.UUID) (*models.Persona, error)

	// CreateDiscussion persists a discussion and its participants atomically.
	CreateDiscussion(ctx context.Context, discussion *models.Discussion, participants []*models.Participant) error
	GetDiscussion(ctx context.Context, id uuid.UUID) (*models.Discussion, error)
	GetUserDiscussion(ctx context.Context, id, userID uuid.UUID) (*models.Discussion, error)
	UpdateDiscussion(ctx context.Context, discussion *models.Discussion) error
	// AddDiscussionTokens increments the discussion's token accumulator
	// without touching any other column, so it cannot clobber a concurrent
	// status change.
	AddDiscussionTokens(ctx context.Context, id uuid.UUID, tokens int) error
	ListDiscussions(ctx context.Context, userID uuid.UUID, offset, limit int) ([]*models.Discussion, error)
	DeleteDiscussion(ctx context.Context, id uuid.UUID) error

	// ListParticipants returns a discussion's participants ordered by position.
	ListParticipants(ctx context.Context, discussionID uuid.UUID) ([]*models.Participant, error)
	AddParticipantUsage(ctx context.Context, participantID uuid.UUID, messages, tokens int) error

	CreateMessage(ctx context.Context, msg *models.Message) error
	UpdateMessageContent(ctx context.Context, id uuid.UUID, content string, tokenCount int) error
	ListMessages(ctx context.Context, discussionID uuid.UUID, offset, limit int) ([]*models.Message, error)
	// ListMessagesInRounds returns messages with round in [fromRound, toRound],
	// ordered by creation time.
	ListMessagesInRounds(ctx context.Context, discussionID uuid.UUID, fromRound, toRound int) ([]*models.Message, error)

	CreateReport(ctx context.Context, report *models.Report) error
	GetReportByDiscussion(ctx context.Context, discussionID uuid.UUID) (*models.Report, error)
}
