package reports

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plf1996/simFocus/internal/llm"
	"github.com/plf1996/simFocus/internal/models"
	"github.com/plf1996/simFocus/internal/store"
)

type recordingProvider struct {
	prompts []string
	fail    bool
}

func (r *recordingProvider) Name() string                      { return "rec" }
func (r *recordingProvider) HealthCheck(context.Context) error { return nil }
func (r *recordingProvider) Complete(_ context.Context, req *models.GenerationRequest) (*models.GenerationResult, error) {
	r.prompts = append(r.prompts, req.Prompt)
	if r.fail {
		return nil, fmt.Errorf("provider down")
	}
	return &models.GenerationResult{Content: "# Report\nconsensus reached", TokensUsed: 20}, nil
}
func (r *recordingProvider) CompleteStream(context.Context, *models.GenerationRequest) (<-chan *models.GenerationChunk, error) {
	ch := make(chan *models.GenerationChunk)
	close(ch)
	return ch, nil
}

type reportFixture struct {
	generator *Generator
	store     *store.MemoryStore
	provider  *recordingProvider
	userID    uuid.UUID
	topic     *models.Topic
}

func newReportFixture(t *testing.T) *reportFixture {
	t.Helper()

	st := store.NewMemoryStore()
	provider := &recordingProvider{}
	registry := llm.NewRegistry()
	require.NoError(t, registry.Register("rec", provider))

	userID := uuid.New()
	topic := &models.Topic{UserID: userID, Title: "Universal basic income", Description: "Pilot program debate"}
	require.NoError(t, st.CreateTopic(context.Background(), topic))

	return &reportFixture{
		generator: NewGenerator(st, registry, nil),
		store:     st,
		provider:  provider,
		userID:    userID,
		topic:     topic,
	}
}

func (f *reportFixture) seedFinishedDiscussion(t *testing.T) *models.Discussion {
	t.Helper()
	ctx := context.Background()

	d := &models.Discussion{
		TopicID:      f.topic.ID,
		UserID:       f.userID,
		Status:       models.StatusCompleted,
		CurrentRound: 2,
		MaxRounds:    2,
	}
	persona := &models.Persona{UserID: f.userID, Name: "Alice"}
	require.NoError(t, f.store.CreatePersona(ctx, persona))

	participant := &models.Participant{PersonaID: persona.ID, Position: 0}
	require.NoError(t, f.store.CreateDiscussion(ctx, d, []*models.Participant{participant}))

	for round := 0; round < 2; round++ {
		require.NoError(t, f.store.CreateMessage(ctx, &models.Message{
			DiscussionID:  d.ID,
			ParticipantID: participant.ID,
			Round:         round,
			Phase:         models.PhaseOpening,
			Content:       fmt.Sprintf("argument in round %d", round),
		}))
	}
	require.NoError(t, f.store.CreateMessage(ctx, &models.Message{
		DiscussionID:       d.ID,
		ParticipantID:      models.UserParticipantID,
		Round:              1,
		Phase:              models.PhaseDebate,
		Content:            "what about funding?",
		IsInjectedQuestion: true,
	}))
	return d
}

func TestGenerator_Generate(t *testing.T) {
	f := newReportFixture(t)
	d := f.seedFinishedDiscussion(t)

	report, err := f.generator.Generate(context.Background(), d.ID, "rec")
	require.NoError(t, err)
	assert.Equal(t, d.ID, report.DiscussionID)
	assert.Equal(t, "# Report\nconsensus reached", report.Content)
	assert.Equal(t, "rec", report.Provider)

	require.Len(t, f.provider.prompts, 1)
	prompt := f.provider.prompts[0]
	assert.Contains(t, prompt, "Topic: Universal basic income")
	assert.Contains(t, prompt, "## Round 1")
	assert.Contains(t, prompt, "## Round 2")
	assert.Contains(t, prompt, "Alice: argument in round 0")
	assert.Contains(t, prompt, "User: what about funding?")

	stored, err := f.store.GetReportByDiscussion(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, report.Content, stored.Content)
}

func TestGenerator_TranscriptCapIsRuneSafe(t *testing.T) {
	f := newReportFixture(t)
	d := f.seedFinishedDiscussion(t)
	ctx := context.Background()

	// Push the transcript past the cap with multibyte content so the cut
	// would land mid-rune without boundary handling.
	for i := 0; i < 10; i++ {
		require.NoError(t, f.store.CreateMessage(ctx, &models.Message{
			DiscussionID:       d.ID,
			ParticipantID:      models.UserParticipantID,
			Round:              1,
			Phase:              models.PhaseClosing,
			Content:            strings.Repeat("基本收入", 1000),
			IsInjectedQuestion: true,
		}))
	}

	_, err := f.generator.Generate(ctx, d.ID, "rec")
	require.NoError(t, err)

	require.Len(t, f.provider.prompts, 1)
	assert.True(t, utf8.ValidString(f.provider.prompts[0]))
	assert.LessOrEqual(t, len(f.provider.prompts[0]), maxTranscriptChars+1024,
		"prompt stays near the transcript cap")
}

func TestGenerator_GenerateIdempotent(t *testing.T) {
	f := newReportFixture(t)
	d := f.seedFinishedDiscussion(t)
	ctx := context.Background()

	first, err := f.generator.Generate(ctx, d.ID, "rec")
	require.NoError(t, err)

	second, err := f.generator.Generate(ctx, d.ID, "rec")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, f.provider.prompts, 1, "existing report short-circuits generation")
}

func TestGenerator_NoMessages(t *testing.T) {
	f := newReportFixture(t)
	ctx := context.Background()

	d := &models.Discussion{TopicID: f.topic.ID, UserID: f.userID, Status: models.StatusCompleted}
	require.NoError(t, f.store.CreateDiscussion(ctx, d, nil))

	_, err := f.generator.Generate(ctx, d.ID, "rec")
	assert.ErrorContains(t, err, "no messages")
}

func TestGenerator_ProviderFailure(t *testing.T) {
	f := newReportFixture(t)
	d := f.seedFinishedDiscussion(t)
	f.provider.fail = true

	_, err := f.generator.Generate(context.Background(), d.ID, "rec")
	require.Error(t, err)

	_, err = f.store.GetReportByDiscussion(context.Background(), d.ID)
	assert.ErrorIs(t, err, store.ErrNotFound, "failed generation persists nothing")
}

func TestGenerator_GetByDiscussion_OwnerScoped(t *testing.T) {
	f := newReportFixture(t)
	d := f.seedFinishedDiscussion(t)
	ctx := context.Background()

	_, err := f.generator.Generate(ctx, d.ID, "rec")
	require.NoError(t, err)

	got, err := f.generator.GetByDiscussion(ctx, d.ID, f.userID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.DiscussionID)

	_, err = f.generator.GetByDiscussion(ctx, d.ID, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}
