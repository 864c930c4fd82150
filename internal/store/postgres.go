package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/plf1996/simFocus/internal/config"
	"github.com/plf1996/simFocus/internal/models"
)

// PostgresStore implements Store using PostgreSQL with pgxpool.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *logrus.Logger
}

func NewPostgresStore(ctx context.Context, cfg *config.DatabaseConfig, log *logrus.Logger) (*PostgresStore, error) {
	if log == nil {
		log = logrus.New()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool, log: log}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// CreateTables creates the schema if it doesn't exist.
func (s *PostgresStore) CreateTables(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS topics (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			title VARCHAR(200) NOT NULL,
			description TEXT,
			context TEXT,
			status VARCHAR(20) NOT NULL DEFAULT 'draft',
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS personas (
			id UUID PRIMARY KEY,
			user_id UUID,
			name VARCHAR(100) NOT NULL,
			avatar_url TEXT,
			config JSONB NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS discussions (
			id UUID PRIMARY KEY,
			topic_id UUID NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
			user_id UUID NOT NULL,
			discussion_mode VARCHAR(20) NOT NULL DEFAULT 'free',
			max_rounds INT NOT NULL DEFAULT 3,
			status VARCHAR(20) NOT NULL DEFAULT 'initialized',
			current_round INT NOT NULL DEFAULT 0,
			current_phase VARCHAR(20) NOT NULL DEFAULT 'opening',
			llm_provider VARCHAR(50),
			llm_model VARCHAR(100),
			total_tokens_used INT NOT NULL DEFAULT 0,
			estimated_cost_usd DECIMAL(10,4) NOT NULL DEFAULT 0,
			started_at TIMESTAMP WITH TIME ZONE,
			completed_at TIMESTAMP WITH TIME ZONE,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS participants (
			id UUID PRIMARY KEY,
			discussion_id UUID NOT NULL REFERENCES discussions(id) ON DELETE CASCADE,
			persona_id UUID NOT NULL REFERENCES personas(id) ON DELETE CASCADE,
			position INT NOT NULL,
			stance VARCHAR(50),
			message_count INT NOT NULL DEFAULT 0,
			total_tokens INT NOT NULL DEFAULT 0,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS messages (
			id UUID PRIMARY KEY,
			discussion_id UUID NOT NULL REFERENCES discussions(id) ON DELETE CASCADE,
			participant_id UUID NOT NULL,
			round INT NOT NULL,
			phase VARCHAR(20) NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			token_count INT NOT NULL DEFAULT 0,
			is_injected_question BOOLEAN NOT NULL DEFAULT FALSE,
			parent_message_id UUID REFERENCES messages(id),
			metadata JSONB,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS reports (
			id UUID PRIMARY KEY,
			discussion_id UUID NOT NULL REFERENCES discussions(id) ON DELETE CASCADE,
			content TEXT NOT NULL,
			provider VARCHAR(50),
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_discussions_user_id ON discussions(user_id);
		CREATE INDEX IF NOT EXISTS idx_discussions_status ON discussions(status);
		CREATE INDEX IF NOT EXISTS idx_participants_discussion_id ON participants(discussion_id);
		CREATE INDEX IF NOT EXISTS idx_messages_discussion_id ON messages(discussion_id);
		CREATE INDEX IF NOT EXISTS idx_messages_discussion_round ON messages(discussion_id, round);
	`

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	s.log.Info("Database tables created/verified")
	return nil
}

func (s *PostgresStore) CreateTopic(ctx context.Context, topic *models.Topic) error {
	if topic.ID == uuid.Nil {
		topic.ID = uuid.New()
	}
	now := time.Now()
	topic.CreatedAt = now
	topic.UpdatedAt = now

	query := `
		INSERT INTO topics (id, user_id, title, description, context, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := s.pool.Exec(ctx, query,
		topic.ID, topic.UserID, topic.Title, topic.Description, topic.Context,
		topic.Status, topic.CreatedAt, topic.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert topic: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTopic(ctx context.Context, id uuid.UUID) (*models.Topic, error) {
	query := `
		SELECT id, user_id, title, COALESCE(description, ''), COALESCE(context, ''),
		       status, created_at, updated_at
		FROM topics WHERE id = $1
	`
	var topic models.Topic
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&topic.ID, &topic.UserID, &topic.Title, &topic.Description, &topic.Context,
		&topic.Status, &topic.CreatedAt, &topic.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get topic: %w", err)
	}
	return &topic, nil
}

func (s *PostgresStore) UpdateTopicStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE topics SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update topic status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreatePersona(ctx context.Context, persona *models.Persona) error {
	if persona.ID == uuid.Nil {
		persona.ID = uuid.New()
	}
	now := time.Now()
	persona.CreatedAt = now
	persona.UpdatedAt = now

	cfg, err := json.Marshal(persona.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal persona config: %w", err)
	}

	query := `
		INSERT INTO personas (id, user_id, name, avatar_url, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := s.pool.Exec(ctx, query,
		persona.ID, persona.UserID, persona.Name, persona.AvatarURL, cfg,
		persona.CreatedAt, persona.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert persona: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPersona(ctx context.Context, id uuid.UUID) (*models.Persona, error) {
	query := `
		SELECT id, user_id, name, COALESCE(avatar_url, ''), config, created_at, updated_at
		FROM personas WHERE id = $1
	`
	var (
		persona models.Persona
		cfg     []byte
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&persona.ID, &persona.UserID, &persona.Name, &persona.AvatarURL, &cfg,
		&persona.CreatedAt, &persona.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get persona: %w", err)
	}
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &persona.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal persona config: %w", err)
		}
	}
	return &persona, nil
}

func (s *PostgresStore) CreateDiscussion(ctx context.Context, discussion *models.Discussion, participants []*models.Participant) error {
	if discussion.ID == uuid.Nil {
		discussion.ID = uuid.New()
	}
	now := time.Now()
	discussion.CreatedAt = now
	discussion.UpdatedAt = now

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		INSERT INTO discussions (
			id, topic_id, user_id, discussion_mode, max_rounds, status,
			current_round, current_phase, total_tokens_used, estimated_cost_usd,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	if _, err := tx.Exec(ctx, query,
		discussion.ID, discussion.TopicID, discussion.UserID, discussion.DiscussionMode,
		discussion.MaxRounds, discussion.Status, discussion.CurrentRound,
		discussion.CurrentPhase, discussion.TotalTokensUsed, discussion.EstimatedCostUSD,
		discussion.CreatedAt, discussion.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert discussion: %w", err)
	}

	for _, p := range participants {
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		p.DiscussionID = discussion.ID
		p.CreatedAt = now
		if _, err := tx.Exec(ctx, `
			INSERT INTO participants (id, discussion_id, persona_id, position, stance, message_count, total_tokens, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			p.ID, p.DiscussionID, p.PersonaID, p.Position, p.Stance,
			p.MessageCount, p.TotalTokens, p.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert participant: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit discussion: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"discussion_id": discussion.ID,
		"participants":  len(participants),
	}).Debug("Discussion created")
	return nil
}

const discussionColumns = `
	id, topic_id, user_id, discussion_mode, max_rounds, status,
	current_round, current_phase, COALESCE(llm_provider, ''), COALESCE(llm_model, ''),
	total_tokens_used, estimated_cost_usd, started_at, completed_at, created_at, updated_at
`

func scanDiscussion(row pgx.Row) (*models.Discussion, error) {
	var d models.Discussion
	err := row.Scan(
		&d.ID, &d.TopicID, &d.UserID, &d.DiscussionMode, &d.MaxRounds, &d.Status,
		&d.CurrentRound, &d.CurrentPhase, &d.LLMProvider, &d.LLMModel,
		&d.TotalTokensUsed, &d.EstimatedCostUSD, &d.StartedAt, &d.CompletedAt,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan discussion: %w", err)
	}
	return &d, nil
}

func (s *PostgresStore) GetDiscussion(ctx context.Context, id uuid.UUID) (*models.Discussion, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+discussionColumns+` FROM discussions WHERE id = $1`, id)
	return scanDiscussion(row)
}

func (s *PostgresStore) GetUserDiscussion(ctx context.Context, id, userID uuid.UUID) (*models.Discussion, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+discussionColumns+` FROM discussions WHERE id = $1 AND user_id = $2`, id, userID)
	return scanDiscussion(row)
}

func (s *PostgresStore) UpdateDiscussion(ctx context.Context, discussion *models.Discussion) error {
	discussion.UpdatedAt = time.Now()
	query := `
		UPDATE discussions SET
			discussion_mode = $2, max_rounds = $3, status = $4, current_round = $5,
			current_phase = $6, llm_provider = $7, llm_model = $8,
			total_tokens_used = $9, estimated_cost_usd = $10,
			started_at = $11, completed_at = $12, updated_at = $13
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query,
		discussion.ID, discussion.DiscussionMode, discussion.MaxRounds, discussion.Status,
		discussion.CurrentRound, discussion.CurrentPhase, discussion.LLMProvider,
		discussion.LLMModel, discussion.TotalTokensUsed, discussion.EstimatedCostUSD,
		discussion.StartedAt, discussion.CompletedAt, discussion.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update discussion: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AddDiscussionTokens(ctx context.Context, id uuid.UUID, tokens int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE discussions SET total_tokens_used = total_tokens_used + $2, updated_at = NOW()
		WHERE id = $1`, id, tokens)
	if err != nil {
		return fmt.Errorf("failed to update discussion tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListDiscussions(ctx context.Context, userID uuid.UUID, offset, limit int) ([]*models.Discussion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+discussionColumns+` FROM discussions WHERE user_id = $1
		 ORDER BY created_at DESC OFFSET $2 LIMIT NULLIF($3, 0)`, userID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list discussions: %w", err)
	}
	defer rows.Close()

	var out []*models.Discussion
	for rows.Next() {
		d, err := scanDiscussion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteDiscussion(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM discussions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete discussion: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListParticipants(ctx context.Context, discussionID uuid.UUID) ([]*models.Participant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, discussion_id, persona_id, position, COALESCE(stance, ''),
		       message_count, total_tokens, created_at
		FROM participants WHERE discussion_id = $1 ORDER BY position`, discussionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var out []*models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.ID, &p.DiscussionID, &p.PersonaID, &p.Position,
			&p.Stance, &p.MessageCount, &p.TotalTokens, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AddParticipantUsage(ctx context.Context, participantID uuid.UUID, messages, tokens int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE participants SET message_count = message_count + $2, total_tokens = total_tokens + $3
		WHERE id = $1`, participantID, messages, tokens)
	if err != nil {
		return fmt.Errorf("failed to update participant usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	msg.CreatedAt = time.Now()

	var metadata []byte
	if msg.Metadata != nil {
		var err error
		metadata, err = json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal message metadata: %w", err)
		}
	}

	query := `
		INSERT INTO messages (
			id, discussion_id, participant_id, round, phase, content, token_count,
			is_injected_question, parent_message_id, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	if _, err := s.pool.Exec(ctx, query,
		msg.ID, msg.DiscussionID, msg.ParticipantID, msg.Round, msg.Phase,
		msg.Content, msg.TokenCount, msg.IsInjectedQuestion, msg.ParentMessageID,
		metadata, msg.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateMessageContent(ctx context.Context, id uuid.UUID, content string, tokenCount int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET content = $2, token_count = $3 WHERE id = $1`,
		id, content, tokenCount)
	if err != nil {
		return fmt.Errorf("failed to update message content: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const messageColumns = `
	id, discussion_id, participant_id, round, phase, content, token_count,
	is_injected_question, parent_message_id, metadata, created_at
`

func scanMessage(row pgx.Row) (*models.Message, error) {
	var (
		msg      models.Message
		metadata []byte
	)
	err := row.Scan(
		&msg.ID, &msg.DiscussionID, &msg.ParticipantID, &msg.Round, &msg.Phase,
		&msg.Content, &msg.TokenCount, &msg.IsInjectedQuestion, &msg.ParentMessageID,
		&metadata, &msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &msg.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message metadata: %w", err)
		}
	}
	return &msg, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, discussionID uuid.UUID, offset, limit int) ([]*models.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE discussion_id = $1
		 ORDER BY created_at OFFSET $2 LIMIT NULLIF($3, 0)`, discussionID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (s *PostgresStore) ListMessagesInRounds(ctx context.Context, discussionID uuid.UUID, fromRound, toRound int) ([]*models.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE discussion_id = $1 AND round >= $2 AND round <= $3
		 ORDER BY created_at`, discussionID, fromRound, toRound)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages by round: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func collectMessages(rows pgx.Rows) ([]*models.Message, error) {
	var out []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateReport(ctx context.Context, report *models.Report) error {
	if report.ID == uuid.Nil {
		report.ID = uuid.New()
	}
	report.CreatedAt = time.Now()

	if _, err := s.pool.Exec(ctx, `
		INSERT INTO reports (id, discussion_id, content, provider, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		report.ID, report.DiscussionID, report.Content, report.Provider, report.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetReportByDiscussion(ctx context.Context, discussionID uuid.UUID) (*models.Report, error) {
	var r models.Report
	err := s.pool.QueryRow(ctx, `
		SELECT id, discussion_id, content, COALESCE(provider, ''), created_at
		FROM reports WHERE discussion_id = $1
		ORDER BY created_at DESC LIMIT 1`, discussionID).Scan(
		&r.ID, &r.DiscussionID, &r.Content, &r.Provider, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return &r, nil
}
