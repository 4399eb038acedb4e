package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"attempt-service/internal/domain"
	"github.com/jackc/pgx/v4/pgxpool"
)

// AnswerStore persists graded attempts in Postgres. Inserts are append-only;
// the table needs no uniqueness constraint on (user, quiz) because the lock
// store's exclusive Finalize already serializes the pipeline.
type AnswerStore struct {
	pool *pgxpool.Pool
}

func NewAnswerStore(pool *pgxpool.Pool) *AnswerStore {
	return &AnswerStore{pool: pool}
}

func (s *AnswerStore) Append(ctx context.Context, rec domain.AnswerRecord) error {
	responses, err := json.Marshal(rec.Responses)
	if err != nil {
		return fmt.Errorf("marshal responses: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO answer_records
			(id, quiz_id, user_id, email, submitted_at, responses, score, total_questions, percentage)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.QuizID, rec.UserID, rec.Email, rec.SubmittedAt,
		responses, rec.Score, rec.TotalQuestions, rec.Percentage,
	)
	if err != nil {
		return fmt.Errorf("insert answer record: %w", err)
	}
	return nil
}

func (s *AnswerStore) ListByQuiz(ctx context.Context, quizID string) ([]domain.AnswerRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, quiz_id, user_id, email, submitted_at, responses, score, total_questions, percentage
		FROM answer_records
		WHERE quiz_id=$1
		ORDER BY submitted_at`, quizID)
	if err != nil {
		return nil, fmt.Errorf("list answer records: %w", err)
	}
	defer rows.Close()

	var out []domain.AnswerRecord
	for rows.Next() {
		var rec domain.AnswerRecord
		var responses []byte
		if err := rows.Scan(&rec.ID, &rec.QuizID, &rec.UserID, &rec.Email, &rec.SubmittedAt,
			&responses, &rec.Score, &rec.TotalQuestions, &rec.Percentage); err != nil {
			return nil, fmt.Errorf("scan answer record: %w", err)
		}
		if err := json.Unmarshal(responses, &rec.Responses); err != nil {
			return nil, fmt.Errorf("unmarshal responses: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
