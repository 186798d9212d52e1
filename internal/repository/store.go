package repository

import "github.com/jackc/pgx/v5/pgxpool"

// Store groups the repositories the classification pipeline writes through.
type Store struct {
	*EmailRepository
	*RuleRepository
	Logs *ProcessingLogRepository
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{
		EmailRepository: NewEmailRepository(db),
		RuleRepository:  NewRuleRepository(db),
		Logs:            NewProcessingLogRepository(db),
	}
}
