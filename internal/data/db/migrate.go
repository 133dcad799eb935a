package db

import (
	"fmt"

	"github.com/quizsmith/quizsmith-backend/internal/domain"
)

// AutoMigrateAll migrates every model this service owns.
func (s *Service) AutoMigrateAll() error {
	if err := s.db.AutoMigrate(
		&domain.User{},
		&domain.Question{},
		&domain.Label{},
		&domain.QuestionLabel{},
	); err != nil {
		return fmt.Errorf("auto migration failed: %w", err)
	}
	return nil
}
