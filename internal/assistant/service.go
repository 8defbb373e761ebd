package assistant

import (
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Service implements the dosha questionnaire and consultation summaries.
type Service struct {
	db    *gorm.DB
	chain *Chain
	log   *logrus.Logger
}

func NewService(db *gorm.DB, chain *Chain, log *logrus.Logger) *Service {
	return &Service{db: db, chain: chain, log: log}
}
