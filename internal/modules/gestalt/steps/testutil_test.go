package steps

import (
	"github.com/quizsmith/quizsmith-backend/internal/platform/logger"
)

func testLogger() *logger.Logger { return logger.Nop() }
