package engine

import (
	"ratiobot/internal/models"

	"github.com/sirupsen/logrus"
)

func (e *Engine) logEntry() *logrus.Entry {
	return e.log.WithComponent("engine")
}

func (e *Engine) opLog(op *operation) *logrus.Entry {
	return e.log.WithOperationID(op.id).WithField("component", "engine")
}

func (e *Engine) stepLog(op *operation, step models.Step) *logrus.Entry {
	return e.opLog(op).WithField("step", step)
}
