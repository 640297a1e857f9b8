package engine

import (
	"strconv"
	"strings"

	"snipebot/internal/models"

	"github.com/sirupsen/logrus"
)

func (s *Supervisor) logEntry() *logrus.Entry {
	return s.log.WithComponent("supervisor")
}

func (s *Supervisor) positionEntry(p models.Position) *logrus.Entry {
	return s.log.WithPosition(p.ID).WithFields(logrus.Fields{
		"component": "supervisor",
		"mint":      p.Mint,
		"symbol":    p.Symbol,
		"state":     p.State,
	})
}

func formatFloatPlain(val float64) string {
	formatted := strconv.FormatFloat(val, 'f', 12, 64)
	formatted = strings.TrimRight(formatted, "0")
	formatted = strings.TrimRight(formatted, ".")
	if formatted == "" || formatted == "-0" {
		return "0"
	}
	return formatted
}
