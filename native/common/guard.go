package common

import (
	"errors"
	"strings"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects calls into a module that the pause view reports as halted.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// StaticPauses is a PauseView backed by a fixed module list, typically loaded
// from node configuration.
type StaticPauses map[string]bool

// NewStaticPauses builds a pause view from module names. Blank entries are
// ignored and names are matched case-insensitively.
func NewStaticPauses(modules []string) StaticPauses {
	pauses := make(StaticPauses, len(modules))
	for _, module := range modules {
		if trimmed := strings.ToLower(strings.TrimSpace(module)); trimmed != "" {
			pauses[trimmed] = true
		}
	}
	return pauses
}

func (s StaticPauses) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	return s[strings.ToLower(strings.TrimSpace(module))]
}
