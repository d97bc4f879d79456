package common

import (
	"errors"
	"fmt"
	"strings"
)

var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a native module is currently halted.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrModulePaused, annotated with the module name, when the view
// reports the module as halted.
func Guard(p PauseView, module string) error {
	module = strings.TrimSpace(module)
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return fmt.Errorf("%s: %w", module, ErrModulePaused)
	}
	return nil
}
