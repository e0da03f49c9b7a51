package common

import "errors"

// ErrModulePaused is returned for state-changing calls into a paused module.
var ErrModulePaused = errors.New("module paused")

// PauseView answers whether the operator has paused a module.
type PauseView interface {
	IsPaused(module string) bool
}

// StaticPauses holds pause switches loaded from configuration.
type StaticPauses map[string]bool

func (p StaticPauses) IsPaused(module string) bool { return p[module] }

// Guard rejects the call when module is paused. A nil view never pauses.
func Guard(p PauseView, module string) error {
	if p != nil && module != "" && p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
