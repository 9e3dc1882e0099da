package ruststore

// ============================================================================
// Grant Veto Hooks
// ============================================================================

// Veto blocks a grant. A nil *Veto allows the grant; a non-nil Veto with an
// empty Message blocks it silently (the user gets no failure callback); a
// non-empty Message is surfaced to the user as the denial reason.
type Veto struct {
	Message string
}

// ItemGrantHook is consulted before a game-item or blueprint grant.
type ItemGrantHook func(sess Session, shortname string, amount int, blueprint bool) *Veto

// CommandGrantHook is consulted before a command-list grant with the full
// command list.
type CommandGrantHook func(sess Session, commands []string) *Veto

// EngineOption configures an Engine at construction.
type EngineOption func(*Engine)

// WithItemGrantHook registers a hook consulted before every item grant.
// Hooks run in registration order; the first veto wins.
func WithItemGrantHook(hook ItemGrantHook) EngineOption {
	return func(e *Engine) {
		e.itemHooks = append(e.itemHooks, hook)
	}
}

// WithCommandGrantHook registers a hook consulted before every command
// grant. Hooks run in registration order; the first veto wins.
func WithCommandGrantHook(hook CommandGrantHook) EngineOption {
	return func(e *Engine) {
		e.commandHooks = append(e.commandHooks, hook)
	}
}

func (e *Engine) vetoItem(sess Session, shortname string, amount int, blueprint bool) *Veto {
	for _, hook := range e.itemHooks {
		if veto := hook(sess, shortname, amount, blueprint); veto != nil {
			return veto
		}
	}
	return nil
}

func (e *Engine) vetoCommands(sess Session, commands []string) *Veto {
	for _, hook := range e.commandHooks {
		if veto := hook(sess, commands); veto != nil {
			return veto
		}
	}
	return nil
}
