package scoring

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithParTimes replaces the par table. Keys are slugified on the way in.
func WithParTimes(pars map[string]int64) Option {
	return func(e *Engine) {
		if len(pars) == 0 {
			return
		}
		e.parTimes = make(map[string]int64, len(pars))
		for name, ms := range pars {
			if ms > 0 {
				e.parTimes[Slugify(name)] = ms
			}
		}
	}
}

// WithBracketTable overrides or adds the table for one bracket.
func WithBracketTable(b Bracket, t Table) Option {
	return func(e *Engine) {
		if len(t) == 0 {
			return
		}
		tables := make(map[Bracket]Table, len(e.tables)+1)
		for k, v := range e.tables {
			tables[k] = v
		}
		tables[b] = t
		e.tables = tables
	}
}

// WithEpsilon sets the tolerance, in milliseconds, allowed over par.
func WithEpsilon(ms int64) Option {
	return func(e *Engine) {
		if ms >= 0 {
			e.epsilonMS = ms
		}
	}
}
