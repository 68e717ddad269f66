package detect

// A single pattern detector. Detectors self-select on the event's action and
// identity signals, and must never surface store errors: fail-open means an
// unavailable store yields no finding, not an error.
type RuleFunc = func(c *Context) error

// Fixed set of detectors evaluated per incoming event. The set is unordered
// in the sense that detectors are independent; evaluation order carries no
// meaning.
type Set struct {
	Rules []RuleFunc
}

func (s *Set) Run(c *Context) error {
	for _, f := range s.Rules {
		if err := f(c); err != nil {
			return err
		}
	}
	return nil
}

// DefaultSet returns the canonical detector set.
func DefaultSet() Set {
	return Set{
		Rules: []RuleFunc{
			RapidRequestsRule,
			BotBehaviorRule,
			SuspiciousUserAgentRule,
			GeographicAnomalyRule,
			BruteForceLoginRule,
			SuspiciousRegistrationRule,
			SpamPostingRule,
			MassFollowingRule,
		},
	}
}
