package retrieval

// SelectorConfig holds the knobs that shape escalation order.
type SelectorConfig struct {
	// Forced restricts every target to a single channel when set.
	Forced ChannelID
	// Aggressive skips the Direct Browser on known-blocked sites.
	Aggressive bool
}

// Selector maps a Target's hints and history to an ordered channel list.
// It has no side effects; identical inputs always give identical orders.
type Selector struct {
	cfg   SelectorConfig
	sites *SiteTable
}

// NewSelector builds a Selector. sites may be nil.
func NewSelector(cfg SelectorConfig, sites *SiteTable) *Selector {
	return &Selector{cfg: cfg, sites: sites}
}

// HintsFor merges the target's own hints with the site table.
func (s *Selector) HintsFor(target Target) SiteHints {
	return target.Hints.Merge(s.sites.Hints(target.URL))
}

// Select returns the channels to try, in order. attempts is the log so far
// for this run; available reports whether a channel can be used at all
// (budget, health, configuration). A nil available admits everything.
func (s *Selector) Select(target Target, attempts []AttemptRecord, available func(ChannelID) bool) []ChannelID {
	var order []ChannelID
	if s.cfg.Forced != "" {
		order = []ChannelID{s.cfg.Forced}
	} else {
		order = s.defaultOrder(target, attempts)
	}
	if available == nil {
		return order
	}
	out := order[:0:0]
	for _, id := range order {
		if available(id) {
			out = append(out, id)
		}
	}
	return out
}

func (s *Selector) defaultOrder(target Target, attempts []AttemptRecord) []ChannelID {
	hints := s.HintsFor(target)
	order := make([]ChannelID, 0, len(AllChannels))
	if hints.ArchivePreferred {
		order = append(order, ChannelSnapshot)
	}
	if !(s.cfg.Aggressive && hints.KnownBlocked) {
		order = append(order, ChannelDirectBrowser)
	}
	if hints.KnownBlocked && (hitChallenge(target.PriorAttempts) || hitChallenge(attempts)) {
		order = append(order, ChannelRemoteBrowser)
	}
	order = append(order, ChannelRenderingProxy, ChannelUnblockingProxy)
	if !hints.ArchivePreferred {
		order = append(order, ChannelSnapshot)
	}
	return order
}

func hitChallenge(attempts []AttemptRecord) bool {
	for _, a := range attempts {
		if a.ErrorKind == KindBlocked {
			return true
		}
	}
	return false
}
