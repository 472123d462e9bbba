// Package transition describes how a navigation reached a page. A Transition
// is a 32-bit mask: the low byte holds the core type, the upper bits carry
// qualifiers such as the redirect-chain markers.
package transition

import "strings"

// Transition is a core navigation type combined with qualifier bits.
type Transition uint32

// Core types.
const (
	Link             Transition = 0
	Typed            Transition = 1
	AutoBookmark     Transition = 2
	AutoSubframe     Transition = 3
	ManualSubframe   Transition = 4
	Generated        Transition = 5
	AutoToplevel     Transition = 6
	FormSubmit       Transition = 7
	Reload           Transition = 8
	Keyword          Transition = 9
	KeywordGenerated Transition = 10

	lastCore Transition = KeywordGenerated
	CoreMask Transition = 0xFF
)

// Qualifiers.
const (
	Blocked        Transition = 0x00800000
	ForwardBack    Transition = 0x01000000
	FromAddressBar Transition = 0x02000000
	HomePage       Transition = 0x04000000
	FromAPI        Transition = 0x08000000
	ChainStart     Transition = 0x10000000
	ChainEnd       Transition = 0x20000000
	ClientRedirect Transition = 0x40000000
	ServerRedirect Transition = 0x80000000

	IsRedirectMask Transition = ClientRedirect | ServerRedirect
	QualifierMask  Transition = 0xFFFFFF00

	// RedirectQualifiers are the bits rewritten when a hop is recorded as
	// part of a redirect chain.
	RedirectQualifiers = ChainStart | ChainEnd | IsRedirectMask
)

// Core returns the core type without qualifiers.
func (t Transition) Core() Transition { return t & CoreMask }

// Qualifier returns only the qualifier bits.
func (t Transition) Qualifier() Transition { return t & QualifierMask }

// CoreIs reports whether the core type of t equals core.
func (t Transition) CoreIs(core Transition) bool { return t.Core() == core }

// Has reports whether every bit of q is set in t.
func (t Transition) Has(q Transition) bool { return t&q == q }

// IsMainFrame reports whether the navigation happened in the top-level frame.
func (t Transition) IsMainFrame() bool {
	c := t.Core()
	return c != AutoSubframe && c != ManualSubframe
}

// IsRedirect reports whether t carries a client or server redirect qualifier.
func (t Transition) IsRedirect() bool { return t&IsRedirectMask != 0 }

// IsNewNavigation reports whether t created a new history entry, i.e. it is
// neither a back/forward navigation nor a reload.
func (t Transition) IsNewNavigation() bool {
	return t&ForwardBack == 0 && !t.CoreIs(Reload)
}

// IsChainStart reports whether t marks the first hop of a redirect chain.
func (t Transition) IsChainStart() bool { return t&ChainStart != 0 }

// IsChainEnd reports whether t marks the last hop of a redirect chain.
func (t Transition) IsChainEnd() bool { return t&ChainEnd != 0 }

// WithCore replaces the core type and keeps the qualifiers.
func (t Transition) WithCore(core Transition) Transition {
	return core.Core() | t.Qualifier()
}

// IsValidCore reports whether the core byte names a known type.
func (t Transition) IsValidCore() bool { return t.Core() <= lastCore }

// IsTypedIncrement reports whether a visit with transition t should bump the
// URL's typed count: a new navigation that was typed (and not a redirect) or
// generated from a keyword.
func IsTypedIncrement(t Transition) bool {
	if !t.IsNewNavigation() {
		return false
	}
	return (t.CoreIs(Typed) && !t.IsRedirect()) || t.CoreIs(KeywordGenerated)
}

var coreNames = [...]string{
	Link:             "link",
	Typed:            "typed",
	AutoBookmark:     "auto_bookmark",
	AutoSubframe:     "auto_subframe",
	ManualSubframe:   "manual_subframe",
	Generated:        "generated",
	AutoToplevel:     "auto_toplevel",
	FormSubmit:       "form_submit",
	Reload:           "reload",
	Keyword:          "keyword",
	KeywordGenerated: "keyword_generated",
}

var qualifierNames = []struct {
	bit  Transition
	name string
}{
	{Blocked, "blocked"},
	{ForwardBack, "forward_back"},
	{FromAddressBar, "from_address_bar"},
	{HomePage, "home_page"},
	{FromAPI, "from_api"},
	{ChainStart, "chain_start"},
	{ChainEnd, "chain_end"},
	{ClientRedirect, "client_redirect"},
	{ServerRedirect, "server_redirect"},
}

// String renders the core name followed by any qualifiers, e.g.
// "typed|chain_start|chain_end".
func (t Transition) String() string {
	var b strings.Builder
	if t.IsValidCore() {
		b.WriteString(coreNames[t.Core()])
	} else {
		b.WriteString("invalid")
	}
	for _, q := range qualifierNames {
		if t&q.bit != 0 {
			b.WriteByte('|')
			b.WriteString(q.name)
		}
	}
	return b.String()
}

// Parse maps a core type name as printed by String to its value. Only the
// core name is accepted; qualifiers are added by the engine.
func Parse(name string) (Transition, bool) {
	for i, n := range coreNames {
		if n == strings.ToLower(strings.TrimSpace(name)) {
			return Transition(i), true
		}
	}
	return 0, false
}
