package entities

import (
	"encoding/json"
	"sort"
)

// StringSet is a set of ids with JSON round-tripping as a sorted array.
type StringSet map[string]struct{}

// NewStringSet builds a set from the given members, dropping duplicates.
func NewStringSet(members ...string) StringSet {
	s := make(StringSet, len(members))
	for _, m := range members {
		s[m] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s StringSet) Has(member string) bool {
	_, ok := s[member]
	return ok
}

// Clone returns an independent copy of the set.
func (s StringSet) Clone() StringSet {
	c := make(StringSet, len(s))
	for m := range s {
		c[m] = struct{}{}
	}
	return c
}

// Members returns the set's members in sorted order.
func (s StringSet) Members() []string {
	out := make([]string, 0, len(s))
	for m := range s {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON encodes the set as a sorted JSON array.
func (s StringSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Members())
}

// UnmarshalJSON decodes a JSON array into the set, dropping duplicates.
func (s *StringSet) UnmarshalJSON(data []byte) error {
	var members []string
	if err := json.Unmarshal(data, &members); err != nil {
		return err
	}
	*s = NewStringSet(members...)
	return nil
}

// RuleSet is the explicit allow-list for one (tenant, command) pair: the users
// and groups granted access. Absence of a rule set means the command's
// fallback policy applies; an existing-but-empty rule set denies everyone.
type RuleSet struct {
	Users  StringSet `json:"users"`
	Groups StringSet `json:"groups"`
}

// NewRuleSet returns an empty rule set with both sets allocated.
func NewRuleSet() RuleSet {
	return RuleSet{Users: make(StringSet), Groups: make(StringSet)}
}

// Clone returns an independent copy of the rule set.
func (r RuleSet) Clone() RuleSet {
	return RuleSet{Users: r.Users.Clone(), Groups: r.Groups.Clone()}
}

// Empty reports whether the rule set grants access to nobody.
func (r RuleSet) Empty() bool {
	return len(r.Users) == 0 && len(r.Groups) == 0
}

// Permits reports whether the actor is granted by this rule set, either by
// user id or by any group membership.
func (r RuleSet) Permits(actor Actor) bool {
	if r.Users.Has(actor.UserID) {
		return true
	}
	for _, g := range actor.Groups {
		if r.Groups.Has(g) {
			return true
		}
	}
	return false
}

// Equal reports whether two rule sets grant exactly the same members.
func (r RuleSet) Equal(o RuleSet) bool {
	if len(r.Users) != len(o.Users) || len(r.Groups) != len(o.Groups) {
		return false
	}
	for u := range r.Users {
		if !o.Users.Has(u) {
			return false
		}
	}
	for g := range r.Groups {
		if !o.Groups.Has(g) {
			return false
		}
	}
	return true
}

// RuleSetDelta names users and groups targeted by one side of a change.
type RuleSetDelta struct {
	Users  []string `json:"users,omitempty"`
	Groups []string `json:"groups,omitempty"`
}

// RuleSetChange is one atomic mutation of a rule set: additions applied first,
// then removals. When the same id appears on both sides, the removal wins,
// which keeps "reset to empty" expressible in a single change.
type RuleSetChange struct {
	Add    RuleSetDelta `json:"add"`
	Remove RuleSetDelta `json:"remove"`
}

// Apply returns the rule set that results from applying the change. The
// receiver is not modified. Applying the same change twice yields the same
// result as applying it once.
func (r RuleSet) Apply(change RuleSetChange) RuleSet {
	next := r.Clone()
	if next.Users == nil {
		next.Users = make(StringSet)
	}
	if next.Groups == nil {
		next.Groups = make(StringSet)
	}
	for _, u := range change.Add.Users {
		next.Users[u] = struct{}{}
	}
	for _, g := range change.Add.Groups {
		next.Groups[g] = struct{}{}
	}
	for _, u := range change.Remove.Users {
		delete(next.Users, u)
	}
	for _, g := range change.Remove.Groups {
		delete(next.Groups, g)
	}
	return next
}

// Fallback is the authorization outcome for a command that has no rule set.
type Fallback int

const (
	// FallbackDeny denies every actor. Built-in commands use this; access
	// comes only from explicit grants (including the tenant-join seeding).
	FallbackDeny Fallback = iota

	// FallbackTenant grants everyone in the owning tenant. Custom commands
	// use this until an explicit rule set narrows them.
	FallbackTenant
)
