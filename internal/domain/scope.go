package domain

import (
	"sort"
	"strings"
)

// Scope is one named permission a consent may grant.
type Scope string

const (
	ScopeAccountsRead     Scope = "accounts.read"
	ScopeTransactionsRead Scope = "transactions.read"
	ScopePaymentsWrite    Scope = "payments.write"
)

// ScopeSet is a normalized (sorted, deduplicated) set of scopes.
type ScopeSet []Scope

// NewScopeSet normalizes raw scope strings into a canonical set.
func NewScopeSet(scopes ...string) ScopeSet {
	seen := make(map[Scope]struct{}, len(scopes))
	out := make(ScopeSet, 0, len(scopes))
	for _, s := range scopes {
		sc := Scope(strings.TrimSpace(s))
		if sc == "" {
			continue
		}
		if _, ok := seen[sc]; ok {
			continue
		}
		seen[sc] = struct{}{}
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s ScopeSet) Contains(scope Scope) bool {
	for _, sc := range s {
		if sc == scope {
			return true
		}
	}
	return false
}

// ContainsAll reports whether every required scope is granted.
func (s ScopeSet) ContainsAll(required ScopeSet) bool {
	for _, sc := range required {
		if !s.Contains(sc) {
			return false
		}
	}
	return true
}

// Equal compares two normalized sets.
func (s ScopeSet) Equal(other ScopeSet) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

func (s ScopeSet) Strings() []string {
	out := make([]string, len(s))
	for i, sc := range s {
		out[i] = string(sc)
	}
	return out
}
