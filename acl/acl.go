// File: acl/acl.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Peer address admission rules: "+10.0.0.0/8,-10.1.0.0/16".

package acl

import (
	"net/netip"
	"strings"

	"github.com/momentics/hioload-net/api"
)

// Rule allows or denies one IPv4 network.
type Rule struct {
	Allow   bool
	Network netip.Prefix
}

func (r Rule) String() string {
	if r.Allow {
		return "+" + r.Network.String()
	}
	return "-" + r.Network.String()
}

// List is an ordered rule set. The zero value allows everything.
type List struct {
	rules []Rule
}

// Parse builds a List from a comma separated rule string. Every entry needs a
// sign; a missing /bits means a single host. An empty string yields an empty
// list.
func Parse(s string) (*List, error) {
	l := &List{}
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		r, err := parseRule(tok)
		if err != nil {
			return nil, err
		}
		l.rules = append(l.rules, r)
	}
	return l, nil
}

func parseRule(tok string) (Rule, error) {
	var r Rule
	switch tok[0] {
	case '+':
		r.Allow = true
	case '-':
	default:
		return r, api.NewError(api.ErrCodeInvalidArgument, "acl entry needs + or -").WithContext("entry", tok)
	}
	body := tok[1:]
	if !strings.Contains(body, "/") {
		body += "/32"
	}
	p, err := netip.ParsePrefix(body)
	if err != nil {
		return r, api.NewError(api.ErrCodeInvalidArgument, "acl entry").WithContext("entry", tok).Wrap(err)
	}
	if !p.Addr().Is4() {
		return r, api.NewError(api.ErrCodeInvalidArgument, "acl entry is not IPv4").WithContext("entry", tok)
	}
	r.Network = p.Masked()
	return r, nil
}

// Append adds r at the end of the list.
func (l *List) Append(r Rule) {
	l.rules = append(l.rules, r)
}

// Allow evaluates addr. With no rules everything is allowed; otherwise the
// default is deny and the last matching rule decides.
func (l *List) Allow(addr netip.Addr) bool {
	if l == nil || len(l.rules) == 0 {
		return true
	}
	addr = addr.Unmap()
	ok := false
	for _, r := range l.rules {
		if r.Network.Contains(addr) {
			ok = r.Allow
		}
	}
	return ok
}

// Len returns the number of rules.
func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return len(l.rules)
}

// Rules returns a copy of the rules in evaluation order.
func (l *List) Rules() []Rule {
	if l == nil {
		return nil
	}
	return append([]Rule(nil), l.rules...)
}

// String renders the list back into its configuration form.
func (l *List) String() string {
	if l == nil {
		return ""
	}
	parts := make([]string, len(l.rules))
	for i, r := range l.rules {
		parts[i] = r.String()
	}
	return strings.Join(parts, ",")
}
