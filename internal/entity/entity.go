// Package entity defines the sensitive-entity taxonomy and the wire-visible
// placeholder syntax shared by the recognizer, mint, and substitution layers.
package entity

import (
	"regexp"
	"strings"
)

// Type classifies a sensitive entity found in text.
type Type int

const (
	TypeUnspecified Type = iota
	TypeSecret           // credentials, tokens, keys — never minted, always scrubbed
	TypeTicket           // issue-tracker keys (PROJ-1234)
	TypeHost             // hostnames, including the host segment of URLs
	TypeEmail            // email addresses
	TypeIP               // IPv4 addresses
	TypePhone            // phone numbers
)

// String returns the uppercase token name used inside placeholders.
func (t Type) String() string {
	switch t {
	case TypeSecret:
		return "SECRET"
	case TypeTicket:
		return "TICKET"
	case TypeHost:
		return "HOST"
	case TypeEmail:
		return "EMAIL"
	case TypeIP:
		return "IP"
	case TypePhone:
		return "PHONE"
	default:
		return "UNSPECIFIED"
	}
}

// Priority orders entity classes for overlap resolution. Higher wins.
//
// secret > structured domain identifiers (ticket) > generic structured
// identifiers (host) > generic personal identifiers (email/ip/phone).
func (t Type) Priority() int {
	switch t {
	case TypeSecret:
		return 400
	case TypeTicket:
		return 300
	case TypeHost:
		return 200
	case TypeEmail, TypeIP, TypePhone:
		return 100
	default:
		return 0
	}
}

// TypeFromToken maps a placeholder token name back to a Type.
func TypeFromToken(token string) Type {
	switch strings.ToUpper(token) {
	case "SECRET":
		return TypeSecret
	case "TICKET":
		return TypeTicket
	case "HOST":
		return TypeHost
	case "EMAIL":
		return TypeEmail
	case "IP":
		return TypeIP
	case "PHONE":
		return TypePhone
	default:
		return TypeUnspecified
	}
}

// RedactedLiteral is the fixed marker substituted for secret-class matches.
// It is never recorded in the vault and never restorable.
const RedactedLiteral = "[REDACTED_SECRET]"

// placeholderRe matches the wire-visible placeholder syntax <<TYPE_tag>>.
// The tag is the lowercase hex output of the keyed mint derivation.
var placeholderRe = regexp.MustCompile(`<<([A-Z]+)_([0-9a-f]{4,64})>>`)

// Placeholder renders the wire-visible token for an entity type and tag.
func Placeholder(t Type, tag string) string {
	return "<<" + t.String() + "_" + tag + ">>"
}

// PlaceholderMatch is one placeholder occurrence inside a text.
type PlaceholderMatch struct {
	Start, End int
	Type       Type
	Token      string // full token including << >>
}

// FindPlaceholders returns every placeholder occurrence in order.
func FindPlaceholders(s string) []PlaceholderMatch {
	idx := placeholderRe.FindAllStringSubmatchIndex(s, -1)
	if len(idx) == 0 {
		return nil
	}
	matches := make([]PlaceholderMatch, 0, len(idx))
	for _, m := range idx {
		matches = append(matches, PlaceholderMatch{
			Start: m[0],
			End:   m[1],
			Type:  TypeFromToken(s[m[2]:m[3]]),
			Token: s[m[0]:m[1]],
		})
	}
	return matches
}

// ContainsPlaceholder reports whether s holds at least one placeholder token.
func ContainsPlaceholder(s string) bool {
	return placeholderRe.MatchString(s)
}
