// Package operators holds the built-in predicates available to matcher
// expressions. All of them are pure and return false on malformed input
// rather than failing.
package operators

import (
	"net/netip"
	"regexp"
	"strings"

	"github.com/supremind/perm/types"
)

// Lookup returns the built-in with the given name, if any
func Lookup(name string) (types.MatchingFunc, bool) {
	fn, ok := builtins[name]
	return fn, ok
}

var builtins = map[string]types.MatchingFunc{
	"keyMatch":   KeyMatch,
	"keyMatch2":  KeyMatch2,
	"keyMatch3":  KeyMatch3,
	"regexMatch": RegexMatch,
	"ipMatch":    IPMatch,
}

// KeyMatch matches key1 against the glob pattern key2, where * matches any
// run of characters and everything else is literal. The match covers the
// whole string. Without a *, it is plain equality.
func KeyMatch(key1, key2 string) bool {
	if !strings.Contains(key2, "*") {
		return key1 == key2
	}

	parts := strings.Split(key2, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	re, e := regexp.Compile("^" + strings.Join(parts, ".*") + "$")
	if e != nil {
		return false
	}
	return re.MatchString(key1)
}

// KeyMatch2 matches URL paths with :param placeholders, like
// /resource/:id against /resource/123. Segment counts must agree.
// Patterns without a : fall back to KeyMatch.
func KeyMatch2(key1, key2 string) bool {
	if !strings.Contains(key2, ":") {
		return KeyMatch(key1, key2)
	}

	segs1 := strings.Split(key1, "/")
	segs2 := strings.Split(key2, "/")
	if len(segs1) != len(segs2) {
		return false
	}
	for i, seg := range segs2 {
		if strings.HasPrefix(seg, ":") {
			continue
		}
		if segs1[i] != seg {
			return false
		}
	}
	return true
}

// KeyMatch3 is KeyMatch under another name, kept so matcher expressions
// written against other engines keep compiling
func KeyMatch3(key1, key2 string) bool {
	return KeyMatch(key1, key2)
}

// RegexMatch matches key1 against the regular expression key2. A pattern
// that does not compile matches nothing.
func RegexMatch(key1, key2 string) bool {
	re, e := regexp.Compile(key2)
	if e != nil {
		return false
	}
	return re.MatchString(key1)
}

// IPMatch reports whether the address ip1 equals ip2 or lies within it when
// ip2 is a CIDR, like 192.168.2.10 against 192.168.2.0/24. Address families
// must agree.
func IPMatch(ip1, ip2 string) bool {
	addr, e := netip.ParseAddr(ip1)
	if e != nil {
		return false
	}
	addr = addr.Unmap()

	if prefix, e := netip.ParsePrefix(ip2); e == nil {
		return prefix.Masked().Contains(addr)
	}

	other, e := netip.ParseAddr(ip2)
	if e != nil {
		return false
	}
	return addr == other.Unmap()
}
