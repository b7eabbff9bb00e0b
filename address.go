// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package relay

import "strings"

// SplitAddress guesses the network type of an address string and returns it
// along with the address to pass to net.Listen or net.Dial.
//
// An explicit "unix:" or "tcp:" prefix selects that network, and is removed
// from the address. Otherwise the address is "tcp" if it has the form
// host:port, where host does not contain "/" and port is a non-empty run of
// ASCII letters, digits, and "-" (a number or a service name). Anything else
// is taken as the path of a Unix-domain socket. The address is not otherwise
// checked.
func SplitAddress(s string) (network, address string) {
	// A prefix followed by a bare port is an ordinary host:port.
	for _, nw := range []string{"unix", "tcp"} {
		if rest, ok := strings.CutPrefix(s, nw+":"); ok && rest != "" && !looksLikePort(rest) {
			return nw, rest
		}
	}
	i := strings.LastIndexByte(s, ':')
	if i >= 0 && looksLikePort(s[i+1:]) && !strings.ContainsRune(s[:i], '/') {
		return "tcp", s
	}
	return "unix", s
}

// looksLikePort reports whether s is a plausible port number or services(5)
// name.
func looksLikePort(s string) bool {
	return s != "" && !strings.ContainsFunc(s, func(r rune) bool {
		return !(r == '-' || '0' <= r && r <= '9' || 'a' <= r && r <= 'z' || 'A' <= r && r <= 'Z')
	})
}
