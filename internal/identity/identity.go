// Package identity normalizes the JID-style identifiers used by the
// messaging network. A participant identifier has the general form
// user[:device]@domain. The same participant can show up under different
// device suffixes and domain tags depending on context (individual group vs
// community roster), so every equality check between participants must go
// through Normalize.
package identity

import "strings"

// GroupDomain is the domain tag carried by group and community identifiers.
const GroupDomain = "g.us"

// Normalize reduces an identifier to its base network identity: the device
// suffix (":<n>") and the domain tag ("@<domain>") are stripped, leaving only
// the user part. Empty input normalizes to the empty string.
func Normalize(id string) string {
	if i := strings.IndexByte(id, '@'); i >= 0 {
		id = id[:i]
	}
	if i := strings.IndexByte(id, ':'); i >= 0 {
		id = id[:i]
	}
	return id
}

// Equal reports whether two identifiers refer to the same participant after
// normalization.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// IsGroup reports whether id identifies a group or community chat rather
// than a direct conversation.
func IsGroup(id string) bool {
	return strings.HasSuffix(id, "@"+GroupDomain)
}
