package engine

// Fallbacks for the resource checks when the caller passes a non-positive limit.
const (
	DefaultMaxRecursionDepth = 10
	DefaultMaxMemoryMB       = 100
)

// Hosts that always resolve to the local machine.
var blockedHosts = map[string]bool{
	"localhost": true,
	"127.0.0.1": true,
	"0.0.0.0":   true,
	"::1":       true,
}

// Private ranges as string prefixes. This is an approximation, not CIDR
// containment: 172.17-31.* and IPv6 private ranges are not covered.
var privateHostPrefixes = []string{"192.168.", "10.", "172.16."}

// Code points used to hide or reorder text.
var suspiciousRunes = []rune{
	'\u200B', // zero-width space
	'\u200C', // zero-width non-joiner
	'\u200D', // zero-width joiner
	'\u202A', // left-to-right embedding
	'\u202B', // right-to-left embedding
	'\u202C', // pop directional formatting
	'\u202D', // left-to-right override
	'\u202E', // right-to-left override
	'\uFEFF', // zero-width no-break space
}

// Substrings marking a line as an actual execution call.
var execMarkers = []string{"subprocess.", "os.system(", "os.popen(", "exec(", "eval("}
