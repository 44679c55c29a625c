// Package permissions evaluates account capability bitmasks.
package permissions

// Bits maps capability names to their bit values. The table is fixed; new
// capabilities get the next free bit.
var Bits = map[string]int{
	"publish":    1 << 0,
	"editNews":   1 << 1,
	"createNews": 1 << 2,
	"deleteNews": 1 << 3,
	"admin":      1 << 4,
}

// Permission wraps an account's allowed/denied bitmask pair.
type Permission struct {
	Allowed int
	Denied  int
}

// New constructs a Permission from allow and deny masks. The deny mask is
// stored for future policy but not consulted by Has.
func New(allowed, denied int) Permission {
	return Permission{Allowed: allowed, Denied: denied}
}

// Has reports whether the allowed mask carries the named capability.
// Unknown capability names fail closed so a typo can never grant access.
func (p Permission) Has(name string) bool {
	bit, ok := Bits[name]
	if !ok {
		return false
	}
	return p.Allowed&bit != 0
}

// Format evaluates every known capability against the allowed mask.
func (p Permission) Format() map[string]bool {
	out := make(map[string]bool, len(Bits))
	for name, bit := range Bits {
		out[name] = p.Allowed&bit != 0
	}
	return out
}
