package mm

// Size represents a memory block size in bytes.
type Size uint64

// Common memory block sizes.
const (
	Byte Size = 1
	Kb        = 1024 * Byte
	Mb        = 1024 * Kb
	Gb        = 1024 * Mb
)

// ParseSize parses a size expressed as a decimal number with an optional
// K, M or G suffix (case-insensitive), e.g. "4096", "64K" or "4M". It
// returns false if s is malformed.
func ParseSize(s string) (Size, bool) {
	if len(s) == 0 {
		return 0, false
	}

	unit := Byte
	switch s[len(s)-1] {
	case 'k', 'K':
		unit = Kb
	case 'm', 'M':
		unit = Mb
	case 'g', 'G':
		unit = Gb
	}

	digits := s
	if unit != Byte {
		digits = s[:len(s)-1]
	}

	if len(digits) == 0 {
		return 0, false
	}

	var val Size
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, false
		}
		val = val*10 + Size(digits[i]-'0')
	}

	return val * unit, true
}
