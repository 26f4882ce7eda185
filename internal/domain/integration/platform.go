package integration

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// PlatformCode represents the type of e-commerce platform
// ---------------------------------------------------------------------------

// PlatformCode represents the type of e-commerce platform
type PlatformCode string

const (
	// PlatformCodeTaobao represents Taobao/Tmall platform
	PlatformCodeTaobao PlatformCode = "TAOBAO"
	// PlatformCodeJD represents JD.com platform
	PlatformCodeJD PlatformCode = "JD"
	// PlatformCodeDouyin represents Douyin shop platform
	PlatformCodeDouyin PlatformCode = "DOUYIN"
	// PlatformCodePDD represents Pinduoduo platform
	PlatformCodePDD PlatformCode = "PDD"
)

// AllPlatforms lists every supported platform in priority order.
var AllPlatforms = []PlatformCode{
	PlatformCodeTaobao,
	PlatformCodeJD,
	PlatformCodeDouyin,
	PlatformCodePDD,
}

// ParsePlatformCode parses a case-insensitive platform code.
func ParsePlatformCode(s string) (PlatformCode, error) {
	code := PlatformCode(strings.ToUpper(strings.TrimSpace(s)))
	if !code.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPlatformCode, s)
	}
	return code, nil
}

// IsValid returns true if the platform code is valid
func (c PlatformCode) IsValid() bool {
	switch c {
	case PlatformCodeTaobao, PlatformCodeJD, PlatformCodeDouyin, PlatformCodePDD:
		return true
	default:
		return false
	}
}

// String returns the string representation of PlatformCode
func (c PlatformCode) String() string {
	return string(c)
}

// DisplayName returns a human-readable name for the platform
func (c PlatformCode) DisplayName() string {
	switch c {
	case PlatformCodeTaobao:
		return "淘宝/天猫"
	case PlatformCodeJD:
		return "京东"
	case PlatformCodeDouyin:
		return "抖音"
	case PlatformCodePDD:
		return "拼多多"
	default:
		return string(c)
	}
}

// Priority returns the precedence used when choosing the authoritative record
// of a cross-platform duplicate group. Lower values win. Unknown codes rank last.
func (c PlatformCode) Priority() int {
	switch c {
	case PlatformCodeTaobao:
		return 1
	case PlatformCodeJD:
		return 2
	case PlatformCodeDouyin:
		return 3
	case PlatformCodePDD:
		return 4
	default:
		return 99
	}
}

// Outranks reports whether c takes precedence over other.
func (c PlatformCode) Outranks(other PlatformCode) bool {
	return c.Priority() < other.Priority()
}

// ServiceName returns the circuit breaker service name for the platform API.
func (c PlatformCode) ServiceName() string {
	return "platform:" + strings.ToLower(string(c))
}
