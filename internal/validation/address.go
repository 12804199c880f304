package validation

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidAddress indicates the destination failed the network's shape
// rules. User-fixable; never retried internally.
var ErrInvalidAddress = errors.New("invalid destination address")

// AddressValidator is the external validator collaborator. The core is
// agnostic to which implementation is active.
type AddressValidator interface {
	ValidateAddress(asset, network, address string) error
}

type networkRule struct {
	minLen   int
	maxLen   int
	prefixes []string
}

// RuleValidator applies static per-network shape checks. It is the default
// adapter; a stricter upstream validator can replace it without touching the
// withdrawal pipeline.
type RuleValidator struct {
	rules map[string]networkRule
}

// NewRuleValidator builds the validator with the built-in rule table.
func NewRuleValidator() *RuleValidator {
	return &RuleValidator{rules: map[string]networkRule{
		"bitcoin":  {minLen: 26, maxLen: 62, prefixes: []string{"1", "3", "bc1"}},
		"ethereum": {minLen: 42, maxLen: 42, prefixes: []string{"0x"}},
		"polygon":  {minLen: 42, maxLen: 42, prefixes: []string{"0x"}},
		"wire":     {minLen: 8, maxLen: 34},
		"internal": {minLen: 1, maxLen: 64},
	}}
}

// ValidateAddress checks the destination against the network's rule.
func (v *RuleValidator) ValidateAddress(_, network, address string) error {
	rule, ok := v.rules[network]
	if !ok {
		return fmt.Errorf("%w: unknown network %q", ErrInvalidAddress, network)
	}

	address = strings.TrimSpace(address)
	if len(address) < rule.minLen || len(address) > rule.maxLen {
		return fmt.Errorf("%w: length must be between %d and %d", ErrInvalidAddress, rule.minLen, rule.maxLen)
	}
	if len(rule.prefixes) > 0 {
		matched := false
		for _, p := range rule.prefixes {
			if strings.HasPrefix(address, p) {
				matched = true
				break
			}
		}
		if !matched {
			return fmt.Errorf("%w: unexpected prefix", ErrInvalidAddress)
		}
	}
	return nil
}

// MaskAddress redacts the middle of a destination for projections and audit
// snapshots. The raw value stays usable only by the broadcast collaborator.
func MaskAddress(address string) string {
	if len(address) <= 10 {
		return strings.Repeat("*", len(address))
	}
	return address[:6] + "…" + address[len(address)-4:]
}
