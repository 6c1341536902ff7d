// Package ratelimit implements the sliding-window admission limiter that
// guards every non-bypassed request.
package ratelimit

import (
	"fmt"
	"time"
)

// Class groups endpoints that share a request budget.
type Class int

const (
	ClassGeneral Class = iota
	ClassAuthentication
	ClassRegistration
	ClassChatCompletion
)

// Classes lists every known class in a stable order.
var Classes = []Class{ClassGeneral, ClassAuthentication, ClassRegistration, ClassChatCompletion}

func (c Class) String() string {
	switch c {
	case ClassGeneral:
		return "general"
	case ClassAuthentication:
		return "authentication"
	case ClassRegistration:
		return "registration"
	case ClassChatCompletion:
		return "chat-completion"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// ParseClass resolves a class by its String form.
func ParseClass(s string) (Class, error) {
	for _, c := range Classes {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown rate limit class %q", s)
}

// Policy admits at most MaxRequests within any trailing Window.
type Policy struct {
	MaxRequests int           `yaml:"max_requests" json:"max_requests"`
	Window      time.Duration `yaml:"window" json:"window"`
}

func (p Policy) valid() bool {
	return p.MaxRequests > 0 && p.Window > 0
}

// Policies maps every class to its policy. Fallback covers any value
// outside the known classes.
type Policies struct {
	General        Policy `yaml:"general"`
	Authentication Policy `yaml:"authentication"`
	Registration   Policy `yaml:"registration"`
	ChatCompletion Policy `yaml:"chat_completion"`
	Fallback       Policy `yaml:"fallback"`
}

// DefaultPolicies returns the stock budgets.
func DefaultPolicies() Policies {
	return Policies{
		General:        Policy{MaxRequests: 200, Window: 60 * time.Second},
		Authentication: Policy{MaxRequests: 20, Window: 300 * time.Second},
		Registration:   Policy{MaxRequests: 10, Window: 3600 * time.Second},
		ChatCompletion: Policy{MaxRequests: 100, Window: 60 * time.Second},
		Fallback:       Policy{MaxRequests: 60, Window: 60 * time.Second},
	}
}

// For returns the policy for class c.
func (p Policies) For(c Class) Policy {
	switch c {
	case ClassGeneral:
		return p.General
	case ClassAuthentication:
		return p.Authentication
	case ClassRegistration:
		return p.Registration
	case ClassChatCompletion:
		return p.ChatCompletion
	default:
		return p.Fallback
	}
}

// Validate rejects policies that could never admit a request.
func (p Policies) Validate() error {
	for _, c := range Classes {
		if !p.For(c).valid() {
			return fmt.Errorf("rate limit policy %s: max_requests and window must be positive", c)
		}
	}
	if !p.Fallback.valid() {
		return fmt.Errorf("rate limit policy fallback: max_requests and window must be positive")
	}
	return nil
}

// WithDefaults fills any unset policy from DefaultPolicies.
func (p Policies) WithDefaults() Policies {
	d := DefaultPolicies()
	fill := func(dst *Policy, def Policy) {
		if dst.MaxRequests <= 0 {
			dst.MaxRequests = def.MaxRequests
		}
		if dst.Window <= 0 {
			dst.Window = def.Window
		}
	}
	fill(&p.General, d.General)
	fill(&p.Authentication, d.Authentication)
	fill(&p.Registration, d.Registration)
	fill(&p.ChatCompletion, d.ChatCompletion)
	fill(&p.Fallback, d.Fallback)
	return p
}
