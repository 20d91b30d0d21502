package engine

import (
	"strings"

	"github.com/ssupshub/cicd-anomaly-detection/internal/alert"
)

// Channel names a delivery mechanism a rule can route to.
const (
	ChannelSlack   = "slack"
	ChannelEmail   = "email"
	ChannelWebhook = "webhook"
)

// KnownChannels lists the valid channel names.
func KnownChannels() []string {
	return []string{ChannelSlack, ChannelEmail, ChannelWebhook}
}

func knownChannel(name string) bool {
	switch name {
	case ChannelSlack, ChannelEmail, ChannelWebhook:
		return true
	}
	return false
}

// Rule routes matching anomalies to a channel set. The job pattern is a
// case-insensitive substring match; an empty pattern matches every job.
// WebhookOverride points the webhook channel at a team-specific target.
type Rule struct {
	Name            string         `json:"name"`
	JobPattern      string         `json:"job_pattern,omitempty"`
	MinSeverity     alert.Severity `json:"min_severity"`
	Channels        []string       `json:"channels"`
	WebhookOverride string         `json:"webhook_override,omitempty"`
}

// Matches reports whether the rule applies to the given job name.
func (r Rule) Matches(job string) bool {
	if r.JobPattern == "" {
		return true
	}
	return strings.Contains(strings.ToLower(job), strings.ToLower(r.JobPattern))
}

// router keeps rules in insertion order; the first match wins and order is
// preserved across add/remove. Jobs matching no rule fall back to the
// synthetic default rule, which is not part of the registered list.
type router struct {
	rules       []Rule
	defaultRule Rule
}

func newRouter(defaultChannels []string, defaultMinSeverity alert.Severity) *router {
	return &router{
		defaultRule: Rule{
			Name:        "default",
			MinSeverity: defaultMinSeverity,
			Channels:    defaultChannels,
		},
	}
}

func (rt *router) add(r Rule) error {
	if strings.TrimSpace(r.Name) == "" {
		return validationErrorf("rule name is required")
	}
	for _, existing := range rt.rules {
		if existing.Name == r.Name {
			return validationErrorf("rule %q already exists", r.Name)
		}
	}
	if !r.MinSeverity.Valid() {
		return validationErrorf("rule %q: unknown min_severity %q", r.Name, r.MinSeverity)
	}
	if len(r.Channels) == 0 {
		return validationErrorf("rule %q: at least one channel is required", r.Name)
	}
	for _, ch := range r.Channels {
		if !knownChannel(ch) {
			return validationErrorf("rule %q: unknown channel %q", r.Name, ch)
		}
	}
	rt.rules = append(rt.rules, r)
	return nil
}

func (rt *router) remove(name string) error {
	for i, r := range rt.rules {
		if r.Name == name {
			rt.rules = append(rt.rules[:i], rt.rules[i+1:]...)
			return nil
		}
	}
	return &NotFoundError{Kind: "rule", Name: name}
}

// match returns the first rule whose pattern covers the job, or the
// synthetic default rule when none does.
func (rt *router) match(job string) Rule {
	for _, r := range rt.rules {
		if r.Matches(job) {
			return r
		}
	}
	return rt.defaultRule
}

func (rt *router) list() []Rule {
	out := make([]Rule, len(rt.rules))
	copy(out, rt.rules)
	return out
}

func (rt *router) restore(rules []Rule) {
	rt.rules = make([]Rule, len(rules))
	copy(rt.rules, rules)
}
