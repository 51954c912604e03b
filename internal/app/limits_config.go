package app

import "github.com/atelier-studio/atelier/internal/ratelimit"

// LimiterOptions converts LimitsConfig into ratelimit options. Rules with a
// non-positive max or window fall back to the limiter defaults.
func (c LimitsConfig) LimiterOptions() []ratelimit.Option {
	var opts []ratelimit.Option
	if c.InvitationCreate.Max > 0 && c.InvitationCreate.Window > 0 {
		opts = append(opts, ratelimit.WithRule(ratelimit.ActionCreateInvitation, ratelimit.Rule{
			Max:    c.InvitationCreate.Max,
			Window: c.InvitationCreate.Window,
		}))
	}
	if c.InvitationResend.Max > 0 && c.InvitationResend.Window > 0 {
		opts = append(opts, ratelimit.WithRule(ratelimit.ActionResendInvitation, ratelimit.Rule{
			Max:    c.InvitationResend.Max,
			Window: c.InvitationResend.Window,
		}))
	}
	return opts
}
