package policy

import "time"

// InstagramPolicy restricts Instagram.
type InstagramPolicy struct{}

// NewInstagramPolicy creates the Instagram policy.
func NewInstagramPolicy() *InstagramPolicy {
	return &InstagramPolicy{}
}

func (p *InstagramPolicy) ID() string {
	return "instagram"
}

func (p *InstagramPolicy) Name() string {
	return "Instagram"
}

// AppIDs returns the Android package first, then desktop window classes.
func (p *InstagramPolicy) AppIDs() []string {
	return []string{
		"com.instagram.android",
		"com.instagram.lite",
		"instagram",
	}
}

func (p *InstagramPolicy) ServiceDomain() string {
	return "instagram"
}

func (p *InstagramPolicy) ProcessPatterns() []string {
	return []string{
		"instagram",
	}
}

func (p *InstagramPolicy) DefaultBudget() time.Duration {
	return DefaultBudget
}

// Ensure InstagramPolicy implements AppPolicy.
var _ AppPolicy = (*InstagramPolicy)(nil)
