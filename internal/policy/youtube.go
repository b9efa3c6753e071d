package policy

import "time"

// YouTubePolicy restricts YouTube.
type YouTubePolicy struct{}

// NewYouTubePolicy creates the YouTube policy.
func NewYouTubePolicy() *YouTubePolicy {
	return &YouTubePolicy{}
}

func (p *YouTubePolicy) ID() string {
	return "youtube"
}

func (p *YouTubePolicy) Name() string {
	return "YouTube"
}

func (p *YouTubePolicy) AppIDs() []string {
	return []string{
		"com.google.android.youtube",
		"com.google.android.apps.youtube.music",
		"youtube",
		"freetube",
	}
}

// ServiceDomain is "youtu" so that both youtube.com and youtu.be match.
func (p *YouTubePolicy) ServiceDomain() string {
	return "youtu"
}

func (p *YouTubePolicy) ProcessPatterns() []string {
	return []string{
		"freetube",
		"youtube",
	}
}

// DefaultBudget is longer than the global default; video sessions run long.
func (p *YouTubePolicy) DefaultBudget() time.Duration {
	return 45 * time.Minute
}

// Ensure YouTubePolicy implements AppPolicy.
var _ AppPolicy = (*YouTubePolicy)(nil)
