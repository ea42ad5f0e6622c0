package mapping

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveExactTagAndExtension(t *testing.T) {
	resolver := NewResolver(0, 0)

	result := resolver.Resolve("campaign_1, extra", "300")

	require.Equal(t, 1, result.CampaignID)
	require.Equal(t, ResolutionExact, result.CampaignResolution)
	require.Equal(t, 300, result.OperatorID)
	require.Equal(t, ResolutionExact, result.OperatorResolution)
}

func TestResolveNoMatchWithoutDefaults(t *testing.T) {
	resolver := NewResolver(0, 0)

	result := resolver.Resolve("no_match_tag", "Agent 456")

	require.Equal(t, ResolutionUnresolved, result.CampaignResolution)
	require.Zero(t, result.CampaignID)
	require.Equal(t, 456, result.OperatorID)
	require.Equal(t, ResolutionExact, result.OperatorResolution)
}

func TestResolveFallsBackToDefaults(t *testing.T) {
	resolver := NewResolver(77, 12)

	result := resolver.Resolve("vip, follow-up", "front desk")

	require.Equal(t, 77, result.CampaignID)
	require.Equal(t, ResolutionDefault, result.CampaignResolution)
	require.Equal(t, 12, result.OperatorID)
	require.Equal(t, ResolutionDefault, result.OperatorResolution)
}

func TestResolveBareIntegerTag(t *testing.T) {
	resolver := NewResolver(0, 0)

	result := resolver.Resolve("abc, 42 , campaign_9", "")

	require.Equal(t, 42, result.CampaignID)
	require.Equal(t, ResolutionExact, result.CampaignResolution)
	require.Equal(t, ResolutionUnresolved, result.OperatorResolution)
}

func TestResolveFirstMatchWins(t *testing.T) {
	resolver := NewResolver(0, 0)

	result := resolver.Resolve("campaign_5,campaign_9", "agent7desk8")

	require.Equal(t, 5, result.CampaignID)
	require.Equal(t, 7, result.OperatorID)
}

func TestResolveMalformedInputNeverPanics(t *testing.T) {
	resolver := NewResolver(0, 0)

	for _, tags := range []string{"", ",,,", "campaign_", "campaign_x", "campaign_-3", "  "} {
		result := resolver.Resolve(tags, "")
		require.Equal(t, ResolutionUnresolved, result.CampaignResolution, tags)
	}

	result := resolver.Resolve("", "ext-")
	require.Equal(t, ResolutionUnresolved, result.OperatorResolution)
}

func TestResolveUppercaseTag(t *testing.T) {
	resolver := NewResolver(0, 0)

	result := resolver.Resolve("CAMPAIGN_123", "")

	require.Equal(t, 123, result.CampaignID)
	require.Equal(t, ResolutionExact, result.CampaignResolution)
}
