package mapping

import (
	"strconv"
	"strings"
)

const campaignTagPrefix = "campaign_"

type Resolution string

const (
	ResolutionExact      Resolution = "EXACT"
	ResolutionDefault    Resolution = "DEFAULT"
	ResolutionUnresolved Resolution = "UNRESOLVED"
)

type Result struct {
	CampaignID         int
	OperatorID         int
	CampaignResolution Resolution
	OperatorResolution Resolution
}

// Resolver maps free-text account tags and agent extensions to internal ids.
// It is pure string logic and never fails; malformed input degrades to the
// configured defaults or UNRESOLVED.
type Resolver struct {
	DefaultCampaignID int
	DefaultOperatorID int
}

func NewResolver(defaultCampaignID, defaultOperatorID int) *Resolver {
	return &Resolver{
		DefaultCampaignID: defaultCampaignID,
		DefaultOperatorID: defaultOperatorID,
	}
}

func (r *Resolver) Resolve(rawTags, rawExtension string) Result {
	result := Result{}

	result.CampaignID, result.CampaignResolution = r.resolveCampaign(rawTags)
	result.OperatorID, result.OperatorResolution = r.resolveOperator(rawExtension)

	return result
}

// FallbackCampaign returns the campaign assignment used when a tagged
// campaign turns out not to exist.
func (r *Resolver) FallbackCampaign() (int, Resolution) {
	if r.DefaultCampaignID > 0 {
		return r.DefaultCampaignID, ResolutionDefault
	}

	return 0, ResolutionUnresolved
}

// resolveCampaign scans comma-separated tags for "campaign_<int>" or a bare
// integer. First matching token wins.
func (r *Resolver) resolveCampaign(rawTags string) (int, Resolution) {
	for _, token := range strings.Split(rawTags, ",") {
		token = strings.ToLower(strings.TrimSpace(token))
		if token == "" {
			continue
		}

		candidate := token
		if rest, ok := strings.CutPrefix(token, campaignTagPrefix); ok {
			candidate = rest
		}

		id, err := strconv.Atoi(candidate)
		if err == nil && id >= 0 {
			return id, ResolutionExact
		}
	}

	if r.DefaultCampaignID > 0 {
		return r.DefaultCampaignID, ResolutionDefault
	}

	return 0, ResolutionUnresolved
}

// resolveOperator parses the extension directly when numeric, otherwise takes
// the first maximal digit run ("Agent 456" -> 456).
func (r *Resolver) resolveOperator(rawExtension string) (int, Resolution) {
	rawExtension = strings.TrimSpace(rawExtension)

	id, err := strconv.Atoi(rawExtension)
	if err == nil && id >= 0 {
		return id, ResolutionExact
	}

	run, ok := firstDigitRun(rawExtension)
	if ok {
		id, err = strconv.Atoi(run)
		if err == nil {
			return id, ResolutionExact
		}
	}

	if r.DefaultOperatorID > 0 {
		return r.DefaultOperatorID, ResolutionDefault
	}

	return 0, ResolutionUnresolved
}

func firstDigitRun(s string) (string, bool) {
	start := -1

	for i, ch := range s {
		if ch >= '0' && ch <= '9' {
			if start < 0 {
				start = i
			}

			continue
		}

		if start >= 0 {
			return s[start:i], true
		}
	}

	if start >= 0 {
		return s[start:], true
	}

	return "", false
}
