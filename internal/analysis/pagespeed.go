package analysis

import (
	"context"
	"fmt"
	"math"

	"google.golang.org/api/option"
	pagespeedonline "google.golang.org/api/pagespeedonline/v5"
)

// PageSpeedScorer fetches the Lighthouse mobile performance score from the
// PageSpeed Insights API.
type PageSpeedScorer struct {
	svc *pagespeedonline.Service
}

// NewPageSpeedScorer creates a scorer. An empty apiKey uses the unauthenticated
// quota.
func NewPageSpeedScorer(ctx context.Context, apiKey string, opts ...option.ClientOption) (*PageSpeedScorer, error) {
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	} else {
		opts = append(opts, option.WithoutAuthentication())
	}
	svc, err := pagespeedonline.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pagespeed service: %w", err)
	}
	return &PageSpeedScorer{svc: svc}, nil
}

// MobileScore implements ExternalScorer.
func (p *PageSpeedScorer) MobileScore(ctx context.Context, pageURL string) (int, error) {
	resp, err := p.svc.Pagespeedapi.Runpagespeed(pageURL).
		Strategy("MOBILE").
		Category("PERFORMANCE").
		Context(ctx).
		Do()
	if err != nil {
		return 0, fmt.Errorf("pagespeed request failed: %w", err)
	}
	if resp.LighthouseResult == nil || resp.LighthouseResult.Categories == nil ||
		resp.LighthouseResult.Categories.Performance == nil {
		return 0, fmt.Errorf("pagespeed response has no performance category")
	}
	return lighthouseScore(resp.LighthouseResult.Categories.Performance.Score)
}

// lighthouseScore converts a Lighthouse category score (0-1) to 0-100.
func lighthouseScore(raw interface{}) (int, error) {
	var value float64
	switch v := raw.(type) {
	case float64:
		value = v
	case float32:
		value = float64(v)
	case int:
		value = float64(v)
	default:
		return 0, fmt.Errorf("unexpected lighthouse score type %T", raw)
	}
	return clamp(int(math.Round(value*100)), 0, 100), nil
}
