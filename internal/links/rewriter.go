// Package links rewrites hyperlinks in outgoing email bodies into
// click-tracking redirect URLs attributable to one send.
package links

import (
	"fmt"
	"log"
	"net/url"
	"regexp"
	"strings"

	"github.com/oachxalach/campaign-engine/internal/campaign"
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+|www\.[^\s<>"']+`)

// Rewriter builds tracking redirect URLs pointing at the tracking domain.
type Rewriter struct {
	trackingDomain string
}

// NewRewriter creates a rewriter for the given tracking domain.
func NewRewriter(trackingDomain string) *Rewriter {
	return &Rewriter{trackingDomain: trackingDomain}
}

// Rewrite replaces every trackable URL in body with a redirect URL encoding
// the campaign, the per-recipient message id, the original target and the
// recipient. Already-tracking URLs and <img> sources are left alone, so
// applying Rewrite twice yields the same body as applying it once.
func (r *Rewriter) Rewrite(body, campaignID, messageID, recipient string) string {
	if body == "" {
		return body
	}

	for _, u := range urlPattern.FindAllString(body, -1) {
		if strings.Contains(u, r.trackingDomain) || strings.Contains(u, "/tracking/") {
			log.Printf("[links] skipping tracking URL: %s", u)
			continue
		}
		if inImageTag(body, u) {
			log.Printf("[links] skipping URL in <img> tag: %s", u)
			continue
		}

		trackingURL := fmt.Sprintf(
			"https://%s/campaigns/%s/tracking/click?message_id=%s&url=%s&recipient=%s",
			r.trackingDomain,
			campaign.StripCampaignPrefix(campaignID),
			messageID,
			url.QueryEscape(u),
			url.QueryEscape(recipient),
		)
		body = strings.ReplaceAll(body, u, trackingURL)
	}
	return body
}

// inImageTag reports whether the URL appears as (part of) an <img> src
// attribute. Image URLs are fetched by mail clients automatically, so
// tracking them would count every render as a click.
func inImageTag(body, rawURL string) bool {
	imgPattern := regexp.MustCompile(`<img[^>]*src=["'][^"']*` + regexp.QuoteMeta(rawURL) + `[^"']*["'][^>]*>`)
	return imgPattern.MatchString(body)
}
