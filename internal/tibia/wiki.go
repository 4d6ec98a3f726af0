package tibia

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	logx "tibiabot/pkg/logx"
)

var (
	reHitPoints  = regexp.MustCompile(`(?i)Hit Points.*?(\d+)`)
	reExperience = regexp.MustCompile(`(?i)Experience.*?(\d+)`)
	reParagraph  = regexp.MustCompile(`(?s)<p[^>]*>(.*?)</p>`)
	reTag        = regexp.MustCompile(`<[^>]+>`)
	reSpaces     = regexp.MustCompile(`\s+`)
)

const (
	wikiMinDescription = 50
	wikiMaxDescription = 200
)

// fetchWiki makes a single attempt against the creature's wiki page.
func (c *Client) fetchWiki(ctx context.Context, name string) (Details, error) {
	u := c.cfg.WikiBaseURL + "/wiki/" + url.PathEscape(wikiSlug(name))
	body, status, err := c.get(ctx, u, "text/html")
	if err != nil {
		c.record("wiki", "network_error")
		return Details{}, fmt.Errorf("wiki %s: %w", u, err)
	}
	if status != http.StatusOK {
		c.record("wiki", "http_error")
		return Details{}, fmt.Errorf("wiki %s: status %d", u, status)
	}
	c.record("wiki", "ok")
	d := ParseWikiHTML(string(body), name)
	d.ImageURL = c.ImageURL(name)
	c.log.Info("details from wiki", logx.String("name", name))
	return d, nil
}

// ParseWikiHTML extracts what it can from a TibiaWiki creature page.
// It never fails; missing values stay nil and the description falls back to a generic line.
func ParseWikiHTML(page, name string) Details {
	d := Details{Name: name, Source: SourceWikiFallback}
	if m := reHitPoints.FindStringSubmatch(page); m != nil {
		if n, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			d.HitPoints = &n
		}
	}
	if m := reExperience.FindStringSubmatch(page); m != nil {
		if n, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			d.Experience = &n
		}
	}
	if m := reParagraph.FindStringSubmatch(page); m != nil {
		text := reTag.ReplaceAllString(m[1], "")
		text = html.UnescapeString(text)
		text = strings.TrimSpace(reSpaces.ReplaceAllString(text, " "))
		if len([]rune(text)) > wikiMinDescription {
			if r := []rune(text); len(r) > wikiMaxDescription {
				text = string(r[:wikiMaxDescription]) + "..."
			}
			d.Description = text
		}
	}
	if d.Description == "" {
		d.Description = "Information about " + name
	}
	return d
}
