package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/chromedp/chromedp"
	"github.com/rahul/planloop/internal/executor"
	"github.com/rahul/planloop/internal/observability"
	"go.uber.org/zap"
)

var _ executor.Driver = (*Session)(nil)

// ContentUnavailable replaces the page content when capture fails.
const ContentUnavailable = "CONTENT_UNAVAILABLE"

// Element is one numbered interactive element.
type Element struct {
	Index       int    `json:"index"`
	Tag         string `json:"tag"`
	Type        string `json:"type,omitempty"`
	Role        string `json:"role,omitempty"`
	Text        string `json:"text,omitempty"`
	Href        string `json:"href,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	HTML        string `json:"html,omitempty"`
}

// Observation is a fresh snapshot of the page for one evaluation.
type Observation struct {
	Label          string
	URL            string
	Title          string
	Screenshot     []byte
	ScreenshotPath string
	Elements       []Element
	Page           string
	Err            error
}

// Available reports whether the page content was captured.
func (o Observation) Available() bool {
	return o.Page != ContentUnavailable
}

// Observe re-numbers the interactive elements, screenshots the viewport and
// renders the numbered elements as the page content. It never returns an
// error: a failed capture yields Page == ContentUnavailable and Err set.
func (s *Session) Observe(ctx context.Context, label string) Observation {
	obs := Observation{Label: label, Page: ContentUnavailable}
	log := s.logger.With(observability.Event(observability.EventTypeObservation), zap.String("label", label))

	var tagged int
	err := s.run(ctx,
		chromedp.Evaluate(removeHighlightScript, nil),
		chromedp.Evaluate(highlightScript, &tagged),
		chromedp.CaptureScreenshot(&obs.Screenshot),
		chromedp.Evaluate(enumerateScript, &obs.Elements),
		chromedp.Location(&obs.URL),
		chromedp.Title(&obs.Title),
	)
	if err != nil {
		obs.Err = err
		log.Warn("observation failed", zap.Error(err))
		return obs
	}

	obs.Page = RenderPage(obs.Elements, s.cfg.TruncationLength)
	if s.cfg.ScreenshotDir != "" && len(obs.Screenshot) > 0 {
		path, err := SaveScreenshot(s.cfg.ScreenshotDir, label, obs.Screenshot, time.Now())
		if err != nil {
			log.Debug("screenshot not saved", zap.Error(err))
		} else {
			obs.ScreenshotPath = path
		}
	}
	log.Debug("observed", zap.String("url", obs.URL), zap.Int("elements", len(obs.Elements)), zap.Int("tagged", tagged))
	return obs
}

// RenderPage lists the numbered elements' markup under a count header,
// truncated to limit bytes when limit > 0.
func RenderPage(elements []Element, limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<!-- Visible Interactive Elements (%d) -->", len(elements))
	for _, el := range elements {
		b.WriteByte('\n')
		if el.HTML != "" {
			b.WriteString(el.HTML)
			continue
		}
		fmt.Fprintf(&b, "<%s %s=%q>%s</%s>", el.Tag, HighlightAttribute, fmt.Sprint(el.Index), el.Text, el.Tag)
	}
	page := b.String()
	if limit > 0 && len(page) > limit {
		for limit > 0 && !utf8.RuneStart(page[limit]) {
			limit--
		}
		page = page[:limit]
	}
	return page
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// SaveScreenshot writes png into dir as HH-MM-SS_<label>.png.
func SaveScreenshot(dir, label string, png []byte, at time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := unsafeName.ReplaceAllString(label, "_")
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.png", at.Format("15-04-05"), name))
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
