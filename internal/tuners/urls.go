package tuners

import (
	"context"
	"errors"
	"regexp"
)

const (
	invalidURLMessage = "Invalid URL. Please check and try again."
	imagePlaceholder  = "[IMG]"
)

var (
	standardURLPattern = regexp.MustCompile(`^https://tuner\.midjourney\.com/[A-Za-z0-9]{7}(?:\?answer=[A-Za-z0-9]+)?$`)
	codeURLPattern     = regexp.MustCompile(`^https://tuner\.midjourney\.com/code/[A-Za-z0-9]+$`)

	imageLinkPattern = regexp.MustCompile(`(?i)https?://\S+\.(jpg|jpeg|png|gif|webp)(\?\S*)?`)
	mjRunLinkPattern = regexp.MustCompile(`(?i)https://s\.mj\.run/\S+`)
)

// IsAcceptedURL reports whether raw, once normalized, is a tuner share url or a tuner code url.
func IsAcceptedURL(raw string) bool {
	url := NormalizeURL(raw)
	return standardURLPattern.MatchString(url) || codeURLPattern.MatchString(url)
}

// SanitizePrompt replaces image links in a prompt with a placeholder so listings stay readable.
func SanitizePrompt(prompt string) string {
	sanitized := imageLinkPattern.ReplaceAllString(prompt, imagePlaceholder)
	return mjRunLinkPattern.ReplaceAllString(sanitized, imagePlaceholder)
}

func duplicateURLMessage(existing Tuner) string {
	return "A tuner with this URL already exists. Here's the existing tuner: " + existing.Prompt
}

// URLCheck is the outcome of validating a candidate url before submission.
type URLCheck struct {
	URL      string
	Valid    bool
	Message  string
	Existing *Tuner
}

// ValidateURL checks the accepted patterns and uniqueness of raw without writing anything.
func (s *Service) ValidateURL(ctx context.Context, raw string) (URLCheck, error) {
	url := NormalizeURL(raw)
	check := URLCheck{URL: url}
	if !IsAcceptedURL(url) {
		check.Message = invalidURLMessage
		return check, nil
	}
	existing, err := s.records.FindByURL(ctx, url)
	if err == nil {
		check.Message = duplicateURLMessage(existing)
		check.Existing = &existing
		return check, nil
	}
	if !errors.Is(err, ErrNotFound) {
		s.logError(opValidateURL, "url_lookup_failed", err)
		return URLCheck{}, err
	}
	check.Valid = true
	return check, nil
}
