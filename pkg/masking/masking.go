// Package masking redacts sensitive values before they reach log output
// or outbound payloads.
package masking

import (
	"log/slog"
	"regexp"
)

// CompiledPattern holds a pre-compiled regex with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// Built-in patterns. Applied in order; more specific patterns first.
var builtinPatterns = []struct {
	name        string
	pattern     string
	replacement string
}{
	{
		name:        "github_token",
		pattern:     `\b(gh[pousr]_[A-Za-z0-9]{20,})\b`,
		replacement: "***MASKED_GITHUB_TOKEN***",
	},
	{
		name:        "bearer_token",
		pattern:     `(?i)(bearer\s+)[A-Za-z0-9\-._~+/]+=*`,
		replacement: "${1}***MASKED_TOKEN***",
	},
	{
		name:        "api_key",
		pattern:     `(?i)("?(?:api[_-]?key|apikey)"?\s*[:=]\s*"?)[^"\s,}]+`,
		replacement: "${1}***MASKED_API_KEY***",
	},
	{
		name:        "password",
		pattern:     `(?i)("?(?:password|passwd)"?\s*[:=]\s*"?)[^"\s,}]+`,
		replacement: "${1}***MASKED_PASSWORD***",
	},
	{
		name:        "secret",
		pattern:     `(?i)("?(?:secret|webhook_secret|token)"?\s*[:=]\s*"?)[^"\s,}]+`,
		replacement: "${1}***MASKED_SECRET***",
	},
	{
		name:        "url_credentials",
		pattern:     `(\w+://)[^/@\s:]+:[^/@\s]+@`,
		replacement: "${1}***:***@",
	},
}

// Service applies value redaction. Created once at startup; thread-safe
// and stateless aside from the compiled patterns.
type Service struct {
	patterns []*CompiledPattern
}

// NewService compiles the built-in patterns. Invalid patterns are logged
// and skipped rather than failing startup.
func NewService() *Service {
	s := &Service{}
	for _, p := range builtinPatterns {
		compiled, err := regexp.Compile(p.pattern)
		if err != nil {
			slog.Error("Failed to compile masking pattern, skipping",
				"pattern", p.name, "error", err)
			continue
		}
		s.patterns = append(s.patterns, &CompiledPattern{
			Name:        p.name,
			Regex:       compiled,
			Replacement: p.replacement,
		})
	}
	return s
}

// Mask redacts every sensitive value found in content.
func (s *Service) Mask(content string) string {
	if content == "" {
		return content
	}
	masked := content
	for _, p := range s.patterns {
		masked = p.Regex.ReplaceAllString(masked, p.Replacement)
	}
	return masked
}

// defaultService backs the package-level helpers used by log call sites.
var defaultService = NewService()

// Mask redacts sensitive values using the default service.
func Mask(content string) string {
	return defaultService.Mask(content)
}

// MaskURL redacts embedded credentials and query-string tokens in a URL
// so it is safe to log.
var urlTokenPattern = regexp.MustCompile(`(?i)([?&](?:token|key|secret|signature)=)[^&\s]+`)

func MaskURL(url string) string {
	masked := defaultService.Mask(url)
	return urlTokenPattern.ReplaceAllString(masked, "${1}***")
}
