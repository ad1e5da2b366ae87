// Package devices derives a coarse device class from a raw user agent and
// carries the client-reported environment fields alongside it.
package devices

import (
	_ "embed"
	"fmt"
	"sync"

	"go.elara.ws/pcre"
	"gopkg.in/yaml.v3"
)

// Device classes
const (
	Desktop = "Desktop"
	Mobile  = "Mobile"
	Tablet  = "Tablet"
)

// DeviceInfo describes the client environment an event was produced in.
// Device is derived server-side from the user agent; the remaining fields
// are reported by the client and passed through as-is.
type DeviceInfo struct {
	Device       string `json:"device"`
	UserAgent    string `json:"userAgent"`
	Language     string `json:"language"`
	Platform     string `json:"platform"`
	ScreenWidth  int    `json:"screenWidth"`
	ScreenHeight int    `json:"screenHeight"`
}

//go:embed rules.yml
var rulesFile []byte

type ruleEntry struct {
	Regex string `yaml:"regex"`
}

type ruleSet struct {
	Tablet []ruleEntry `yaml:"tablet"`
	Mobile []ruleEntry `yaml:"mobile"`
}

var (
	loadOnce       sync.Once
	tabletPatterns []*pcre.Regexp
	mobilePatterns []*pcre.Regexp
	loadErr        error
)

func compileRules() {
	var rules ruleSet
	if err := yaml.Unmarshal(rulesFile, &rules); err != nil {
		loadErr = fmt.Errorf("failed to parse device rules: %w", err)
		return
	}

	compile := func(entries []ruleEntry) ([]*pcre.Regexp, error) {
		patterns := make([]*pcre.Regexp, 0, len(entries))
		for _, entry := range entries {
			re, err := pcre.Compile(entry.Regex)
			if err != nil {
				return nil, fmt.Errorf("invalid device rule %q: %w", entry.Regex, err)
			}
			patterns = append(patterns, re)
		}
		return patterns, nil
	}

	if tabletPatterns, loadErr = compile(rules.Tablet); loadErr != nil {
		return
	}
	mobilePatterns, loadErr = compile(rules.Mobile)
}

// Classify maps a user agent to Desktop, Mobile or Tablet. It is pure and
// total: unknown or empty agents come back as Desktop. Tablet rules are
// checked first so an iPad (which also matches the mobile patterns) lands
// in the tablet bucket.
func Classify(userAgent string) string {
	loadOnce.Do(compileRules)
	if loadErr != nil || userAgent == "" {
		return Desktop
	}

	for _, re := range tabletPatterns {
		if re.MatchString(userAgent) {
			return Tablet
		}
	}
	for _, re := range mobilePatterns {
		if re.MatchString(userAgent) {
			return Mobile
		}
	}
	return Desktop
}

// Describe builds a DeviceInfo from the raw user agent and the
// client-reported fields, filling generic fallbacks for absent values.
func Describe(userAgent, language, platform string, screenWidth, screenHeight int) DeviceInfo {
	if userAgent == "" {
		userAgent = "Unknown User Agent"
	}
	return DeviceInfo{
		Device:       Classify(userAgent),
		UserAgent:    userAgent,
		Language:     language,
		Platform:     platform,
		ScreenWidth:  screenWidth,
		ScreenHeight: screenHeight,
	}
}
