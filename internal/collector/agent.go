package collector

import (
	"strings"

	"github.com/mssola/useragent"
)

// DeviceClass is one of mobile, tablet or desktop.
type DeviceClass string

const (
	DeviceMobile  DeviceClass = "mobile"
	DeviceTablet  DeviceClass = "tablet"
	DeviceDesktop DeviceClass = "desktop"
)

// Agent holds the traits derived from an agent string.
type Agent struct {
	Browser        string      `json:"browser"`
	BrowserVersion string      `json:"browserVersion"`
	OS             string      `json:"os"`
	OSVersion      string      `json:"osVersion"`
	Platform       string      `json:"platform"`
	Device         DeviceClass `json:"device"`
	Bot            bool        `json:"bot"`
}

type browserRule struct {
	name   string
	tokens []string
}

// browserRules are evaluated in order. Chromium-based vendors carry the Chrome
// and Safari tokens too, so vendor names come first and generic engines last.
var browserRules = []browserRule{
	{"Edge", []string{"EdgA/", "EdgiOS/", "Edg/", "Edge/"}},
	{"Opera", []string{"OPR/", "OPiOS/", "OPT/"}},
	{"Samsung Internet", []string{"SamsungBrowser/"}},
	{"Yandex", []string{"YaBrowser/"}},
	{"Vivaldi", []string{"Vivaldi/"}},
	{"Brave", []string{"Brave/"}},
	{"UC Browser", []string{"UCBrowser/"}},
	{"Firefox", []string{"FxiOS/"}},
	{"Chrome", []string{"CriOS/"}},
	{"Chromium", []string{"Chromium/"}},
	{"Chrome", []string{"Chrome/"}},
	{"Firefox", []string{"Firefox/"}},
}

var (
	tabletTokens = []string{"iPad", "Tablet", "PlayBook", "Silk/", "Kindle"}
	mobileTokens = []string{"Mobi", "iPhone", "iPod", "Android", "BlackBerry", "IEMobile", "Opera Mini", "Windows Phone"}
)

// ClassifyAgent parses an agent string. Vendor tokens take precedence over the
// generic engine names; anything the table misses falls back to useragent.
func ClassifyAgent(raw string) Agent {
	ua := useragent.New(raw)
	os := ua.OSInfo()

	agent := Agent{
		OS:        os.Name,
		OSVersion: os.Version,
		Platform:  ua.Platform(),
		Device:    ClassifyDevice(raw),
		Bot:       ua.Bot(),
	}

	if name, version, ok := matchBrowser(raw); ok {
		agent.Browser, agent.BrowserVersion = name, version
	} else {
		agent.Browser, agent.BrowserVersion = ua.Browser()
	}

	if agent.Browser == "" {
		agent.Browser = "Unknown"
	}
	if agent.OS == "" {
		agent.OS = "Unknown"
	}
	return agent
}

func matchBrowser(raw string) (name, version string, ok bool) {
	for _, rule := range browserRules {
		for _, token := range rule.tokens {
			if idx := strings.Index(raw, token); idx >= 0 {
				return rule.name, versionAt(raw[idx+len(token):]), true
			}
		}
	}
	// Safari advertises its version under Version/, and only when no other
	// engine claimed the agent.
	if strings.Contains(raw, "Safari/") {
		if idx := strings.Index(raw, "Version/"); idx >= 0 {
			return "Safari", versionAt(raw[idx+len("Version/"):]), true
		}
	}
	return "", "", false
}

func versionAt(s string) string {
	end := strings.IndexAny(s, " ;)")
	if end < 0 {
		return s
	}
	return s[:end]
}

// ClassifyDevice derives exactly one device class from agent substrings.
// Tablet tokens are checked before mobile ones; Android without "Mobile" is a tablet.
func ClassifyDevice(raw string) DeviceClass {
	if containsAny(raw, tabletTokens) {
		return DeviceTablet
	}
	if strings.Contains(raw, "Android") && !strings.Contains(raw, "Mobile") {
		return DeviceTablet
	}
	if containsAny(raw, mobileTokens) {
		return DeviceMobile
	}
	return DeviceDesktop
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
