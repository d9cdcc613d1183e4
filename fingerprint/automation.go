package fingerprint

import "strings"

// AutomationResult reports whether a fingerprint matches a known automation
// tool, and which one.
type AutomationResult struct {
	IsAutomation bool
	Tool         string
}

// automationTools maps UA substrings to tool names. Covers headless browser
// engines, scripted-browser drivers, and test runners.
var automationTools = []struct {
	marker string
	tool   string
}{
	{"headlesschrome", "headless_chrome"},
	{"phantomjs", "phantomjs"},
	{"slimerjs", "slimerjs"},
	{"selenium", "selenium"},
	{"webdriver", "webdriver"},
	{"playwright", "playwright"},
	{"puppeteer", "puppeteer"},
	{"cypress", "cypress"},
	{"nightmare", "nightmare"},
	{"electron", "electron"},
}

// lowConfidenceThreshold: below this a client is too header-sparse to be a
// real browser even without a tool signature.
const lowConfidenceThreshold = 30

// DetectAutomation checks the fingerprint against the automation-tool table,
// then falls back to the confidence floor.
func DetectAutomation(fp Fingerprint) AutomationResult {
	ua := strings.ToLower(fp.Components.UserAgent)
	for _, entry := range automationTools {
		if strings.Contains(ua, entry.marker) {
			return AutomationResult{IsAutomation: true, Tool: entry.tool}
		}
	}
	if fp.Confidence < lowConfidenceThreshold {
		return AutomationResult{IsAutomation: true, Tool: "low_confidence"}
	}
	return AutomationResult{}
}
