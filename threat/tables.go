package threat

import "strings"

// botUAMarkers are lowercase substrings of user agents that identify scripted
// HTTP clients and scrapers.
var botUAMarkers = []string{
	"bot",
	"crawler",
	"spider",
	"scraper",
	"curl",
	"wget",
	"python-requests",
	"python-urllib",
	"aiohttp",
	"scrapy",
	"go-http-client",
	"okhttp",
	"java/",
	"libwww",
	"httpclient",
	"httpunit",
	"headless",
	"phantom",
	"selenium",
	"puppeteer",
	"playwright",
}

// allowedBotMarkers is a short allow-list of crawlers and monitors the
// product wants indexed by or probed from. They still score a token amount
// so they show in the suspicious-request distribution.
var allowedBotMarkers = []string{
	"googlebot",
	"bingbot",
	"duckduckbot",
	"slurp",
	"applebot",
	"linkedinbot",
	"facebookexternalhit",
	"uptimerobot",
	"pingdom",
	"lighthouse",
}

// proxyHeaders indicate the request passed through an anonymizing proxy.
var proxyHeaders = []string{
	"Via",
	"X-Proxy-Id",
	"Proxy-Connection",
	"X-Anonymized",
}

// automationHeaders are custom markers some frameworks attach to traffic.
var automationHeaders = []string{
	"X-Automation",
	"X-Bot",
	"X-Crawler",
	"X-Scraper",
	"X-Selenium",
}

// datacenterPrefixes are IP prefixes of common cloud/hosting providers.
// Legitimate end users browse from residential or mobile ranges, not from
// EC2. Prefix match keeps the lookup cheap; precision is not required since
// this signal alone cannot cross the suspicious threshold.
var datacenterPrefixes = []string{
	// AWS
	"3.", "13.", "18.", "34.", "35.", "52.", "54.",
	// Google Cloud
	"104.196.", "104.197.", "104.198.", "104.199.", "130.211.", "146.148.",
	// Azure
	"20.", "40.", "104.40.", "104.41.", "137.116.", "168.61.", "168.62.",
	// DigitalOcean
	"104.131.", "104.236.", "107.170.", "138.68.", "159.65.", "159.89.",
	"165.227.", "167.99.", "178.62.", "188.166.",
	// OVH
	"51.38.", "51.68.", "51.75.", "51.77.", "51.83.", "51.89.", "51.91.",
	"135.125.", "141.94.", "141.95.",
	// Hetzner
	"5.9.", "88.99.", "94.130.", "95.216.", "116.202.", "116.203.",
	"135.181.", "138.201.", "142.132.", "157.90.", "159.69.", "168.119.",
	"176.9.", "195.201.",
	// Linode
	"45.33.", "45.56.", "45.79.", "50.116.", "66.175.", "69.164.",
	"72.14.", "96.126.", "139.162.", "172.104.", "173.230.", "173.255.",
}

// mobileMarkers excuse a short UA; mobile browsers legitimately send compact
// user agents.
var mobileMarkers = []string{"mobile", "android", "iphone", "ipad"}

func matchesAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func isDatacenterIP(ip string) bool {
	for _, prefix := range datacenterPrefixes {
		if strings.HasPrefix(ip, prefix) {
			return true
		}
	}
	return false
}
