package device

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"

	"github.com/mssola/user_agent"
)

// Risk levels derived from the additive score
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

const (
	riskHighThreshold   = 70
	riskMediumThreshold = 30
	riskScoreCap        = 100
)

// Info is everything observed about the client device on one request.
// The fingerprint is built from the stable components only, so a session
// survives minor header churn. The risk score is advisory: it is logged
// and handed to the device trust service but never blocks a login by itself.
type Info struct {
	UserAgent      string
	AcceptLanguage string
	AcceptEncoding string

	Browser    string
	OS         string
	DeviceType string
	IsMobile   bool
	IsTablet   bool
	IsBot      bool

	IP string

	Fingerprint         string
	SecurityFingerprint string

	RiskScore   int
	RiskFactors []string
	RiskLevel   string
}

// Describe renders a short human readable device descriptor,
// stored next to refresh tokens for the "your devices" view.
func (i Info) Describe() string {
	browser := i.Browser
	if browser == "" || browser == "unknown" {
		return "Unknown Device"
	}
	if i.OS == "" || i.OS == "unknown" {
		return browser
	}
	return browser + " on " + i.OS
}

// Headers consulted for the real client address, most trusted first
var ipHeaders = []string{
	"Cf-Connecting-Ip",
	"X-Real-Ip",
	"X-Forwarded-For",
	"X-Client-Ip",
	"X-Cluster-Client-Ip",
}

// ClientIP resolves the client address through the usual proxy headers.
// Comma separated lists keep only the first entry, values that do not
// parse as an address are skipped. Falls back to the socket peer.
func ClientIP(r *http.Request) string {
	for _, header := range ipHeaders {
		value := r.Header.Get(header)
		if value == "" {
			continue
		}
		first := strings.TrimSpace(strings.Split(value, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && net.ParseIP(host) != nil {
		return host
	}
	if net.ParseIP(r.RemoteAddr) != nil {
		return r.RemoteAddr
	}
	return "unknown"
}

var botIndicators = []string{
	"bot", "crawler", "spider", "scraper",
	"curl", "wget", "python", "java", "axios", "node",
	"phantom", "selenium", "headless", "automated", "monitor", "test",
}

var automationIndicators = []string{
	"selenium", "webdriver", "phantom", "headless", "automated",
}

var proxyIndicators = []string{"vpn", "proxy", "tor"}

// Addresses with these prefixes never participate in the fingerprint:
// they change between office and home without the device changing.
var privatePrefixes = []string{"127.", "192.168.", "10.", "172."}

// Collect extracts the device info from the request headers and scores it
func Collect(r *http.Request) Info {
	info := Info{
		UserAgent:      strings.TrimSpace(r.UserAgent()),
		AcceptLanguage: strings.TrimSpace(r.Header.Get("Accept-Language")),
		AcceptEncoding: strings.TrimSpace(r.Header.Get("Accept-Encoding")),
		IP:             ClientIP(r),
	}

	info.parseUserAgent()

	// Stable fingerprint components. Private addresses are dropped so the
	// hash does not depend on which side of the NAT the client sits.
	fingerprintIP := info.IP
	for _, prefix := range privatePrefixes {
		if strings.HasPrefix(fingerprintIP, prefix) {
			fingerprintIP = ""
			break
		}
	}

	components := []string{
		info.Browser,
		info.OS,
		primaryLanguage(info.AcceptLanguage),
		normalizeHeader(info.AcceptEncoding),
		fingerprintIP,
	}
	info.Fingerprint = hashComponents(components)

	securityComponents := append(components,
		r.Header.Get("Sec-Ch-Ua"),
		r.Header.Get("Sec-Ch-Ua-Platform"),
		r.Header.Get("Connection"),
	)
	info.SecurityFingerprint = hashComponents(securityComponents)

	info.score()

	return info
}

func (i *Info) parseUserAgent() {
	if i.UserAgent == "" {
		i.Browser = "unknown"
		i.OS = "unknown"
		i.DeviceType = "unknown"
		i.IsBot = true
		return
	}

	ua := user_agent.New(i.UserAgent)
	i.Browser, _ = ua.Browser()
	i.OS = ua.OSInfo().Name
	i.IsMobile = ua.Mobile()

	lowered := strings.ToLower(i.UserAgent)
	i.IsTablet = strings.Contains(lowered, "tablet") || strings.Contains(lowered, "ipad")

	i.IsBot = ua.Bot()
	for _, indicator := range botIndicators {
		if strings.Contains(lowered, indicator) {
			i.IsBot = true
			break
		}
	}

	switch {
	case i.IsTablet:
		i.DeviceType = "tablet"
	case i.IsMobile:
		i.DeviceType = "mobile"
	default:
		i.DeviceType = "desktop"
	}

	if i.Browser == "" {
		i.Browser = "unknown"
	}
	if i.OS == "" {
		i.OS = "unknown"
	}
}

func (i *Info) score() {
	score := 0
	var factors []string

	if i.UserAgent == "" || i.IsBot {
		score += 40
		factors = append(factors, "suspicious_user_agent")
	}
	if i.AcceptLanguage == "" {
		score += 25
		factors = append(factors, "missing_accept_language")
	}
	if i.AcceptEncoding == "" {
		score += 20
		factors = append(factors, "missing_accept_encoding")
	}

	lowered := strings.ToLower(i.UserAgent)
	for _, indicator := range automationIndicators {
		if strings.Contains(lowered, indicator) {
			score += 50
			factors = append(factors, "automation_detected")
			break
		}
	}

	if i.IP == "" || i.IP == "unknown" || i.IP == "127.0.0.1" || i.IP == "localhost" {
		score += 15
		factors = append(factors, "suspicious_ip")
	}

	headers := strings.ToLower(i.UserAgent + " " + i.AcceptLanguage + " " + i.AcceptEncoding)
	for _, indicator := range proxyIndicators {
		if strings.Contains(headers, indicator) {
			score += 30
			factors = append(factors, "proxy_detected")
			break
		}
	}

	i.RiskScore = min(score, riskScoreCap)
	i.RiskFactors = factors

	switch {
	case i.RiskScore >= riskHighThreshold:
		i.RiskLevel = RiskHigh
	case i.RiskScore >= riskMediumThreshold:
		i.RiskLevel = RiskMedium
	default:
		i.RiskLevel = RiskLow
	}
}

// primaryLanguage keeps only the first language tag without its quality weight
func primaryLanguage(acceptLanguage string) string {
	if acceptLanguage == "" {
		return ""
	}
	first := strings.Split(acceptLanguage, ",")[0]
	first = strings.Split(first, ";")[0]
	return strings.ToLower(strings.TrimSpace(first))
}

func normalizeHeader(value string) string {
	return strings.Join(strings.Fields(strings.ToLower(value)), " ")
}

func hashComponents(components []string) string {
	nonEmpty := make([]string, 0, len(components))
	for _, c := range components {
		if c != "" {
			nonEmpty = append(nonEmpty, c)
		}
	}
	sum := sha256.Sum256([]byte(strings.Join(nonEmpty, "|")))
	return hex.EncodeToString(sum[:])[:32]
}
