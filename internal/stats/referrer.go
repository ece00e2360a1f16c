package stats

import (
	"net/url"
	"strings"
)

const (
	DirectSource = "Direct"
	UnknownLabel = "Unknown"
	OtherLabel   = "Other"
)

// referrerSources maps a substring of the referring host to a display name.
// Order matters: the first match wins.
var referrerSources = []struct {
	match []string
	name  string
}{
	{[]string{"google"}, "Google"},
	{[]string{"baidu"}, "Baidu"},
	{[]string{"bing"}, "Bing"},
	{[]string{"yahoo"}, "Yahoo"},
	{[]string{"weibo"}, "Weibo"},
	{[]string{"zhihu"}, "Zhihu"},
	{[]string{"douyin", "tiktok"}, "Douyin/TikTok"},
	{[]string{"bilibili"}, "Bilibili"},
	{[]string{"github"}, "GitHub"},
}

// ReferrerSource names the traffic source of a referrer URL. Empty, local
// and unparseable referrers count as direct traffic.
func ReferrerSource(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return DirectSource
	}
	u, err := url.Parse(ref)
	if err != nil {
		return DirectSource
	}
	host := strings.ToLower(u.Hostname())
	switch host {
	case "", "localhost", "127.0.0.1", "::1":
		return DirectSource
	}
	for _, src := range referrerSources {
		for _, m := range src.match {
			if strings.Contains(host, m) {
				return src.name
			}
		}
	}
	return host
}
