package geo

import (
	"net/url"
	"strings"

	"gatekeeper/internal/resolver"
)

// IPPlaceholder marks where the looked-up address goes in a provider URL.
const IPPlaceholder = "{ip}"

// DefaultProviders is the built-in ordered provider list.
var DefaultProviders = []resolver.Descriptor{
	{ID: "ipapi.co", URL: "https://ipapi.co/{ip}/json/", Adapter: "ipapi.co"},
	{ID: "ipwho.is", URL: "https://ipwho.is/{ip}", Adapter: "ipwho.is"},
	{ID: "freeipapi.com", URL: "https://freeipapi.com/api/json/{ip}", Adapter: "freeipapi"},
	{ID: "ip-api.com", URL: "http://ip-api.com/json/{ip}", Adapter: "ip-api.com"},
}

// ExpandURL fills the IP placeholder. An empty ip asks the provider about the
// caller's own address, so the placeholder and its path separator are dropped.
func ExpandURL(template, ip string) string {
	if ip != "" {
		return strings.ReplaceAll(template, IPPlaceholder, url.PathEscape(ip))
	}
	out := strings.ReplaceAll(template, "/"+IPPlaceholder+"/", "/")
	out = strings.ReplaceAll(out, "/"+IPPlaceholder, "/")
	return strings.ReplaceAll(out, IPPlaceholder, "")
}
