package analysis

import (
	"context"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/jonathan/siteforge/internal/types"
)

// DNSTimeout bounds each nameserver lookup.
const DNSTimeout = 10 * time.Second

// NSResolver looks up nameserver records. *net.Resolver satisfies it.
type NSResolver interface {
	LookupNS(ctx context.Context, name string) ([]*net.NS, error)
}

type provider struct {
	fragment string
	name     string
}

// providers is matched in order; the first fragment found in any nameserver wins.
var providers = []provider{
	{"domaincontrol.com", "GoDaddy"},
	{"cloudflare.com", "Cloudflare"},
	{"awsdns", "Amazon Route 53"},
	{"googledomains.com", "Google Domains"},
	{"ns-cloud", "Google Cloud DNS"},
	{"registrar-servers.com", "Namecheap"},
	{"wixdns.net", "Wix"},
	{"squarespacedns.com", "Squarespace"},
	{"shopify.com", "Shopify"},
	{"weebly.com", "Weebly"},
	{"bluehost.com", "Bluehost"},
	{"hostgator.com", "HostGator"},
	{"dreamhost.com", "DreamHost"},
	{"ui-dns", "IONOS"},
	{"worldnic.com", "Network Solutions"},
	{"hover.com", "Hover"},
	{"dnsimple.com", "DNSimple"},
	{"nsone.net", "NS1"},
	{"azure-dns", "Azure DNS"},
	{"digitalocean.com", "DigitalOcean"},
	{"vercel-dns.com", "Vercel"},
}

// lockedSuffixes are hosted platforms whose DNS cannot be repointed by the owner.
var lockedSuffixes = []string{
	"wixdns.net",
	"squarespacedns.com",
	"shopify.com",
	"weebly.com",
	"godaddysites.com",
}

// DNSAnalyzer infers the DNS provider for a site and whether it can be moved.
type DNSAnalyzer struct {
	resolver NSResolver
	timeout  time.Duration
}

// NewDNSAnalyzer creates a DNS analyzer. A nil resolver uses net.DefaultResolver.
func NewDNSAnalyzer(resolver NSResolver) *DNSAnalyzer {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &DNSAnalyzer{resolver: resolver, timeout: DNSTimeout}
}

// Analyze never fails. A URL without a host, or a panic, yields the safe
// default: no domain, no nameservers, no registrar, not switchable. A failed NS
// lookup (after the parent-domain retry) keeps the domain and reports zero
// nameservers, which counts as switchable.
func (a *DNSAnalyzer) Analyze(ctx context.Context, pageURL string) (info types.DNSInfo) {
	defer func() {
		if r := recover(); r != nil {
			info = safeDNSInfo()
		}
	}()

	u, err := url.Parse(pageURL)
	if err != nil || u.Hostname() == "" {
		return safeDNSInfo()
	}
	domain := strings.TrimPrefix(strings.TrimSuffix(strings.ToLower(u.Hostname()), "."), "www.")

	nameservers, err := a.lookup(ctx, domain)
	if err != nil {
		if parent := parentDomain(domain); parent != "" && parent != domain {
			nameservers, _ = a.lookup(ctx, parent)
		}
	}

	return types.DNSInfo{
		Domain:      domain,
		Nameservers: nameservers,
		Registrar:   inferRegistrar(nameservers),
		Switchable:  !anyLocked(nameservers),
	}
}

func (a *DNSAnalyzer) lookup(ctx context.Context, name string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	records, err := a.resolver.LookupNS(ctx, name)
	if err != nil {
		return []string{}, err
	}
	out := make([]string, 0, len(records))
	for _, ns := range records {
		out = append(out, strings.TrimSuffix(strings.ToLower(ns.Host), "."))
	}
	return out, nil
}

func parentDomain(domain string) string {
	labels := strings.Split(domain, ".")
	if len(labels) <= 2 {
		return ""
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

func inferRegistrar(nameservers []string) *string {
	for _, p := range providers {
		for _, ns := range nameservers {
			if strings.Contains(ns, p.fragment) {
				name := p.name
				return &name
			}
		}
	}
	return nil
}

func anyLocked(nameservers []string) bool {
	for _, ns := range nameservers {
		for _, suffix := range lockedSuffixes {
			if strings.HasSuffix(ns, suffix) {
				return true
			}
		}
	}
	return false
}

func safeDNSInfo() types.DNSInfo {
	return types.DNSInfo{Nameservers: []string{}}
}
