package analysis

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNSResolver struct {
	records map[string][]string
	panics  bool
	lookups []string
}

func (f *fakeNSResolver) LookupNS(_ context.Context, name string) ([]*net.NS, error) {
	f.lookups = append(f.lookups, name)
	if f.panics {
		panic("resolver exploded")
	}
	hosts, ok := f.records[name]
	if !ok {
		return nil, errors.New("no such host")
	}
	out := make([]*net.NS, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, &net.NS{Host: h})
	}
	return out, nil
}

func TestDNSAnalyzer_InfersRegistrar(t *testing.T) {
	resolver := &fakeNSResolver{records: map[string][]string{
		"acme.example": {"NS51.DOMAINCONTROL.COM.", "ns52.domaincontrol.com."},
	}}
	info := NewDNSAnalyzer(resolver).Analyze(context.Background(), "https://www.acme.example/contact")

	assert.Equal(t, "acme.example", info.Domain)
	assert.Equal(t, []string{"ns51.domaincontrol.com", "ns52.domaincontrol.com"}, info.Nameservers)
	require.NotNil(t, info.Registrar)
	assert.Equal(t, "GoDaddy", *info.Registrar)
	assert.True(t, info.Switchable)
	assert.Equal(t, []string{"acme.example"}, resolver.lookups)
}

func TestDNSAnalyzer_FallsBackToParentDomain(t *testing.T) {
	resolver := &fakeNSResolver{records: map[string][]string{
		"acme.example": {"ns0.wixdns.net.", "ns1.wixdns.net."},
	}}
	info := NewDNSAnalyzer(resolver).Analyze(context.Background(), "https://shop.acme.example/")

	assert.Equal(t, []string{"shop.acme.example", "acme.example"}, resolver.lookups)
	require.NotNil(t, info.Registrar)
	assert.Equal(t, "Wix", *info.Registrar)
	assert.False(t, info.Switchable)
}

func TestDNSAnalyzer_NoNameserversIsSwitchable(t *testing.T) {
	info := NewDNSAnalyzer(&fakeNSResolver{}).Analyze(context.Background(), "https://acme.example/")

	assert.Empty(t, info.Nameservers)
	assert.Nil(t, info.Registrar)
	assert.True(t, info.Switchable)
}

func TestDNSAnalyzer_LookupFailureKeepsDomain(t *testing.T) {
	resolver := &fakeNSResolver{}
	info := NewDNSAnalyzer(resolver).Analyze(context.Background(), "https://www.shop.acme.example/")

	assert.Equal(t, []string{"shop.acme.example", "acme.example"}, resolver.lookups)
	assert.Equal(t, "shop.acme.example", info.Domain)
	assert.Empty(t, info.Nameservers)
	assert.True(t, info.Switchable)
	assert.NotEqual(t, safeDNSInfo(), info)
}

func TestDNSAnalyzer_UnknownProvider(t *testing.T) {
	resolver := &fakeNSResolver{records: map[string][]string{
		"acme.example": {"ns1.tiny-host.example."},
	}}
	info := NewDNSAnalyzer(resolver).Analyze(context.Background(), "http://acme.example")
	assert.Nil(t, info.Registrar)
	assert.True(t, info.Switchable)
}

func TestDNSAnalyzer_FailuresYieldSafeDefault(t *testing.T) {
	info := NewDNSAnalyzer(&fakeNSResolver{panics: true}).Analyze(context.Background(), "https://acme.example/")
	assert.Equal(t, safeDNSInfo(), info)
	assert.False(t, info.Switchable)

	info = NewDNSAnalyzer(&fakeNSResolver{}).Analyze(context.Background(), "::not a url")
	assert.Equal(t, safeDNSInfo(), info)
}
