package security

import (
	"context"
	"errors"
	"net/netip"
	"strings"
	"testing"

	"github.com/ordersync/backend/internal/domain/integration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubResolver map[string][]string

func (r stubResolver) LookupNetIP(_ context.Context, _, host string) ([]netip.Addr, error) {
	ips, ok := r[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	out := make([]netip.Addr, 0, len(ips))
	for _, ip := range ips {
		out = append(out, netip.MustParseAddr(ip))
	}
	return out, nil
}

func TestGuard_Validate(t *testing.T) {
	guard := NewGuard(WithResolver(stubResolver{
		"eco.taobao.com":          {"140.205.94.189"},
		"api.jd.com":              {"111.13.149.108", "2408:8000::1"},
		"internal.jd.com":         {"10.0.0.12"},
		"rebind.pinduoduo.com":    {"203.0.113.10", "127.0.0.1"},
		"mapped.jinritemai.com":   {"::ffff:192.168.1.1"},
		"metadata.jinritemai.com": {"169.254.169.254"},
	}))
	allowed := []string{"taobao.com", "jd.com", "pinduoduo.com", "jinritemai.com"}

	tests := []struct {
		name    string
		url     string
		allowed bool
	}{
		{"allowlisted https", "https://eco.taobao.com/router/rest?method=x", true},
		{"multiple public addresses", "https://api.jd.com/routerjson", true},
		{"http rejected", "http://eco.taobao.com/router/rest", false},
		{"metadata ip literal", "https://169.254.169.254/latest/meta-data", false},
		{"metadata via dns", "https://metadata.jinritemai.com/", false},
		{"private resolution", "https://internal.jd.com/", false},
		{"one private address of many", "https://rebind.pinduoduo.com/", false},
		{"ipv4-mapped private", "https://mapped.jinritemai.com/", false},
		{"localhost", "https://localhost/", false},
		{"zero address", "https://0.0.0.0/", false},
		{"file scheme", "file:///etc/passwd", false},
		{"gopher embedded", "https://eco.taobao.com/?next=gopher://x", false},
		{"blocked port", "https://eco.taobao.com:6379/", false},
		{"allowed custom port", "https://eco.taobao.com:8443/", true},
		{"not allowlisted", "https://evil.example.com/", false},
		{"suffix trick", "https://eviltaobao.com/", false},
		{"ipv6 loopback", "https://[::1]/", false},
		{"unresolvable", "https://missing.taobao.com/", false},
		{"garbage", "https://%zz", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := guard.Validate(context.Background(), tt.url, allowed)
			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, integration.ErrSSRFRejected)
		})
	}
}

func TestGuard_SchemeErrorsWrapInvalidURL(t *testing.T) {
	err := NewGuard().Validate(context.Background(), "http://eco.taobao.com/", []string{"taobao.com"})
	assert.ErrorIs(t, err, integration.ErrInvalidURL)
	assert.ErrorIs(t, err, integration.ErrSSRFRejected)
}

func TestGuard_EmptyAllowlistRejects(t *testing.T) {
	guard := NewGuard(WithResolver(stubResolver{"eco.taobao.com": {"140.205.94.189"}}))
	err := guard.Validate(context.Background(), "https://eco.taobao.com/", nil)
	assert.ErrorIs(t, err, integration.ErrSSRFRejected)
}

func TestIsBlockedAddr(t *testing.T) {
	tests := []struct {
		ip      string
		blocked bool
	}{
		{"10.1.2.3", true},
		{"172.16.0.1", true},
		{"192.168.0.1", true},
		{"127.0.0.1", true},
		{"169.254.169.254", true},
		{"100.64.0.1", true},
		{"0.1.2.3", true},
		{"224.0.0.1", true},
		{"255.255.255.255", true},
		{"::1", true},
		{"fc00::1", true},
		{"fe80::1", true},
		{"::", true},
		{"8.8.8.8", false},
		{"2408:8000::1", false},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			assert.Equal(t, tt.blocked, IsBlockedAddr(netip.MustParseAddr(tt.ip)))
		})
	}
}

func TestCipher_RoundTrip(t *testing.T) {
	c, err := NewCipher(strings.Repeat("m", 32))
	require.NoError(t, err)

	plaintext := []byte(`{"app_key":"12345678","app_secret":"secret"}`)
	enc1, err := c.Encrypt(plaintext)
	require.NoError(t, err)
	enc2, err := c.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, enc1, enc2, "random nonce per encryption")
	assert.NotContains(t, enc1, "secret")

	got, err := c.Decrypt(enc1)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestCipher_RejectsTamperingAndWrongKey(t *testing.T) {
	c, err := NewCipher("master-secret-one-0000000000000000")
	require.NoError(t, err)
	other, err := NewCipher("master-secret-two-0000000000000000")
	require.NoError(t, err)

	enc, err := c.Encrypt([]byte("payload"))
	require.NoError(t, err)

	_, err = other.Decrypt(enc)
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = c.Decrypt("not base64!")
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = c.Decrypt("AAAA")
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = NewCipher("")
	assert.Error(t, err)
}

func TestDialControl(t *testing.T) {
	tests := []struct {
		name    string
		network string
		address string
		ports   []uint16
		wantErr bool
	}{
		{"public https", "tcp4", "93.184.216.34:443", nil, false},
		{"public v6 https", "tcp6", "[2606:2800:220:1:248:1893:25c8:1946]:443", nil, false},
		{"loopback", "tcp4", "127.0.0.1:443", nil, true},
		{"cloud metadata", "tcp4", "169.254.169.254:443", nil, true},
		{"private range", "tcp4", "10.0.0.12:443", nil, true},
		{"mapped private", "tcp6", "[::ffff:192.168.1.1]:443", nil, true},
		{"port outside allowlist", "tcp4", "93.184.216.34:8080", nil, true},
		{"explicit port allowed", "tcp4", "93.184.216.34:8443", []uint16{8443}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := DialControl(tt.ports...)(tt.network, tt.address, nil)
			if tt.wantErr {
				assert.ErrorIs(t, err, integration.ErrSSRFRejected)
				return
			}
			assert.NoError(t, err)
		})
	}
}
