package services

import (
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
)

// resolveWith runs one request through a fiber handler and returns what
// the resolver saw.
func resolveWith(t *testing.T, resolver *ClientIPResolver, headers map[string]string) string {
	t.Helper()

	var resolved string
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		resolved = resolver.Resolve(c)
		return c.SendString("ok")
	})

	req, _ := http.NewRequest("GET", "/", nil)
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	resp, err := app.Test(req)
	assert.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	return resolved
}

func TestResolvePrefersFirstPublicHeader(t *testing.T) {
	resolver := NewClientIPResolver(defaultProxyHeaders())

	ip := resolveWith(t, resolver, map[string]string{
		"X-Forwarded-For": "203.0.113.7",
	})
	assert.Equal(t, "203.0.113.7", ip)
}

func TestResolveTakesFirstChainEntry(t *testing.T) {
	resolver := NewClientIPResolver(defaultProxyHeaders())

	ip := resolveWith(t, resolver, map[string]string{
		"X-Forwarded-For": "203.0.113.7, 10.0.0.1, 172.16.0.1",
	})
	assert.Equal(t, "203.0.113.7", ip)
}

func TestResolveSkipsNonPublicHeaderValues(t *testing.T) {
	resolver := NewClientIPResolver(defaultProxyHeaders())

	// A private XFF must not win; the next header in priority order does
	ip := resolveWith(t, resolver, map[string]string{
		"X-Forwarded-For": "10.0.0.1",
		"X-Real-IP":       "198.51.100.4",
	})
	assert.Equal(t, "198.51.100.4", ip)
}

func TestResolveIgnoresGarbageHeaders(t *testing.T) {
	resolver := NewClientIPResolver(defaultProxyHeaders())

	ip := resolveWith(t, resolver, map[string]string{
		"X-Forwarded-For": "not-an-ip",
	})
	// Falls through to the connection address; always a parseable IP
	assert.True(t, IsValidIP(ip), "Fallback must still be a valid IP, got %q", ip)
}

func TestResolveAlwaysReturnsAnAddress(t *testing.T) {
	resolver := NewClientIPResolver(nil)

	ip := resolveWith(t, resolver, nil)
	assert.NotEmpty(t, ip)
	assert.True(t, IsValidIP(ip))
}

func TestResolveNormalizesIPv6(t *testing.T) {
	resolver := NewClientIPResolver(defaultProxyHeaders())

	ip := resolveWith(t, resolver, map[string]string{
		"X-Forwarded-For": "2001:db8:0:0:0:0:0:1",
	})
	assert.Equal(t, "2001:db8::1", ip)
}

func TestIsPublicIP(t *testing.T) {
	assert.True(t, IsPublicIP("203.0.113.7"))
	assert.True(t, IsPublicIP("2001:db8::1"))

	assert.False(t, IsPublicIP("127.0.0.1"))
	assert.False(t, IsPublicIP("10.1.2.3"))
	assert.False(t, IsPublicIP("192.168.0.1"))
	assert.False(t, IsPublicIP("172.16.5.5"))
	assert.False(t, IsPublicIP("0.0.0.0"))
	assert.False(t, IsPublicIP("169.254.1.1"))
	assert.False(t, IsPublicIP("224.0.0.1"))
	assert.False(t, IsPublicIP("::1"))
	assert.False(t, IsPublicIP(""))
	assert.False(t, IsPublicIP("garbage"))
}

func TestIsValidIP(t *testing.T) {
	assert.True(t, IsValidIP("192.168.1.1"))
	assert.True(t, IsValidIP("::1"))
	assert.False(t, IsValidIP(""))
	assert.False(t, IsValidIP("999.999.999.999"))
	assert.False(t, IsValidIP("example.com"))
}
