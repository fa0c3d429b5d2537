package scrape

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	utls "github.com/refraction-networking/utls"
)

const maxBodyBytes = 10 << 20

// headerProfile is one realistic client identity. Profiles rotate per
// request so repeated fetches against the same host do not present a
// constant fingerprint.
type headerProfile struct {
	userAgent      string
	accept         string
	acceptLanguage string
	secChUA        string
}

var defaultProfiles = []headerProfile{
	{
		userAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		accept:         "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		acceptLanguage: "en-US,en;q=0.9",
		secChUA:        `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`,
	},
	{
		userAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		accept:         "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		acceptLanguage: "en-US,en;q=0.8",
		secChUA:        `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`,
	},
	{
		userAgent:      "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
		accept:         "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		acceptLanguage: "en-US,en;q=0.5",
	},
}

// StaticFetcher is the cheap first tier: a plain GET carrying rotating
// browser headers over a Chrome-shaped TLS ClientHello.
type StaticFetcher struct {
	client   *http.Client
	profiles []headerProfile
	next     atomic.Uint64
}

// NewStaticFetcher builds the tier. A nil client gets the impersonating
// transport; tests inject an httptest client instead.
func NewStaticFetcher(client *http.Client, timeout time.Duration) *StaticFetcher {
	if client == nil {
		client = &http.Client{
			Timeout:   timeout,
			Transport: newImpersonatingTransport(),
		}
	}
	return &StaticFetcher{client: client, profiles: defaultProfiles}
}

func (f *StaticFetcher) Name() string { return "static" }

// Fetch performs one GET. Transient failures (timeouts, 5xx, 429) come
// back as plain errors for the engine's retry loop; anti-bot and
// not-found responses are permanent and hand off to the next tier.
func (f *StaticFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	f.profile().apply(req)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", fmt.Errorf("fetch %s: status %s", pageURL, resp.Status)
	default:
		return "", backoff.Permanent(fmt.Errorf("fetch %s: status %s", pageURL, resp.Status))
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") && !strings.Contains(ct, "xml") {
		return "", backoff.Permanent(fmt.Errorf("fetch %s: unsupported content type %s", pageURL, ct))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read body %s: %w", pageURL, err)
	}
	return string(body), nil
}

func (f *StaticFetcher) profile() headerProfile {
	return f.profiles[f.next.Add(1)%uint64(len(f.profiles))]
}

func (p headerProfile) apply(req *http.Request) {
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", p.accept)
	req.Header.Set("Accept-Language", p.acceptLanguage)
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	if p.secChUA != "" {
		req.Header.Set("Sec-Ch-Ua", p.secChUA)
		req.Header.Set("Sec-Ch-Ua-Mobile", "?0")
		req.Header.Set("Sec-Fetch-Dest", "document")
		req.Header.Set("Sec-Fetch-Mode", "navigate")
	}
}

// newImpersonatingTransport dials TLS with a Chrome 120 ClientHello so
// the JA3 fingerprint matches the advertised User-Agent. ALPN is pinned
// to http/1.1 because the wrapping http.Transport speaks HTTP/1 over the
// returned connection.
func newImpersonatingTransport() *http.Transport {
	return &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		ForceAttemptHTTP2: false,
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, _, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, fmt.Errorf("split addr %s: %w", addr, err)
			}

			dialer := &net.Dialer{Timeout: 15 * time.Second}
			raw, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, fmt.Errorf("dial %s: %w", addr, err)
			}

			spec, err := utls.UTLSIdToSpec(utls.HelloChrome_120)
			if err != nil {
				_ = raw.Close()
				return nil, fmt.Errorf("build hello spec: %w", err)
			}
			for _, ext := range spec.Extensions {
				if alpn, ok := ext.(*utls.ALPNExtension); ok {
					alpn.AlpnProtocols = []string{"http/1.1"}
				}
			}

			conn := utls.UClient(raw, &utls.Config{ServerName: host}, utls.HelloCustom)
			if err := conn.ApplyPreset(&spec); err != nil {
				_ = raw.Close()
				return nil, fmt.Errorf("apply hello preset: %w", err)
			}
			if err := conn.HandshakeContext(ctx); err != nil {
				_ = raw.Close()
				return nil, fmt.Errorf("tls handshake %s: %w", host, err)
			}
			return conn, nil
		},
	}
}
