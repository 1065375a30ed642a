// Package transport performs outbound HTTP calls to peer gateways:
// connectivity probes, JSON get/post, SSE line streaming, and signed
// message delivery. Each concern gets its own *http.Client with an
// explicit timeout, the way pkg/health's checkers do.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNetworkRequestFailed wraps a non-2xx outbound response.
var ErrNetworkRequestFailed = errors.New("transport: network request failed")

// ErrSSRFBlocked is returned when check_connectivity resolves to a
// loopback, private, reserved, or link-local address.
var ErrSSRFBlocked = errors.New("transport: target address is not publicly routable")

// Signer produces the base64 RSA-PSS signature that PostMessage places
// in the frame's "signature" field. Implemented by pkg/kms.KMS via
// kms.SignerAdapter.
type Signer interface {
	Sign(keyID string, payload []byte) (string, error)
}

// Transport is the outbound HTTP driver.
type Transport struct {
	probeClient  *http.Client
	jsonClient   *http.Client
	streamClient *http.Client
}

// New builds a Transport with the timeouts from spec section 5 (2s probe,
// no fixed timeout on the long-lived stream client beyond context).
func New(probeTimeout time.Duration) *Transport {
	return &Transport{
		probeClient: &http.Client{
			Timeout: probeTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		jsonClient:   &http.Client{Timeout: 10 * time.Second},
		streamClient: &http.Client{},
	}
}

func isDisallowedIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}

// guardAddr resolves host and rejects loopback/private/reserved/
// link-local targets, preventing server-side request forgery against
// internal infrastructure.
func guardAddr(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	host := u.Hostname()
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return fmt.Errorf("transport: resolve %s: %w", host, err)
	}
	for _, ip := range ips {
		if isDisallowedIP(ip) {
			return fmt.Errorf("%w: %s", ErrSSRFBlocked, ip)
		}
	}
	return nil
}

// CheckConnectivity resolves url's host, refuses SSRF-unsafe addresses,
// issues a bounded GET, and reports success iff the response is HTTP 200.
func (t *Transport) CheckConnectivity(ctx context.Context, url string) (bool, error) {
	if err := guardAddr(ctx, url); err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("transport: %w", err)
	}
	resp, err := t.probeClient.Do(req)
	if err != nil {
		return false, nil
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

// Get issues a JSON GET and decodes the response body into out.
func (t *Transport) Get(ctx context.Context, url string, headers map[string]string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return t.doJSON(req, out)
}

// Post issues a JSON POST of payload and decodes the response body into out.
func (t *Transport) Post(ctx context.Context, url string, payload interface{}, headers map[string]string, out interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return t.doJSON(req, out)
}

func (t *Transport) doJSON(req *http.Request, out interface{}) error {
	resp, err := t.jsonClient.Do(req)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrNetworkRequestFailed, resp.StatusCode)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Stream opens a POST stream and returns a channel that yields each
// "data:"-prefixed line with the prefix stripped, closing when the
// response body ends or ctx is cancelled.
func (t *Transport) Stream(ctx context.Context, url string, payload interface{}, headers map[string]string) (<-chan string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := t.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrNetworkRequestFailed, resp.StatusCode)
	}

	out := make(chan string)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			select {
			case out <- strings.TrimPrefix(line, "data:"):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// PostMessage POSTs envelope as a signed {message, signature} frame to
// url — the same wire shape the websocket and SSE-inbound receive paths
// use — and returns the raw response body, so a caller doing a
// synchronous request/response exchange gets the reply without a second
// round trip.
func (t *Transport) PostMessage(ctx context.Context, envelope interface{}, url, keyID string, signer Signer) ([]byte, error) {
	raw, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	sig, err := signer.Sign(keyID, raw)
	if err != nil {
		return nil, fmt.Errorf("transport: sign: %w", err)
	}
	frame, err := json.Marshal(map[string]interface{}{"message": json.RawMessage(raw), "signature": sig})
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.jsonClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrNetworkRequestFailed, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
