package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/lychevd/ETL/internal/domain"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTPEndpoint is one report URL a pipeline pulls.
type HTTPEndpoint struct {
	// Name becomes the unit name and therefore the destination file name.
	Name    string
	URL     string
	Headers map[string]string
}

// OAuthConfig enables the client-credentials grant for all endpoints.
type OAuthConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// HTTPAPIConfig describes a read-only source of report bodies.
type HTTPAPIConfig struct {
	Endpoints []HTTPEndpoint
	// BearerToken is sent as-is when OAuth is not configured.
	BearerToken string
	OAuth       *OAuthConfig
	Timeout     time.Duration
}

func (c HTTPAPIConfig) Validate() error {
	if len(c.Endpoints) == 0 {
		return errors.New("at least one endpoint is required")
	}
	for i, ep := range c.Endpoints {
		if strings.TrimSpace(ep.Name) == "" {
			return fmt.Errorf("endpoint %d: name is required", i+1)
		}
		u, err := url.Parse(ep.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("endpoint %s: invalid url %q", ep.Name, ep.URL)
		}
	}
	if c.OAuth != nil {
		if strings.TrimSpace(c.OAuth.TokenURL) == "" || strings.TrimSpace(c.OAuth.ClientID) == "" {
			return errors.New("oauth requires token url and client id")
		}
	}
	return nil
}

// HTTPAPI pulls report bodies from fixed endpoints. It is read-only:
// units can be listed and read but never written or deleted.
type HTTPAPI struct {
	cfg    HTTPAPIConfig
	client *http.Client
}

func NewHTTPAPI(ctx context.Context, cfg HTTPAPIConfig) (*HTTPAPI, error) {
	if err := cfg.Validate(); err != nil {
		return nil, domain.ConfigErr(err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	client := &http.Client{Timeout: timeout}
	if cfg.OAuth != nil {
		cc := &clientcredentials.Config{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			TokenURL:     cfg.OAuth.TokenURL,
			Scopes:       cfg.OAuth.Scopes,
		}
		// Token requests reuse the timeout-bounded base client.
		client = cc.Client(context.WithValue(ctx, oauth2.HTTPClient, client))
	}
	return &HTTPAPI{cfg: cfg, client: client}, nil
}

func (h *HTTPAPI) Name() string { return "http" }

// List enumerates the configured endpoints without touching the network.
// Sizes are unknown until the body is read.
func (h *HTTPAPI) List(ctx context.Context) ([]domain.TransferUnit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	units := make([]domain.TransferUnit, 0, len(h.cfg.Endpoints))
	for _, ep := range h.cfg.Endpoints {
		units = append(units, domain.TransferUnit{Name: ep.Name, Path: ep.URL})
	}
	return units, nil
}

// OpenRead issues the GET. A 404 yields an empty body so absent report
// periods flow through as empty units instead of failing the run.
func (h *HTTPAPI) OpenRead(ctx context.Context, unit domain.TransferUnit) (io.ReadCloser, error) {
	ep, ok := h.endpoint(unit)
	if !ok {
		return nil, domain.Permanentf("unknown endpoint %s", unit.Name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.URL, nil)
	if err != nil {
		return nil, domain.PermanentErr(fmt.Errorf("build request %s: %w", ep.Name, err))
	}
	for k, v := range ep.Headers {
		req.Header.Set(k, v)
	}
	if h.cfg.OAuth == nil && h.cfg.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+h.cfg.BearerToken)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, domain.TransientErr(fmt.Errorf("get %s: %w", ep.Name, err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return &httpBody{body: resp.Body, name: ep.Name}, nil
	case resp.StatusCode == http.StatusNotFound:
		_ = resp.Body.Close()
		return io.NopCloser(strings.NewReader("")), nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		_ = resp.Body.Close()
		return nil, domain.Transientf("get %s: status %d", ep.Name, resp.StatusCode)
	default:
		_ = resp.Body.Close()
		return nil, domain.Permanentf("get %s: status %d", ep.Name, resp.StatusCode)
	}
}

func (h *HTTPAPI) OpenWrite(ctx context.Context, unit domain.TransferUnit) (io.WriteCloser, error) {
	return nil, domain.Permanentf("http backend is read-only")
}

func (h *HTTPAPI) Delete(ctx context.Context, unit domain.TransferUnit) error {
	return domain.Permanentf("http backend is read-only")
}

func (h *HTTPAPI) endpoint(unit domain.TransferUnit) (HTTPEndpoint, bool) {
	for _, ep := range h.cfg.Endpoints {
		if ep.Name == unit.Name {
			return ep, true
		}
	}
	return HTTPEndpoint{}, false
}

type httpBody struct {
	body io.ReadCloser
	name string
}

func (b *httpBody) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	if err != nil && err != io.EOF {
		err = domain.TransientErr(fmt.Errorf("read %s: %w", b.name, err))
	}
	return n, err
}

func (b *httpBody) Close() error { return b.body.Close() }
