package google

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Endpoints overrides the Google API base URLs. Empty fields use Google's.
type Endpoints struct {
	Drive  string
	Sheets string
}

// ServiceFactory builds Drive and Sheets services authorized with a
// caller-supplied access token.
type ServiceFactory struct {
	base      http.RoundTripper
	endpoints Endpoints
}

// NewServiceFactory creates a ServiceFactory. base carries the outbound
// requests; nil uses http.DefaultTransport.
func NewServiceFactory(base http.RoundTripper, endpoints Endpoints) *ServiceFactory {
	if base == nil {
		base = http.DefaultTransport
	}
	return &ServiceFactory{base: base, endpoints: endpoints}
}

func (f *ServiceFactory) httpClient(token string) *http.Client {
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   f.base,
		},
	}
}

func (f *ServiceFactory) options(token, endpoint string) []option.ClientOption {
	opts := []option.ClientOption{option.WithHTTPClient(f.httpClient(token))}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	return opts
}

// Drive returns a Drive service for token.
func (f *ServiceFactory) Drive(ctx context.Context, token string) (*drive.Service, error) {
	svc, err := drive.NewService(ctx, f.options(token, f.endpoints.Drive)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}
	return svc, nil
}

// Sheets returns a Sheets service for token.
func (f *ServiceFactory) Sheets(ctx context.Context, token string) (*sheets.Service, error) {
	svc, err := sheets.NewService(ctx, f.options(token, f.endpoints.Sheets)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return svc, nil
}
