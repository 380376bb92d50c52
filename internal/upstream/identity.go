package upstream

import (
	"context"
	"net/http"

	"github.com/chatrelay/chatrelay/internal/relay"
)

// IdentityClient verifies a client's bearer credential against the identity
// service. The token is opaque to this process; the identity service owns
// the trust decision.
type IdentityClient struct {
	httpClient     *http.Client
	url            string
	endpointSecret string
}

func NewIdentityClient(
	httpClient *http.Client,
	baseUrl string,
	endpointSecret string,
) *IdentityClient {
	return &IdentityClient{
		httpClient:     httpClient,
		url:            baseUrl + "/websocket/isValidUser",
		endpointSecret: endpointSecret,
	}
}

type validateRequest struct {
	Token          string `json:"token"`
	EndpointSecret string `json:"endpoint_secret"`
	UserId         int64  `json:"user_id"`
}

// Validate reports whether token belongs to the claimed user. An error means
// the check could not be completed; callers must fail closed.
func (c *IdentityClient) Validate(ctx context.Context, token string, userId relay.UserID) (bool, error) {
	var valid bool

	err := postJSON(ctx, c.httpClient, c.url, validateRequest{
		Token:          token,
		EndpointSecret: c.endpointSecret,
		UserId:         int64(userId),
	}, &valid)
	if err != nil {
		return false, err
	}

	return valid, nil
}
