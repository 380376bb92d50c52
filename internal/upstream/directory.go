package upstream

import (
	"context"
	"net/http"

	"github.com/chatrelay/chatrelay/internal/relay"
)

// DirectoryClient fetches the set of channels a user is a member of from the
// channel directory service. Membership mutation lives entirely upstream.
type DirectoryClient struct {
	httpClient     *http.Client
	url            string
	endpointSecret string
}

func NewDirectoryClient(
	httpClient *http.Client,
	baseUrl string,
	endpointSecret string,
) *DirectoryClient {
	return &DirectoryClient{
		httpClient:     httpClient,
		url:            baseUrl + "/websocket/channels",
		endpointSecret: endpointSecret,
	}
}

type channelsRequest struct {
	EndpointSecret string `json:"endpoint_secret"`
	UserId         int64  `json:"user_id"`
}

type channelsResponse struct {
	Id []int64 `json:"id"`
}

func (c *DirectoryClient) Channels(ctx context.Context, userId relay.UserID) ([]relay.ChannelID, error) {
	var response channelsResponse

	err := postJSON(ctx, c.httpClient, c.url, channelsRequest{
		EndpointSecret: c.endpointSecret,
		UserId:         int64(userId),
	}, &response)
	if err != nil {
		return nil, err
	}

	channelIds := make([]relay.ChannelID, len(response.Id))
	for i, id := range response.Id {
		channelIds[i] = relay.ChannelID(id)
	}

	return channelIds, nil
}
