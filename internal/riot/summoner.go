package riot

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Summoner represents a summoner from the Summoner-V4 API
type Summoner struct {
	ID            string `json:"id"` // Encrypted summoner ID, stable per platform
	AccountID     string `json:"accountId"`
	PUUID         string `json:"puuid"`
	Name          string `json:"name"`
	SummonerLevel int64  `json:"summonerLevel"`
}

// GetSummonerByName retrieves a summoner by name on a region
func (c *Client) GetSummonerByName(ctx context.Context, region, name string) (*Summoner, error) {
	endpoint, err := c.endpoint(region, "/lol/summoner/v4/summoners/by-name/"+url.PathEscape(strings.TrimSpace(name)))
	if err != nil {
		return nil, err
	}

	var summoner Summoner
	if err := c.get(ctx, endpoint, &summoner); err != nil {
		return nil, fmt.Errorf("failed to get summoner by name: %w", err)
	}

	summoner.Name = strings.TrimSpace(summoner.Name)
	return &summoner, nil
}

// GetSummonerByID retrieves a summoner by encrypted summoner ID
func (c *Client) GetSummonerByID(ctx context.Context, region, summonerID string) (*Summoner, error) {
	endpoint, err := c.endpoint(region, "/lol/summoner/v4/summoners/"+url.PathEscape(summonerID))
	if err != nil {
		return nil, err
	}

	var summoner Summoner
	if err := c.get(ctx, endpoint, &summoner); err != nil {
		return nil, fmt.Errorf("failed to get summoner by ID: %w", err)
	}

	summoner.Name = strings.TrimSpace(summoner.Name)
	return &summoner, nil
}

// GetThirdPartyCode reads the verification string a player set in their client
func (c *Client) GetThirdPartyCode(ctx context.Context, region, summonerID string) (string, error) {
	endpoint, err := c.endpoint(region, "/lol/platform/v4/third-party-code/by-summoner/"+url.PathEscape(summonerID))
	if err != nil {
		return "", err
	}

	var code string
	if err := c.get(ctx, endpoint, &code); err != nil {
		return "", fmt.Errorf("failed to get third-party code: %w", err)
	}

	return strings.TrimSpace(code), nil
}
