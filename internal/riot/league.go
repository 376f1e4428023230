package riot

import (
	"context"
	"fmt"
	"net/url"
)

// Ranked queue identifiers as reported by League-V4
const (
	QueueRankedSolo = "RANKED_SOLO_5x5"
	QueueRankedFlex = "RANKED_FLEX_SR"
	QueueRankedTFT  = "RANKED_TFT"
)

// LeagueEntry is a summoner's standing in one ranked queue
type LeagueEntry struct {
	LeagueID     string `json:"leagueId"`
	QueueType    string `json:"queueType"`
	Tier         string `json:"tier"` // e.g. "DIAMOND"
	Rank         string `json:"rank"` // Division, e.g. "II"
	LeaguePoints int    `json:"leaguePoints"`
	Wins         int    `json:"wins"`
	Losses       int    `json:"losses"`
}

// GetLeagueEntries retrieves all ranked standings of a summoner
func (c *Client) GetLeagueEntries(ctx context.Context, region, summonerID string) ([]LeagueEntry, error) {
	endpoint, err := c.endpoint(region, "/lol/league/v4/entries/by-summoner/"+url.PathEscape(summonerID))
	if err != nil {
		return nil, err
	}

	var entries []LeagueEntry
	if err := c.get(ctx, endpoint, &entries); err != nil {
		return nil, fmt.Errorf("failed to get league entries: %w", err)
	}

	return entries, nil
}
