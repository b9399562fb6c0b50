package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/weatherdash/internal/settings"
	"go.uber.org/zap"
)

const eventSettingsChanged = "settings-change"

type settingsEventPayload struct {
	Settings settings.UserSettings `json:"settings"`
}

// WatchSettings follows the backend's settings stream for uid. The first
// value is the current document; the channel closes when ctx ends or the
// connection drops.
func (c *Client) WatchSettings(ctx context.Context, uid string) (<-chan settings.UserSettings, error) {
	token := c.token()
	if token == "" {
		return nil, ErrNotSignedIn
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(userPath(uid, "/stream"), nil), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("client: build stream request: %w", err)
	}
	request.Header.Set("Accept", "text/event-stream")
	request.Header.Set("Authorization", "Bearer "+token)

	// The stream outlives any request timeout configured on httpClient.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	response, err := streamClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("client: open stream: %w", err)
	}
	if response.StatusCode != http.StatusOK {
		defer response.Body.Close()
		return nil, decodeAPIError(response)
	}

	updates := make(chan settings.UserSettings)
	go func() {
		defer close(updates)
		defer response.Body.Close()

		scanner := bufio.NewScanner(response.Body)
		eventName := ""
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				eventName = ""
			case strings.HasPrefix(line, "event:"):
				eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:") && eventName == eventSettingsChanged:
				var payload settingsEventPayload
				if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &payload); err != nil {
					c.logger.Warn("skipping malformed settings event", zap.Error(err))
					continue
				}
				select {
				case updates <- payload.Settings:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			c.logger.Info("settings stream ended", zap.Error(err))
		}
	}()
	return updates, nil
}
