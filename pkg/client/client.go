package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/orchestrator"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/types"
)

// Client talks to a running remediation daemon over its HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the daemon at baseURL, e.g.
// "http://127.0.0.1:8700".
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

// TriggerResponse is the daemon's answer to a trigger.
type TriggerResponse struct {
	Episode *types.Episode `json:"episode"`
	// Created is false when the trigger joined an already-active episode.
	Created bool `json:"created"`
}

// Trigger opens (or joins) an episode for a failing target.
func (c *Client) Trigger(ctx context.Context, req orchestrator.TriggerRequest) (*TriggerResponse, error) {
	var resp TriggerResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/triggers", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetEpisode fetches one episode by id.
func (c *Client) GetEpisode(ctx context.Context, id string) (*types.Episode, error) {
	var ep types.Episode
	if err := c.doJSON(ctx, http.MethodGet, "/v1/episodes/"+url.PathEscape(id), nil, &ep); err != nil {
		return nil, err
	}
	return &ep, nil
}

// ListEpisodes lists episodes, optionally filtered by state.
func (c *Client) ListEpisodes(ctx context.Context, state types.EpisodeState) ([]*types.Episode, error) {
	path := "/v1/episodes"
	if state != "" {
		path += "?state=" + url.QueryEscape(string(state))
	}
	var resp struct {
		Episodes []*types.Episode `json:"episodes"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Episodes, nil
}

// Approve resolves a pending approval positively.
func (c *Client) Approve(ctx context.Context, episodeID, approver string) error {
	body := map[string]string{"approver": approver}
	return c.doJSON(ctx, http.MethodPost, "/v1/episodes/"+url.PathEscape(episodeID)+"/approve", body, nil)
}

// Reject resolves a pending approval negatively.
func (c *Client) Reject(ctx context.Context, episodeID, approver string) error {
	body := map[string]string{"approver": approver}
	return c.doJSON(ctx, http.MethodPost, "/v1/episodes/"+url.PathEscape(episodeID)+"/reject", body, nil)
}

// Cancel aborts a non-terminal episode.
func (c *Client) Cancel(ctx context.Context, episodeID string) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/episodes/"+url.PathEscape(episodeID)+"/cancel", nil, nil)
}

// ListRunbooks lists stored runbooks.
func (c *Client) ListRunbooks(ctx context.Context) ([]*types.Runbook, error) {
	var resp struct {
		Runbooks []*types.Runbook `json:"runbooks"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/runbooks", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Runbooks, nil
}

// GetRunbook fetches one runbook by pattern id.
func (c *Client) GetRunbook(ctx context.Context, patternID string) (*types.Runbook, error) {
	var rb types.Runbook
	if err := c.doJSON(ctx, http.MethodGet, "/v1/runbooks/"+url.PathEscape(patternID), nil, &rb); err != nil {
		return nil, err
	}
	return &rb, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
