// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package client

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/creachadair/relay/agent"
	"github.com/goccy/go-json"
)

// ToolLabels are the label names accepted by SetLabel.
var ToolLabels = []string{"Red", "Yellow", "Green", "Blue", "Purple", "None"}

// GetStudioInfo reports the active catalog of the peer.
func (c *Client) GetStudioInfo(ctx context.Context) (agent.StudioInfo, error) {
	var info agent.StudioInfo
	err := c.callInto(ctx, agent.MethodStudioInfo, nil, &info)
	return info, err
}

// GetSelection reports the photos currently selected on the peer.
func (c *Client) GetSelection(ctx context.Context) (agent.Selection, error) {
	var sel agent.Selection
	err := c.callInto(ctx, agent.MethodSelection, nil, &sel)
	return sel, err
}

// SetRating sets the star rating, 0 to 5, of the selected photos.
func (c *Client) SetRating(ctx context.Context, rating int) (agent.UpdateResult, error) {
	if rating < 0 || rating > 5 {
		return agent.UpdateResult{}, fmt.Errorf("rating %d is not between 0 and 5", rating)
	}
	return c.setMetadata(ctx, agent.MetadataUpdate{Rating: &rating})
}

// SetLabel sets the color label of the selected photos. The label must be one
// of ToolLabels; "None" clears the label.
func (c *Client) SetLabel(ctx context.Context, label string) (agent.UpdateResult, error) {
	if !slices.Contains(ToolLabels, label) {
		return agent.UpdateResult{}, fmt.Errorf("label must be one of %s", strings.Join(ToolLabels, ", "))
	}
	lc := strings.ToLower(label)
	return c.setMetadata(ctx, agent.MetadataUpdate{Label: &lc})
}

// SetCaption sets the caption of the selected photos.
func (c *Client) SetCaption(ctx context.Context, caption string) (agent.UpdateResult, error) {
	return c.setMetadata(ctx, agent.MetadataUpdate{Caption: &caption})
}

func (c *Client) setMetadata(ctx context.Context, m agent.MetadataUpdate) (agent.UpdateResult, error) {
	var res agent.UpdateResult
	err := c.callInto(ctx, agent.MethodSetMetadata, m, &res)
	return res, err
}

func (c *Client) callInto(ctx context.Context, method string, params, result any) error {
	data, err := c.Call(ctx, method, params, 0)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}
