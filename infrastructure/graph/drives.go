package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"drivesync/domain/contracts"
)

// ListDrives enumerates the document libraries of a site.
func (c *Client) ListDrives(ctx context.Context, tenantID, siteID string) ([]contracts.DriveInfo, error) {
	next := joinURL(c.config.BaseURL, "sites/"+url.PathEscape(siteID)+"/drives")

	drives := make([]contracts.DriveInfo, 0)
	for next != "" {
		resp, err := getWithRetry[collectionResponse](ctx, c, newRequestInfo("list_drives", tenantID), next)
		if err != nil {
			return nil, fmt.Errorf("list drives of site %s: %w", siteID, err)
		}
		for _, raw := range resp.Value {
			var d driveJSON
			if err := json.Unmarshal(raw, &d); err != nil || d.ID == "" {
				c.logger.Warn("Skipping malformed drive", "site_id", siteID, "error", err)
				continue
			}
			drives = append(drives, contracts.DriveInfo{
				ID:        d.ID,
				Name:      d.Name,
				DriveType: d.DriveType,
				WebURL:    d.WebURL,
			})
		}
		next = resp.NextLink
	}

	c.logger.Graph("Listed site drives", "tenant_id", tenantID, "site_id", siteID, "count", len(drives))
	return drives, nil
}

var _ contracts.DriveLister = (*Client)(nil)
