package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"drivesync/domain/contracts"
	"drivesync/domain/drive"
)

// FetchAllPermissions returns every raw permission of an item, following @odata.nextLink.
// A missing item has no permissions.
func (c *Client) FetchAllPermissions(ctx context.Context, scope drive.DriveScope, itemID string) ([]drive.RawPermission, error) {
	next := withQuery(
		joinURL(c.config.BaseURL, "drives/"+url.PathEscape(scope.DriveID)+"/items/"+url.PathEscape(itemID)+"/permissions"),
		url.Values{"$top": []string{strconv.Itoa(c.config.PermissionPageSize)}},
	)

	perms := make([]drive.RawPermission, 0)
	for next != "" {
		info := newRequestInfo("fetch_permissions", scope.TenantID)
		resp, err := getWithRetry[collectionResponse](ctx, c, info, next)
		if errors.Is(err, contracts.ErrNotFound) {
			return []drive.RawPermission{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("fetch permissions of %s: %w", itemID, err)
		}

		for _, raw := range resp.Value {
			perm, err := c.decodePermission(raw)
			if err != nil {
				c.logger.Warn("Skipping malformed permission", "item_id", itemID, "error", err)
				continue
			}
			perms = append(perms, perm)
		}
		next = resp.NextLink
	}
	return perms, nil
}

func (c *Client) decodePermission(raw json.RawMessage) (drive.RawPermission, error) {
	if err := c.validator.ValidatePermission(raw); err != nil {
		return drive.RawPermission{}, err
	}
	var perm permissionJSON
	if err := json.Unmarshal(raw, &perm); err != nil {
		return drive.RawPermission{}, fmt.Errorf("%w: %v", contracts.ErrMalformedRecord, err)
	}
	return mapPermission(perm)
}

var _ contracts.PermissionFetcher = (*Client)(nil)
