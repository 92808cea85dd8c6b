package drive

import "time"

// SecurityObject is the normalized record sent to the downstream security index.
// Upserts are keyed by ID, so republishing the same object is harmless.
type SecurityObject struct {
	ID             string                 `json:"id"`
	TenantID       string                 `json:"tenantId"`
	SiteID         string                 `json:"siteId"`
	DriveID        string                 `json:"driveId"`
	Name           string                 `json:"name"`
	URL            string                 `json:"url"`
	OwnerUserID    string                 `json:"ownerUserId,omitempty"`
	ParentID       string                 `json:"parentId,omitempty"`
	LastModifiedAt time.Time              `json:"lastModifiedAt"`
	IsContainer    bool                   `json:"isContainer"`
	ContentHash    string                 `json:"contentHash,omitempty"`
	Permissions    []NormalizedPermission `json:"permissions"`
	SyncedAt       time.Time              `json:"syncedAt"`
}

// ObjectPolicy controls which resolved items become security objects.
type ObjectPolicy struct {
	// EmitOwnerless emits items that have no owner user id. When false they are dropped.
	EmitOwnerless bool
	// DeleteDropped also removes dropped items from the index. Delta passes need it because
	// no sweep follows them.
	DeleteDropped bool
}

// ObjectOutcome tells the caller what to do with a resolved item.
type ObjectOutcome int

const (
	// OutcomeUpsert means the object should be sent to the sink.
	OutcomeUpsert ObjectOutcome = iota
	// OutcomeDelete means the item normalized to nothing and must be removed from the index.
	OutcomeDelete
	// OutcomeDropped means the item is ignored by policy.
	OutcomeDropped
)

// BuildSecurityObject normalizes a resolved item and applies the object policy.
// An item with no normalized permissions is equivalent to a fully inherited item and
// yields OutcomeDelete.
func BuildSecurityObject(scope DriveScope, resolved ResolvedItem, syncedAt time.Time, policy ObjectPolicy) (SecurityObject, ObjectOutcome) {
	perms := Normalize(resolved.Effective)
	if len(perms) == 0 {
		return SecurityObject{}, OutcomeDelete
	}

	item := resolved.Item
	if item.OwnerUserID == "" && !policy.EmitOwnerless {
		return SecurityObject{}, OutcomeDropped
	}

	return SecurityObject{
		ID:             item.ID,
		TenantID:       scope.TenantID,
		SiteID:         scope.SiteID,
		DriveID:        scope.DriveID,
		Name:           item.Name,
		URL:            item.URL,
		OwnerUserID:    item.OwnerUserID,
		ParentID:       item.ParentID,
		LastModifiedAt: item.LastModifiedAt,
		IsContainer:    item.IsContainer,
		ContentHash:    item.ContentHash,
		Permissions:    perms,
		SyncedAt:       syncedAt,
	}, OutcomeUpsert
}

// PublishPlan groups the sink operations derived from one page.
type PublishPlan struct {
	Upserts []SecurityObject
	Deletes []string
	Dropped []string
}

// PlanPublish turns a resolution plus the feed's deleted ids into sink operations.
// Delete ids are de-duplicated and keep first-seen order.
func PlanPublish(scope DriveScope, res Resolution, deletedIDs []string, syncedAt time.Time, policy ObjectPolicy) PublishPlan {
	plan := PublishPlan{
		Upserts: make([]SecurityObject, 0, len(res.ToUpdate)),
	}

	deletes := make([]string, 0, len(deletedIDs)+len(res.ToDelete))
	deletes = append(deletes, deletedIDs...)
	deletes = append(deletes, res.ToDelete...)

	for _, resolved := range res.ToUpdate {
		obj, outcome := BuildSecurityObject(scope, resolved, syncedAt, policy)
		switch outcome {
		case OutcomeUpsert:
			plan.Upserts = append(plan.Upserts, obj)
		case OutcomeDelete:
			deletes = append(deletes, resolved.Item.ID)
		case OutcomeDropped:
			plan.Dropped = append(plan.Dropped, resolved.Item.ID)
			if policy.DeleteDropped {
				deletes = append(deletes, resolved.Item.ID)
			}
		}
	}

	plan.Deletes = dedupe(deletes)
	return plan
}

// IsEmpty reports whether the plan has nothing to publish.
func (p PublishPlan) IsEmpty() bool {
	return len(p.Upserts) == 0 && len(p.Deletes) == 0
}
