package drive

// PermissionIndex maps an item id to the set of its raw permission ids.
// It is built once per batch so that inheritance resolution is a set difference per item
// rather than a walk up the tree.
type PermissionIndex map[string]map[string]struct{}

// NewPermissionIndex indexes every entry of every given batch. Later entries for the same
// item id replace earlier ones.
func NewPermissionIndex(batches ...[]ItemPermissions) PermissionIndex {
	size := 0
	for _, b := range batches {
		size += len(b)
	}

	index := make(PermissionIndex, size)
	for _, batch := range batches {
		for _, entry := range batch {
			ids := make(map[string]struct{}, len(entry.Permissions))
			for _, p := range entry.Permissions {
				ids[p.ID] = struct{}{}
			}
			index[entry.Item.ID] = ids
		}
	}
	return index
}

// Lookup returns the permission id set for itemID and whether it is known.
func (x PermissionIndex) Lookup(itemID string) (map[string]struct{}, bool) {
	if itemID == "" {
		return nil, false
	}
	ids, ok := x[itemID]
	return ids, ok
}

// ResolvedItem is an item with its non-inherited permissions.
type ResolvedItem struct {
	Item      Item
	Effective EffectivePermissionSet
}

// Resolution is the classification of one resolver pass. Every input item appears in
// exactly one of the two lists.
type Resolution struct {
	ToUpdate []ResolvedItem
	ToDelete []string
}

// Resolve computes the effective permissions of every item in batch.
//
// The parent permission sets are looked up in batch and in lookup; lookup holds parents
// that were fetched only to compute inheritance and are not classified themselves. When a
// parent is in neither, all of the item's raw permissions are effective. An item whose
// effective set is empty is routed to ToDelete.
func Resolve(batch []ItemPermissions, lookup []ItemPermissions) Resolution {
	index := NewPermissionIndex(lookup, batch)

	res := Resolution{
		ToUpdate: make([]ResolvedItem, 0, len(batch)),
		ToDelete: make([]string, 0),
	}

	for _, entry := range batch {
		effective := EffectivePermissions(entry, index)
		if len(effective.Permissions) == 0 {
			res.ToDelete = append(res.ToDelete, entry.Item.ID)
			continue
		}
		res.ToUpdate = append(res.ToUpdate, ResolvedItem{Item: entry.Item, Effective: effective})
	}

	return res
}

// EffectivePermissions subtracts the parent's permission ids from the entry's raw permissions.
// Identity is by permission id only.
func EffectivePermissions(entry ItemPermissions, index PermissionIndex) EffectivePermissionSet {
	parentIDs, known := index.Lookup(entry.Item.ParentID)

	effective := make([]RawPermission, 0, len(entry.Permissions))
	for _, p := range entry.Permissions {
		if known {
			if _, inherited := parentIDs[p.ID]; inherited {
				continue
			}
		}
		effective = append(effective, p)
	}

	return EffectivePermissionSet{ItemID: entry.Item.ID, Permissions: effective}
}
