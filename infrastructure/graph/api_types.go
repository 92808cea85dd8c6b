package graph

import "time"

// Wire shapes of the Graph resources the engine reads. Only consumed fields are declared.

type identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

type identitySet struct {
	User     *identity `json:"user"`
	SiteUser *struct {
		identity
		LoginName string `json:"loginName"`
	} `json:"siteUser"`
	Group *identity `json:"group"`
}

type driveItemJSON struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	WebURL               string     `json:"webUrl"`
	LastModifiedDateTime *time.Time `json:"lastModifiedDateTime"`
	ParentReference      *struct {
		ID      string `json:"id"`
		DriveID string `json:"driveId"`
	} `json:"parentReference"`
	Folder *struct {
		ChildCount int `json:"childCount"`
	} `json:"folder"`
	File *struct {
		Hashes *struct {
			QuickXorHash string `json:"quickXorHash"`
			SHA1Hash     string `json:"sha1Hash"`
			SHA256Hash   string `json:"sha256Hash"`
		} `json:"hashes"`
	} `json:"file"`
	Root    *struct{} `json:"root"`
	Deleted *struct {
		State string `json:"state"`
	} `json:"deleted"`
	Shared *struct {
		Owner *identitySet `json:"owner"`
		Scope string       `json:"scope"`
	} `json:"shared"`
	CreatedBy *identitySet `json:"createdBy"`
}

type permissionJSON struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles"`
	Link  *struct {
		Scope  string `json:"scope"`
		Type   string `json:"type"`
		WebURL string `json:"webUrl"`
	} `json:"link"`
	GrantedToV2           *identitySet  `json:"grantedToV2"`
	GrantedToIdentitiesV2 []identitySet `json:"grantedToIdentitiesV2"`
	Invitation            *struct {
		Email string `json:"email"`
	} `json:"invitation"`
}

type driveJSON struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	DriveType string `json:"driveType"`
	WebURL    string `json:"webUrl"`
}
