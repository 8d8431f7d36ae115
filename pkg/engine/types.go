package engine

import (
	"fmt"
	"strings"
)

// Package is one transfer unit of a work order.
type Package struct {
	// ContentSize is the expected size of the content in bytes.
	ContentSize int64 `json:"content_size"`

	// SourceURI is where the content is fetched from.
	SourceURI string `json:"source_uri"`

	// LocalPath is the content object path on the storage backend.
	LocalPath string `json:"local_path"`

	// BytesTransferred is the number of bytes already transferred.
	BytesTransferred int64 `json:"bytes_transferred"`

	// MimeType is the content type of the package.
	MimeType string `json:"mime_type,omitempty"`
}

// Remaining returns the bytes still to transfer.
func (p Package) Remaining() int64 {
	if p.ContentSize <= p.BytesTransferred {
		return 0
	}
	return p.ContentSize - p.BytesTransferred
}

// Capability is an operation a caller may perform on a work order.
type Capability string

const (
	// CapabilityRead allows observing a work order.
	CapabilityRead Capability = "read"

	// CapabilityModify allows changing a work order, including order actions.
	CapabilityModify Capability = "modify"

	// CapabilityDelete allows removing a work order.
	CapabilityDelete Capability = "delete"
)

// Validate checks if the capability is valid.
func (c Capability) Validate() error {
	switch c {
	case CapabilityRead, CapabilityModify, CapabilityDelete:
		return nil
	default:
		return fmt.Errorf("invalid capability: %s", c)
	}
}

// PermissionSet is a permission level for one audience.
type PermissionSet struct {
	Read   bool `json:"read"`
	Modify bool `json:"modify"`
	Delete bool `json:"delete"`
}

// Allows reports whether the set grants c.
func (p PermissionSet) Allows(c Capability) bool {
	switch c {
	case CapabilityRead:
		return p.Read
	case CapabilityModify:
		return p.Modify
	case CapabilityDelete:
		return p.Delete
	default:
		return false
	}
}

// String renders the set in rmd notation, '-' for each missing capability.
func (p PermissionSet) String() string {
	b := []byte("---")
	if p.Read {
		b[0] = 'r'
	}
	if p.Modify {
		b[1] = 'm'
	}
	if p.Delete {
		b[2] = 'd'
	}
	return string(b)
}

// ParsePermissionSet parses rmd notation as produced by PermissionSet.String.
func ParsePermissionSet(s string) (PermissionSet, error) {
	if len(s) != 3 {
		return PermissionSet{}, fmt.Errorf("invalid permission set %q", s)
	}
	var p PermissionSet
	for i, want := range []byte("rmd") {
		switch s[i] {
		case want:
			switch i {
			case 0:
				p.Read = true
			case 1:
				p.Modify = true
			case 2:
				p.Delete = true
			}
		case '-':
		default:
			return PermissionSet{}, fmt.Errorf("invalid permission set %q", s)
		}
	}
	return p, nil
}

// AccessControl holds the permission levels of a work order.
// A nil set means no rule for that audience.
type AccessControl struct {
	User         *PermissionSet `json:"user,omitempty"`
	Group        *PermissionSet `json:"group,omitempty"`
	World        *PermissionSet `json:"world,omitempty"`
	GroupMembers []string       `json:"group_members,omitempty"`
}

// IsMember reports whether origin is in the group member list.
func (a AccessControl) IsMember(origin string) bool {
	for _, m := range a.GroupMembers {
		if m == origin {
			return true
		}
	}
	return false
}

func (a AccessControl) clone() AccessControl {
	out := AccessControl{GroupMembers: append([]string(nil), a.GroupMembers...)}
	if a.User != nil {
		u := *a.User
		out.User = &u
	}
	if a.Group != nil {
		g := *a.Group
		out.Group = &g
	}
	if a.World != nil {
		w := *a.World
		out.World = &w
	}
	return out
}

// Allows evaluates the access rules for origin. owner is the recorded client uid.
//
// The owner is granted unless a user level is set and excludes c. Otherwise the
// world level, then the group level for group members, are consulted in order.
func (a AccessControl) Allows(owner, origin string, c Capability) bool {
	if origin != "" && origin == owner {
		if a.User == nil || a.User.Allows(c) {
			return true
		}
	}
	if a.World != nil && a.World.Allows(c) {
		return true
	}
	if a.Group != nil && a.IsMember(origin) && a.Group.Allows(c) {
		return true
	}
	return false
}

// splitMembers reads the legacy comma separated member list.
func splitMembers(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
