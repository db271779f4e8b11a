package models

import (
	"time"
)

// Status represents the computed liveness of a monitored node
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// StatusOf maps a boolean activity flag onto a Status
func StatusOf(active bool) Status {
	if active {
		return StatusActive
	}
	return StatusInactive
}

// Entity is a top-level monitored unit (a site or a program)
type Entity struct {
	ID            int64        `json:"id"`
	Name          string       `json:"name"`
	Paused        bool         `json:"paused"`
	Status        Status       `json:"status"` // cached hint, recomputed every tick
	NotifyEnabled bool         `json:"notificationEnabled"`
	AlertLatched  bool         `json:"alertLatched"`
	Children      []*SubEntity `json:"children"`
}

// SubEntity is a reporting component under an Entity
type SubEntity struct {
	ID            int64      `json:"id"`
	ParentID      int64      `json:"parentId"`
	Name          string     `json:"name"`
	LastHeartbeat *time.Time `json:"lastHeartbeat,omitempty"`
	Paused        bool       `json:"paused"`
	Status        Status     `json:"status"`
	NotifyEnabled bool       `json:"notificationEnabled"`
	AlertLatched  bool       `json:"alertLatched"`
}

// HeartbeatRequest is the ingestion payload. The legacy agent sends
// program_name/api_key instead of object_name/sub_object_name.
type HeartbeatRequest struct {
	ObjectName    string `json:"object_name,omitempty"`
	SubObjectName string `json:"sub_object_name,omitempty"`
	ParentName    string `json:"parent_name,omitempty"`
	ChildName     string `json:"child_name,omitempty"`
	ProgramName   string `json:"program_name,omitempty"`
	APIKey        string `json:"api_key,omitempty"`
}

// Names resolves the parent/child pair, falling back to the legacy fields
func (r *HeartbeatRequest) Names() (parent string, child string) {
	parent, child = r.ObjectName, r.SubObjectName
	if parent == "" {
		parent = r.ParentName
	}
	if child == "" {
		child = r.ChildName
	}
	if parent == "" && child == "" && r.ProgramName != "" && r.APIKey != "" {
		return r.ProgramName, r.APIKey
	}
	return parent, child
}

// Stats summarises the children of an entity
type Stats struct {
	TotalChildren    int `json:"total_children"`
	ActiveChildren   int `json:"active_children"`
	InactiveChildren int `json:"inactive_children"`
}

// ChildView is the rendered state of a SubEntity
type ChildView struct {
	Name                string     `json:"name"`
	LastHeartbeat       *time.Time `json:"last_heartbeat"`
	Status              Status     `json:"status"`
	Paused              bool       `json:"paused"`
	NotificationEnabled bool       `json:"notification_enabled"`
}

// EntityView is the rendered state of an Entity and its children
type EntityView struct {
	Name                string      `json:"name"`
	Paused              bool        `json:"paused"`
	Status              Status      `json:"status"`
	NotificationEnabled bool        `json:"notification_enabled"`
	Stats               Stats       `json:"stats"`
	Children            []ChildView `json:"children"`
}

// NodeUpdate is the per-node result of a tick that must be persisted.
// SubEntityID is zero for parent-level updates.
type NodeUpdate struct {
	EntityID     int64
	SubEntityID  int64
	Status       Status
	AlertLatched bool
}
