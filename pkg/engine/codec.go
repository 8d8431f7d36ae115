package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DocumentVersion is the current serialized form version.
const DocumentVersion = 1

// Property tags of the serialized form.
const (
	TagIndex              = "index"
	TagCreated            = "created"
	TagModified           = "modified"
	TagExpiration         = "expiration"
	TagPriorityTime       = "priority_time"
	TagRelativePriority   = "relative_priority"
	TagAttempt            = "attempt"
	TagUrgent             = "urgent"
	TagMandatory          = "mandatory"
	TagUID                = "uid"
	TagNotificationTarget = "notification_target"
	TagStorageID          = "storage_id"
	TagDownloadRate       = "download_rate"
	TagProgress           = "progress"
	TagPackagesIndex      = "packages_index"
	TagExecutionState     = "execution_state"
	TagOrderAction        = "order_action"
	TagPolicy             = "policy"
	TagACLUser            = "acl.user"
	TagACLGroup           = "acl.group"
	TagACLWorld           = "acl.world"
	TagACLMember          = "acl.member"

	// TagACLMembers is the comma separated member list of older documents.
	// It is read but no longer written.
	TagACLMembers = "acl.members"

	// LabelTagPrefix prefixes caller-defined properties.
	LabelTagPrefix = "label."
)

// Property is one tagged element of the serialized form.
type Property struct {
	Tag   string `json:"tag"`
	Value string `json:"value"`
}

// Document is the persisted form of a work order.
type Document struct {
	Version    int        `json:"version"`
	Properties []Property `json:"properties"`
	Packages   []Package  `json:"packages"`
}

// Document builds the serialized form.
func (w *WorkOrder) Document() *Document {
	w.mu.Lock()
	defer w.mu.Unlock()

	doc := &Document{
		Version:  DocumentVersion,
		Packages: append([]Package{}, w.packages...),
	}
	add := func(tag, value string) {
		doc.Properties = append(doc.Properties, Property{Tag: tag, Value: value})
	}

	add(TagIndex, strconv.FormatInt(w.dbIndex, 10))
	add(TagCreated, formatTime(w.created))
	add(TagModified, formatTime(w.modified))
	if !w.expiration.IsZero() {
		add(TagExpiration, formatTime(w.expiration))
	}
	if !w.priorityTime.IsZero() {
		add(TagPriorityTime, formatTime(w.priorityTime))
	}
	add(TagRelativePriority, strconv.Itoa(w.relativePriority))
	add(TagAttempt, strconv.Itoa(w.attempt))
	add(TagUrgent, strconv.FormatBool(w.urgent))
	add(TagMandatory, strconv.FormatBool(w.mandatory))
	if w.uid != "" {
		add(TagUID, w.uid)
	}
	if w.notificationTarget != "" {
		add(TagNotificationTarget, w.notificationTarget)
	}
	if w.storageID != "" {
		add(TagStorageID, w.storageID)
	}
	add(TagDownloadRate, strconv.FormatInt(w.downloadRate, 10))
	add(TagProgress, strconv.Itoa(w.progressPercent))
	add(TagPackagesIndex, strconv.Itoa(w.packagesIndex))
	add(TagExecutionState, string(w.state))
	add(TagOrderAction, string(w.action))
	if w.policyText != "" {
		add(TagPolicy, w.policyText)
	}
	if w.access.User != nil {
		add(TagACLUser, w.access.User.String())
	}
	if w.access.Group != nil {
		add(TagACLGroup, w.access.Group.String())
	}
	if w.access.World != nil {
		add(TagACLWorld, w.access.World.String())
	}
	for _, m := range w.access.GroupMembers {
		add(TagACLMember, m)
	}
	for _, k := range w.labelKeysLocked() {
		add(LabelTagPrefix+k, w.labels[k])
	}

	return doc
}

// MarshalJSON encodes the serialized form.
func (w *WorkOrder) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.Document())
}

// DecodeWorkOrder parses a serialized document. Only a malformed document
// envelope is an error; each unparseable property is logged and replaced by its
// default.
func DecodeWorkOrder(data []byte, logger zerolog.Logger) (*WorkOrder, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, NewError(KindInvalidProperty, "malformed work order document", err).
			WithOperation("decode")
	}
	return FromDocument(&doc, logger), nil
}

// FromDocument builds a work order from its serialized form.
func FromDocument(doc *Document, logger zerolog.Logger) *WorkOrder {
	w := NewWorkOrder(doc.Packages...)
	w.SetLogger(logger)

	d := decoder{logger: w.logger}
	w.mu.Lock()
	defer w.mu.Unlock()

	seenState := false
	seenAction := false
	for _, prop := range doc.Properties {
		switch prop.Tag {
		case TagIndex:
			w.dbIndex = d.int64(prop, -1)
		case TagCreated:
			w.created = d.time(prop, w.created)
		case TagModified:
			w.modified = d.time(prop, w.modified)
		case TagExpiration:
			w.expiration = d.time(prop, time.Time{})
		case TagPriorityTime:
			w.priorityTime = d.time(prop, time.Time{})
		case TagRelativePriority:
			p := d.int(prop, 0)
			if p < MinRelativePriority || p > MaxRelativePriority {
				d.fallback(prop, "0", nil)
				p = 0
			}
			w.relativePriority = p
		case TagAttempt:
			w.attempt = d.int(prop, 0)
		case TagUrgent:
			w.urgent = d.bool(prop)
		case TagMandatory:
			w.mandatory = d.bool(prop)
		case TagUID:
			w.uid = prop.Value
		case TagNotificationTarget:
			w.notificationTarget = prop.Value
		case TagStorageID:
			w.storageID = prop.Value
		case TagDownloadRate:
			w.downloadRate = d.int64(prop, 0)
		case TagProgress:
			w.progressPercent = clampPercent(d.int(prop, 0))
		case TagPackagesIndex:
			idx := d.int(prop, -1)
			if idx < -1 || idx >= len(w.packages) {
				d.fallback(prop, "-1", nil)
				idx = -1
			}
			w.packagesIndex = idx
		case TagExecutionState:
			// Validated and corrected on first read.
			w.state = ExecutionState(strings.ToLower(strings.TrimSpace(prop.Value)))
			seenState = true
		case TagOrderAction:
			w.action = OrderAction(strings.ToLower(strings.TrimSpace(prop.Value)))
			seenAction = true
		case TagPolicy:
			w.policyText = prop.Value
		case TagACLUser:
			w.access.User = d.permissions(prop)
		case TagACLGroup:
			w.access.Group = d.permissions(prop)
		case TagACLWorld:
			w.access.World = d.permissions(prop)
		case TagACLMember:
			if prop.Value != "" {
				w.access.GroupMembers = append(w.access.GroupMembers, prop.Value)
			}
		case TagACLMembers:
			w.access.GroupMembers = append(w.access.GroupMembers, splitMembers(prop.Value)...)
		default:
			if key, ok := strings.CutPrefix(prop.Tag, LabelTagPrefix); ok && key != "" {
				w.labels[key] = prop.Value
				continue
			}
			d.logger.Warn().Str("tag", prop.Tag).Msg("Ignoring unknown work order property")
		}
	}
	if !seenState {
		w.state = StateUndefined
	}
	if !seenAction {
		w.action = ActionPending
	}

	w.recalculateLocked()
	return w
}

// decoder applies default-on-failure parsing per property.
type decoder struct {
	logger zerolog.Logger
}

func (d decoder) fallback(prop Property, def string, err error) {
	e := d.logger.Warn().
		Str("tag", prop.Tag).
		Str("value", prop.Value).
		Str("default", def)
	if err != nil {
		e = e.Err(err)
	}
	e.Msg("Invalid work order property, using default")
}

func (d decoder) int(prop Property, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(prop.Value))
	if err != nil {
		d.fallback(prop, strconv.Itoa(def), err)
		return def
	}
	return v
}

func (d decoder) int64(prop Property, def int64) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(prop.Value), 10, 64)
	if err != nil {
		d.fallback(prop, strconv.FormatInt(def, 10), err)
		return def
	}
	return v
}

func (d decoder) bool(prop Property) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(prop.Value))
	if err != nil {
		d.fallback(prop, "false", err)
		return false
	}
	return v
}

func (d decoder) time(prop Property, def time.Time) time.Time {
	v, err := parseTime(prop.Value)
	if err != nil {
		d.fallback(prop, formatTime(def), err)
		return def
	}
	return v
}

func (d decoder) permissions(prop Property) *PermissionSet {
	p, err := ParsePermissionSet(prop.Value)
	if err != nil {
		d.fallback(prop, "none", err)
		return nil
	}
	return &p
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	// Epoch milliseconds are accepted for older documents.
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q", s)
	}
	return time.UnixMilli(ms).UTC(), nil
}
