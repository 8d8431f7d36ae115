package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/workorders/pkg/policy"
)

// Limits of caller-assigned attributes.
const (
	MinRelativePriority = 0
	MaxRelativePriority = 100
)

// WorkOrder is a policy-gated unit of content transfer.
//
// All accessors are safe for concurrent use. A WithNotify mutation and the
// priority recomputation it triggers are observed as one unit.
type WorkOrder struct {
	mu sync.Mutex

	dbIndex       int64
	packages      []Package
	packagesIndex int

	created      time.Time
	modified     time.Time
	expiration   time.Time
	priorityTime time.Time

	relativePriority int
	attempt          int
	urgent           bool
	mandatory        bool

	uid                string
	notificationTarget string
	storageID          string
	downloadRate       int64
	progressPercent    int

	state  ExecutionState
	action OrderAction

	access AccessControl
	labels map[string]string

	policyText string
	policy     *policy.Policy
	policyErr  error
	parsed     bool

	priority PriorityKey

	logger zerolog.Logger
}

// NewWorkOrder creates an unpersisted work order in the PENDING state.
func NewWorkOrder(packages ...Package) *WorkOrder {
	now := time.Now().UTC()
	wo := &WorkOrder{
		dbIndex:       -1,
		packages:      append([]Package(nil), packages...),
		packagesIndex: -1,
		created:       now,
		modified:      now,
		state:         StatePending,
		action:        ActionPending,
		labels:        make(map[string]string),
		logger:        log.Logger.With().Str("component", "work-order").Logger(),
	}
	wo.priority = calculatePriority(wo.snapshotLocked())
	return wo
}

// SetLogger replaces the logger used for degrade-to-default diagnostics.
func (w *WorkOrder) SetLogger(logger zerolog.Logger) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.logger = logger.With().Str("component", "work-order").Logger()
}

// Index returns the database index, negative before persistence.
func (w *WorkOrder) Index() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dbIndex
}

// SetIndex records the database index assigned by the enclosing queue.
func (w *WorkOrder) SetIndex(index int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dbIndex = index
	w.priority.Index = index
}

// touchLocked advances the modification time.
func (w *WorkOrder) touchLocked() {
	w.modified = time.Now().UTC()
}

// ExecutionState returns the current state. An absent or unparseable stored
// value is logged, replaced by StatePending and persisted as such.
func (w *WorkOrder) ExecutionState() ExecutionState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stateLocked()
}

func (w *WorkOrder) stateLocked() ExecutionState {
	if err := w.state.Validate(); err != nil {
		w.logger.Warn().
			Int64("work_order", w.dbIndex).
			Str("value", string(w.state)).
			Str("default", string(StatePending)).
			Msg("Invalid execution state, using default")
		w.state = StatePending
	}
	return w.state
}

// SetExecutionState stores state without recomputing priority or notifying.
func (w *WorkOrder) SetExecutionState(state ExecutionState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = state
	w.touchLocked()
}

// SetExecutionStateWithNotify stores state, recomputes priority and notifies n.
func (w *WorkOrder) SetExecutionStateWithNotify(n Notifier, state ExecutionState) {
	w.mu.Lock()
	w.state = state
	w.touchLocked()
	w.recalculateLocked()
	w.mu.Unlock()

	w.notify(n)
}

// OrderAction returns the pending action. An absent or malformed stored value
// is logged, replaced by ActionPending and persisted as such.
func (w *WorkOrder) OrderAction() OrderAction {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.actionLocked()
}

func (w *WorkOrder) actionLocked() OrderAction {
	if err := w.action.Validate(); err != nil {
		w.logger.Warn().
			Int64("work_order", w.dbIndex).
			Str("value", string(w.action)).
			Str("default", string(ActionPending)).
			Msg("Invalid order action, using default")
		w.action = ActionPending
	}
	return w.action
}

// SetOrderAction stores action without recomputing priority or notifying.
func (w *WorkOrder) SetOrderAction(action OrderAction) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.action = action
	w.touchLocked()
}

// SetOrderActionWithNotify stores action, recomputes priority and notifies n.
func (w *WorkOrder) SetOrderActionWithNotify(n Notifier, action OrderAction) {
	w.mu.Lock()
	w.action = action
	w.touchLocked()
	w.recalculateLocked()
	w.mu.Unlock()

	w.notify(n)
}

func (w *WorkOrder) notify(n Notifier) {
	if n != nil {
		n.NotifyProgressUpdate(w)
	}
}

// Packages returns a copy of the package list.
func (w *WorkOrder) Packages() []Package {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Package(nil), w.packages...)
}

// PackageCount returns the number of packages.
func (w *WorkOrder) PackageCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.packages)
}

// AddPackage appends a package.
func (w *WorkOrder) AddPackage(p Package) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.packages = append(w.packages, p)
	w.touchLocked()
}

// PackagesIndex returns the index of the active package, -1 if none.
func (w *WorkOrder) PackagesIndex() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.packagesIndex
}

// SetPackagesIndex selects the active package. -1 clears it.
func (w *WorkOrder) SetPackagesIndex(index int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if index < -1 || index >= len(w.packages) {
		return NewError(KindInvalidArgument,
			fmt.Sprintf("package index %d out of range [-1,%d)", index, len(w.packages)), nil).
			WithWorkOrder(w.dbIndex)
	}
	w.packagesIndex = index
	w.progressPercent = w.activePercentLocked()
	w.touchLocked()
	return nil
}

// ActivePackage returns the active package.
func (w *WorkOrder) ActivePackage() (Package, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.packagesIndex < 0 || w.packagesIndex >= len(w.packages) {
		return Package{}, false
	}
	return w.packages[w.packagesIndex], true
}

// SetPackageProgress records bytes transferred for package i, clamped to
// [0, ContentSize] when the size is known.
func (w *WorkOrder) SetPackageProgress(i int, bytes int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if i < 0 || i >= len(w.packages) {
		return NewError(KindInvalidArgument,
			fmt.Sprintf("package index %d out of range [0,%d)", i, len(w.packages)), nil).
			WithWorkOrder(w.dbIndex)
	}
	if bytes < 0 {
		bytes = 0
	}
	if size := w.packages[i].ContentSize; size > 0 && bytes > size {
		bytes = size
	}
	w.packages[i].BytesTransferred = bytes
	if i == w.packagesIndex {
		w.progressPercent = w.activePercentLocked()
	}
	w.touchLocked()
	return nil
}

func (w *WorkOrder) activePercentLocked() int {
	if w.packagesIndex < 0 || w.packagesIndex >= len(w.packages) {
		return 0
	}
	p := w.packages[w.packagesIndex]
	if p.ContentSize <= 0 {
		return 0
	}
	pct := int(p.BytesTransferred * 100 / p.ContentSize)
	if pct > 100 {
		pct = 100
	}
	return pct
}

// ResetProgress zeroes the transferred bytes of every package.
func (w *WorkOrder) ResetProgress() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resetProgressLocked()
}

func (w *WorkOrder) resetProgressLocked() {
	for i := range w.packages {
		w.packages[i].BytesTransferred = 0
	}
	w.progressPercent = 0
	w.touchLocked()
}

// TotalBytes returns the summed content size of all packages.
func (w *WorkOrder) TotalBytes() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	var total int64
	for _, p := range w.packages {
		total += p.ContentSize
	}
	return total
}

// DownloadedBytes returns the summed transferred bytes of all packages.
func (w *WorkOrder) DownloadedBytes() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.downloadedLocked()
}

func (w *WorkOrder) downloadedLocked() int64 {
	var done int64
	for _, p := range w.packages {
		done += p.BytesTransferred
	}
	return done
}

// RemainingBytes returns the bytes still to transfer across all packages.
func (w *WorkOrder) RemainingBytes() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.remainingLocked()
}

func (w *WorkOrder) remainingLocked() int64 {
	var remaining int64
	for _, p := range w.packages {
		remaining += p.Remaining()
	}
	return remaining
}

// Created returns the creation time.
func (w *WorkOrder) Created() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.created
}

// SetCreated sets the creation time.
func (w *WorkOrder) SetCreated(t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.created = t.UTC()
	if w.priorityTime.IsZero() {
		w.recalculateLocked()
	}
}

// Modified returns the last modification time.
func (w *WorkOrder) Modified() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.modified
}

// Expiration returns the expiration time, zero if none.
func (w *WorkOrder) Expiration() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.expiration
}

// SetExpiration sets the expiration time. The zero time clears it.
func (w *WorkOrder) SetExpiration(t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !t.IsZero() {
		t = t.UTC()
	}
	w.expiration = t
	w.touchLocked()
}

// PriorityTime returns the FIFO tie-break time, defaulting to the creation time.
func (w *WorkOrder) PriorityTime() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.priorityTimeLocked()
}

func (w *WorkOrder) priorityTimeLocked() time.Time {
	if w.priorityTime.IsZero() {
		return w.created
	}
	return w.priorityTime
}

// SetPriorityTime sets the FIFO tie-break time and recomputes priority.
func (w *WorkOrder) SetPriorityTime(t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !t.IsZero() {
		t = t.UTC()
	}
	w.priorityTime = t
	w.touchLocked()
	w.recalculateLocked()
}

// RelativePriority returns the caller-assigned priority in [0,100].
func (w *WorkOrder) RelativePriority() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.relativePriority
}

// SetRelativePriority sets the caller-assigned priority and recomputes priority.
func (w *WorkOrder) SetRelativePriority(p int) error {
	if p < MinRelativePriority || p > MaxRelativePriority {
		return NewError(KindInvalidArgument,
			fmt.Sprintf("relative priority %d out of range [%d,%d]", p, MinRelativePriority, MaxRelativePriority), nil)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.relativePriority = p
	w.touchLocked()
	w.recalculateLocked()
	return nil
}

// Attempt returns the retry counter.
func (w *WorkOrder) Attempt() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.attempt
}

// SetAttempt sets the retry counter and recomputes priority.
func (w *WorkOrder) SetAttempt(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n < 0 {
		n = 0
	}
	w.attempt = n
	w.touchLocked()
	w.recalculateLocked()
}

// IncrementAttempt bumps the retry counter and returns the new value.
func (w *WorkOrder) IncrementAttempt() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempt++
	w.touchLocked()
	w.recalculateLocked()
	return w.attempt
}

// Urgent returns the urgent flag.
func (w *WorkOrder) Urgent() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.urgent
}

// SetUrgent sets the urgent flag and recomputes priority.
func (w *WorkOrder) SetUrgent(urgent bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.urgent = urgent
	w.touchLocked()
	w.recalculateLocked()
}

// Mandatory returns the mandatory flag.
func (w *WorkOrder) Mandatory() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mandatory
}

// SetMandatory sets the mandatory flag and recomputes priority.
func (w *WorkOrder) SetMandatory(mandatory bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.mandatory = mandatory
	w.touchLocked()
	w.recalculateLocked()
}

// UID returns the client identity that submitted the work order.
func (w *WorkOrder) UID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.uid
}

// SetUID sets the client identity.
func (w *WorkOrder) SetUID(uid string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.uid = uid
	w.touchLocked()
}

// NotificationTarget returns where progress notifications are delivered.
func (w *WorkOrder) NotificationTarget() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.notificationTarget
}

// SetNotificationTarget sets where progress notifications are delivered.
func (w *WorkOrder) SetNotificationTarget(target string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.notificationTarget = target
	w.touchLocked()
}

// StorageID returns the assigned storage backend id, empty if none.
func (w *WorkOrder) StorageID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.storageID
}

// SetStorageID assigns a storage backend.
func (w *WorkOrder) SetStorageID(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.storageID = id
	w.touchLocked()
}

// DownloadRate returns the last observed transfer rate in bytes per second.
func (w *WorkOrder) DownloadRate() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.downloadRate
}

// SetDownloadRate records the transfer rate in bytes per second.
func (w *WorkOrder) SetDownloadRate(rate int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if rate < 0 {
		rate = 0
	}
	w.downloadRate = rate
}

// ProgressPercent returns the progress of the active package in [0,100].
func (w *WorkOrder) ProgressPercent() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.progressPercent
}

// SetProgressPercent sets the progress of the active package, clamped to [0,100].
func (w *WorkOrder) SetProgressPercent(pct int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.progressPercent = clampPercent(pct)
}

func clampPercent(pct int) int {
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	default:
		return pct
	}
}

// AccessControl returns a copy of the access rules.
func (w *WorkOrder) AccessControl() AccessControl {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.access.clone()
}

// SetAccessControl replaces the access rules.
func (w *WorkOrder) SetAccessControl(a AccessControl) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.access = a.clone()
	w.touchLocked()
}

// Label returns a caller-defined property.
func (w *WorkOrder) Label(key string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.labels[key]
	return v, ok
}

// SetLabel sets a caller-defined property. An empty value removes it.
func (w *WorkOrder) SetLabel(key, value string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if value == "" {
		delete(w.labels, key)
	} else {
		w.labels[key] = value
	}
	w.touchLocked()
}

// Labels returns a copy of the caller-defined properties.
func (w *WorkOrder) Labels() map[string]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]string, len(w.labels))
	for k, v := range w.labels {
		out[k] = v
	}
	return out
}

func (w *WorkOrder) labelKeysLocked() []string {
	keys := make([]string, 0, len(w.labels))
	for k := range w.labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks the invariants of caller-assigned attributes.
func (w *WorkOrder) Validate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.relativePriority < MinRelativePriority || w.relativePriority > MaxRelativePriority {
		return NewError(KindInvalidArgument,
			fmt.Sprintf("relative priority %d out of range", w.relativePriority), nil).WithWorkOrder(w.dbIndex)
	}
	if w.progressPercent < 0 || w.progressPercent > 100 {
		return NewError(KindInvalidArgument,
			fmt.Sprintf("progress %d out of range", w.progressPercent), nil).WithWorkOrder(w.dbIndex)
	}
	if w.packagesIndex < -1 || w.packagesIndex >= len(w.packages) {
		return NewError(KindInvalidArgument,
			fmt.Sprintf("package index %d out of range", w.packagesIndex), nil).WithWorkOrder(w.dbIndex)
	}
	for i, p := range w.packages {
		if p.ContentSize < 0 || p.BytesTransferred < 0 {
			return NewError(KindInvalidArgument,
				fmt.Sprintf("package %d has negative size or progress", i), nil).WithWorkOrder(w.dbIndex)
		}
	}
	return nil
}

// IsReadable reports whether origin may observe the work order.
func (w *WorkOrder) IsReadable(origin string) bool {
	return w.allows(origin, CapabilityRead)
}

// IsModifiable reports whether origin may change the work order.
func (w *WorkOrder) IsModifiable(origin string) bool {
	return w.allows(origin, CapabilityModify)
}

// IsDeletable reports whether origin may remove the work order.
func (w *WorkOrder) IsDeletable(origin string) bool {
	return w.allows(origin, CapabilityDelete)
}

func (w *WorkOrder) allows(origin string, c Capability) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.access.Allows(w.uid, origin, c)
}
