package engine

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/workorders/pkg/policy"
)

type countingNotifier struct {
	mu     sync.Mutex
	count  int
	states []ExecutionState
}

func (n *countingNotifier) NotifyProgressUpdate(wo *WorkOrder) {
	state := wo.ExecutionState()
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count++
	n.states = append(n.states, state)
}

func newTestWorkOrder(packages ...Package) *WorkOrder {
	wo := NewWorkOrder(packages...)
	wo.SetLogger(zerolog.New(nil).Level(zerolog.Disabled))
	return wo
}

func TestNewWorkOrder_Defaults(t *testing.T) {
	wo := newTestWorkOrder()

	if wo.Index() >= 0 {
		t.Errorf("unpersisted work order should have negative index, got %d", wo.Index())
	}
	if wo.ExecutionState() != StatePending {
		t.Errorf("expected pending state, got %s", wo.ExecutionState())
	}
	if wo.OrderAction() != ActionPending {
		t.Errorf("expected pending action, got %s", wo.OrderAction())
	}
	if wo.PackagesIndex() != -1 {
		t.Errorf("expected packages index -1, got %d", wo.PackagesIndex())
	}
	if !wo.PriorityTime().Equal(wo.Created()) {
		t.Error("priority time should default to creation time")
	}
}

func TestExecutionState_InvalidIsCorrected(t *testing.T) {
	wo := newTestWorkOrder()

	wo.SetExecutionState(ExecutionState("exploded"))
	if got := wo.ExecutionState(); got != StatePending {
		t.Fatalf("expected pending after invalid state, got %s", got)
	}

	// The correction is persisted.
	for _, p := range wo.Document().Properties {
		if p.Tag == TagExecutionState && p.Value != string(StatePending) {
			t.Errorf("stored state = %q, want pending", p.Value)
		}
	}

	wo.SetExecutionState(StateUndefined)
	if got := wo.ExecutionState(); got != StatePending {
		t.Errorf("expected pending for undefined state, got %s", got)
	}
}

func TestOrderAction_InvalidIsCorrected(t *testing.T) {
	wo := newTestWorkOrder()
	wo.SetOrderAction(OrderAction("Not A Token!"))

	if got := wo.OrderAction(); got != ActionPending {
		t.Errorf("expected pending action, got %s", got)
	}

	// Extension actions are well-formed and kept.
	wo.SetOrderAction(OrderAction("throttle"))
	if got := wo.OrderAction(); got != "throttle" {
		t.Errorf("expected extension action kept, got %s", got)
	}
}

func TestWithNotify_RecomputesAndNotifies(t *testing.T) {
	wo := newTestWorkOrder()
	n := &countingNotifier{}

	before := wo.Priority()
	wo.SetExecutionState(StateActive)
	if wo.Priority() != before {
		t.Error("plain setter must not recompute priority")
	}
	if n.count != 0 {
		t.Error("plain setter must not notify")
	}

	wo.SetExecutionStateWithNotify(n, StateActive)
	if wo.Priority().Band != BandActive {
		t.Errorf("expected active band after notify, got %d", wo.Priority().Band)
	}
	if n.count != 1 || n.states[0] != StateActive {
		t.Errorf("expected one notification observing active, got %v", n.states)
	}

	wo.SetOrderActionWithNotify(n, ActionSuspend)
	if wo.Priority().Band != BandActionPending {
		t.Errorf("expected action band, got %d", wo.Priority().Band)
	}
	if n.count != 2 {
		t.Errorf("expected two notifications, got %d", n.count)
	}

	// A nil notifier is tolerated.
	wo.SetOrderActionWithNotify(nil, ActionPending)
}

func TestWithNotify_Concurrent(t *testing.T) {
	wo := newTestWorkOrder(Package{ContentSize: 100, LocalPath: "/a"})
	n := &countingNotifier{}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				wo.SetExecutionStateWithNotify(n, StateQueued)
			} else {
				wo.SetExecutionStateWithNotify(n, StateBlocked)
			}
		}(i)
		go func() {
			defer wg.Done()
			_ = wo.SummaryStatus()
			_ = wo.PolicyInput()
		}()
	}
	wg.Wait()

	if n.count != 50 {
		t.Errorf("expected 50 notifications, got %d", n.count)
	}
	key := wo.Priority()
	want := bandOf(wo.ExecutionState(), wo.OrderAction())
	if key.Band != want {
		t.Errorf("priority band %d does not match final state band %d", key.Band, want)
	}
}

func TestSetRelativePriority_Range(t *testing.T) {
	wo := newTestWorkOrder()

	if err := wo.SetRelativePriority(101); !IsKind(err, KindInvalidArgument) {
		t.Errorf("expected invalid argument, got %v", err)
	}
	if err := wo.SetRelativePriority(-1); !IsKind(err, KindInvalidArgument) {
		t.Errorf("expected invalid argument, got %v", err)
	}
	if err := wo.SetRelativePriority(60); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wo.Priority().RelativePriority != 60 {
		t.Error("priority setter should recompute key")
	}
}

func TestPackageProgress(t *testing.T) {
	wo := newTestWorkOrder(
		Package{ContentSize: 1000, LocalPath: "/a"},
		Package{ContentSize: 500, LocalPath: "/b"},
	)

	if err := wo.SetPackagesIndex(0); err != nil {
		t.Fatalf("SetPackagesIndex failed: %v", err)
	}
	if err := wo.SetPackageProgress(0, 250); err != nil {
		t.Fatalf("SetPackageProgress failed: %v", err)
	}
	if err := wo.SetPackageProgress(1, 9999); err != nil {
		t.Fatalf("SetPackageProgress failed: %v", err)
	}

	if wo.ProgressPercent() != 25 {
		t.Errorf("expected 25%%, got %d", wo.ProgressPercent())
	}
	if wo.TotalBytes() != 1500 {
		t.Errorf("TotalBytes() = %d", wo.TotalBytes())
	}
	if wo.DownloadedBytes() != 750 {
		t.Errorf("DownloadedBytes() = %d, progress should clamp to size", wo.DownloadedBytes())
	}
	if wo.RemainingBytes() != 750 {
		t.Errorf("RemainingBytes() = %d", wo.RemainingBytes())
	}
	if p, ok := wo.ActivePackage(); !ok || p.LocalPath != "/a" {
		t.Errorf("ActivePackage() = %v, %v", p, ok)
	}

	if err := wo.SetPackageProgress(2, 1); !IsKind(err, KindInvalidArgument) {
		t.Errorf("expected invalid argument for out-of-range package, got %v", err)
	}
	if err := wo.SetPackagesIndex(2); !IsKind(err, KindInvalidArgument) {
		t.Errorf("expected invalid argument for out-of-range index, got %v", err)
	}

	wo.ResetProgress()
	if wo.DownloadedBytes() != 0 || wo.ProgressPercent() != 0 {
		t.Error("ResetProgress should zero all progress")
	}
}

func TestPermissions(t *testing.T) {
	readOnly := &PermissionSet{Read: true}
	all := &PermissionSet{Read: true, Modify: true, Delete: true}

	tests := []struct {
		name   string
		access AccessControl
		origin string
		cap    Capability
		want   bool
	}{
		{"owner without rules", AccessControl{}, "app.owner", CapabilityDelete, true},
		{"owner restricted by user level", AccessControl{User: readOnly}, "app.owner", CapabilityModify, false},
		{"owner allowed by user level", AccessControl{User: readOnly}, "app.owner", CapabilityRead, true},
		{"owner restricted but world grants", AccessControl{User: readOnly, World: all}, "app.owner", CapabilityDelete, true},
		{"stranger without rules", AccessControl{}, "app.other", CapabilityRead, false},
		{"stranger with world read", AccessControl{World: readOnly}, "app.other", CapabilityRead, true},
		{"stranger with world read cannot modify", AccessControl{World: readOnly}, "app.other", CapabilityModify, false},
		{"group member", AccessControl{Group: all, GroupMembers: []string{"app.friend"}}, "app.friend", CapabilityModify, true},
		{"group non-member", AccessControl{Group: all, GroupMembers: []string{"app.friend"}}, "app.other", CapabilityModify, false},
		{"empty origin", AccessControl{}, "", CapabilityRead, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wo := newTestWorkOrder()
			wo.SetUID("app.owner")
			wo.SetAccessControl(tt.access)

			var got bool
			switch tt.cap {
			case CapabilityRead:
				got = wo.IsReadable(tt.origin)
			case CapabilityModify:
				got = wo.IsModifiable(tt.origin)
			case CapabilityDelete:
				got = wo.IsDeletable(tt.origin)
			}
			if got != tt.want {
				t.Errorf("%s by %q = %v, want %v", tt.cap, tt.origin, got, tt.want)
			}
		})
	}
}

func TestSummaryStatus(t *testing.T) {
	wo := newTestWorkOrder(
		Package{ContentSize: 100, LocalPath: "/a"},
		Package{ContentSize: 100, LocalPath: "/b"},
		Package{ContentSize: 100, LocalPath: "/c"},
	)
	wo.SetIndex(12)
	wo.SetAttempt(2)

	if got := wo.SummaryStatus(); got != "#12 attempt 2 pkg -/3 pending" {
		t.Errorf("SummaryStatus() = %q", got)
	}

	wo.SetUrgent(true)
	wo.SetExecutionState(StateQueued)
	_ = wo.SetPackagesIndex(0)
	_ = wo.SetPackageProgress(0, 45)

	if got := wo.SummaryStatus(); got != "#12 attempt 2 pkg 1/3 [URGENT] queued 45%" {
		t.Errorf("SummaryStatus() = %q", got)
	}
}

func TestToTransferRequest(t *testing.T) {
	wo := newTestWorkOrder(Package{
		ContentSize: 2048,
		SourceURI:   "https://cdn.example.com/a.bin",
		LocalPath:   "/a.bin",
		MimeType:    "application/octet-stream",
	})
	wo.SetIndex(3)
	wo.SetStorageID("internal")
	wo.SetUID("app.owner")

	req, ok := wo.ToTransferRequest()
	if !ok {
		t.Fatal("expected a transfer request for a single-package order")
	}
	expected := map[string]string{
		TransferKeyWorkOrder: "3",
		TransferKeyURI:       "https://cdn.example.com/a.bin",
		TransferKeyPath:      "/a.bin",
		TransferKeySize:      "2048",
		TransferKeyStorageID: "internal",
		TransferKeyUID:       "app.owner",
		TransferKeyMimeType:  "application/octet-stream",
	}
	for k, v := range expected {
		if req[k] != v {
			t.Errorf("req[%s] = %q, want %q", k, req[k], v)
		}
	}

	wo.AddPackage(Package{ContentSize: 1, LocalPath: "/b"})
	if _, ok := wo.ToTransferRequest(); ok {
		t.Error("multi-package orders must not produce a transfer request")
	}
}

func TestPolicy_LazyParseAndCache(t *testing.T) {
	wo := newTestWorkOrder()
	wo.SetIndex(5)

	p, err := wo.Policy(nil)
	if err != nil || p != nil {
		t.Fatalf("empty policy should be nil without error, got %v, %v", p, err)
	}

	calls := 0
	rules := policy.NewRuleMap(policy.NewFuncCollection("wifi", func(policy.Subject) bool {
		calls++
		return true
	}))

	wo.SetPolicyText("wifi and true()")
	first, err := wo.Policy(rules)
	if err != nil {
		t.Fatalf("Policy failed: %v", err)
	}
	second, _ := wo.Policy(rules)
	if first != second {
		t.Error("compiled policy should be cached")
	}

	ok, err := wo.EvaluatePolicy(rules)
	if err != nil || !ok {
		t.Errorf("EvaluatePolicy() = %v, %v", ok, err)
	}
	if calls != 1 {
		t.Errorf("expected rule evaluated once, got %d", calls)
	}

	wo.SetPolicyText("(wifi and true()")
	_, err = wo.Policy(rules)
	if !errors.Is(err, &Error{Kind: KindInvalidPolicy, Reason: ReasonUnexpectedParentheses}) {
		t.Fatalf("expected invalid policy / unexpected parentheses, got %v", err)
	}
	if !strings.Contains(err.Error(), "work_order=5") {
		t.Errorf("expected work order context in %q", err.Error())
	}

	wo.SetPolicyText("   ")
	if _, err := wo.Policy(rules); !errors.Is(err, &Error{Kind: KindInvalidPolicy, Reason: ReasonUnexpectedEnd}) {
		t.Errorf("expected unexpected end, got %v", err)
	}
}

func TestPolicy_CachedAcrossRuleSets(t *testing.T) {
	wo := newTestWorkOrder()
	wo.SetPolicyText("wifi")

	on := policy.NewRuleMap(policy.NewFuncCollection("wifi", func(policy.Subject) bool { return true }))
	off := policy.NewRuleMap(policy.NewFuncCollection("wifi", func(policy.Subject) bool { return false }))

	if ok, _ := wo.EvaluatePolicy(on); !ok {
		t.Fatal("expected wifi to pass")
	}
	if ok, _ := wo.EvaluatePolicy(off); !ok {
		t.Error("a cached policy should keep the rules it was parsed with")
	}

	wo.ResetPolicy()
	if ok, _ := wo.EvaluatePolicy(off); ok {
		t.Error("ResetPolicy should re-parse against the new rules")
	}
}

func TestPolicyInput_NilWorkOrder(t *testing.T) {
	var wo *WorkOrder
	if input := wo.PolicyInput(); input != nil {
		t.Errorf("PolicyInput() = %v, want nil", input)
	}

	var subject policy.Subject = wo
	p, err := policy.Compile("not(wifi)", policy.NewRuleMap(policy.NewFuncCollection("wifi", func(s policy.Subject) bool {
		return s.PolicyInput()["urgent"] == true
	})))
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if !p.Evaluate(subject) {
		t.Error("a nil work order should evaluate as an empty subject")
	}
}

func TestPolicyInput(t *testing.T) {
	wo := newTestWorkOrder(Package{ContentSize: 100, BytesTransferred: 40, LocalPath: "/a"})
	wo.SetLabel("function_group", "media")
	wo.SetMandatory(true)
	wo.SetStorageID("sd")

	input := wo.PolicyInput()
	if input["mandatory"] != true {
		t.Error("expected mandatory in input")
	}
	labels := input["labels"].(map[string]interface{})
	if labels["function_group"] != "media" {
		t.Errorf("labels = %v", labels)
	}
	transfer := input["transfer"].(map[string]interface{})
	if transfer["remaining_bytes"] != int64(60) {
		t.Errorf("remaining_bytes = %v", transfer["remaining_bytes"])
	}
	storage := input["storage"].(map[string]interface{})
	if storage["id"] != "sd" {
		t.Errorf("storage = %v", storage)
	}
}

func TestValidate(t *testing.T) {
	wo := newTestWorkOrder(Package{ContentSize: 10})
	if err := wo.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	wo.mu.Lock()
	wo.packagesIndex = 3
	wo.mu.Unlock()
	if err := wo.Validate(); !IsKind(err, KindInvalidArgument) {
		t.Errorf("expected invalid argument, got %v", err)
	}
}
