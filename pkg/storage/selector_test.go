package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/workorders/pkg/engine"
	"github.com/openfroyo/workorders/pkg/policy"
)

func newOrder(transferred int64) *engine.WorkOrder {
	wo := engine.NewWorkOrder(engine.Package{
		ContentSize:      100,
		BytesTransferred: transferred,
		SourceURI:        "https://cdn.example.com/a",
		LocalPath:        "/a",
	})
	wo.SetLogger(quiet)
	wo.SetIndex(1)
	return wo
}

func newSelector(t *testing.T, backends map[string]*fakeBackend, order []string, opts ...SelectorOption) *Selector {
	t.Helper()
	r := NewRegistry()
	for _, id := range order {
		require.NoError(t, r.Register(id, backends[id]))
	}
	opts = append([]SelectorOption{WithProber(NewProber(ProbeOptions{Timeout: 200 * time.Millisecond}, quiet))}, opts...)
	return NewSelector(r, quiet, opts...)
}

func TestSelect_EmptyRegistry(t *testing.T) {
	s := NewSelector(NewRegistry(), quiet)
	wo := newOrder(0)

	sel, err := s.Select(context.Background(), wo)
	require.NoError(t, err)
	assert.False(t, sel.Found())
	assert.True(t, engine.IsKind(sel.Err(), engine.KindVSDUnavailable))
	assert.Empty(t, wo.StorageID())
}

func TestSelect_NoPackages(t *testing.T) {
	s := NewSelector(NewRegistry(), quiet)
	_, err := s.Select(context.Background(), engine.NewWorkOrder())
	assert.True(t, engine.IsKind(err, engine.KindInvalidArgument))
}

func TestSelect_Sticky(t *testing.T) {
	backends := map[string]*fakeBackend{
		"internal": newFake(1000, map[string]int64{"/a": 40}),
		"sd":       newFake(1000, map[string]int64{"/a": 10}),
	}
	s := newSelector(t, backends, []string{"internal", "sd"})
	wo := newOrder(40)
	wo.SetStorageID("sd")

	sel, err := s.Select(context.Background(), wo)
	require.NoError(t, err)
	assert.Equal(t, "sd", sel.BackendID)
	assert.Equal(t, StepSticky, sel.Step)
	assert.False(t, sel.ProgressReset)
	assert.Equal(t, int64(40), wo.DownloadedBytes())
	assert.NoError(t, sel.Err())
	assert.False(t, sel.Changed())
}

func TestSelect_StickyUnreachableFallsThrough(t *testing.T) {
	backends := map[string]*fakeBackend{
		"internal": newFake(1000, map[string]int64{"/a": 40}),
		"sd":       newFake(1000, map[string]int64{"/a": 40}),
	}
	backends["sd"].unreachable = true
	s := newSelector(t, backends, []string{"internal", "sd"})
	wo := newOrder(40)
	wo.SetStorageID("sd")

	sel, err := s.Select(context.Background(), wo)
	require.NoError(t, err)
	assert.Equal(t, "internal", sel.BackendID)
	assert.Equal(t, StepExactProgress, sel.Step)
	assert.Equal(t, "sd", sel.PreviousID)
}

func TestSelect_ExactProgressIsIdempotent(t *testing.T) {
	backends := map[string]*fakeBackend{
		"internal": newFake(1000, map[string]int64{"/a": 10}),
		"sd":       newFake(1000, map[string]int64{"/a": 40}),
	}
	s := newSelector(t, backends, []string{"internal", "sd"})
	wo := newOrder(40)

	first, err := s.Select(context.Background(), wo)
	require.NoError(t, err)
	assert.Equal(t, "sd", first.BackendID)
	assert.Equal(t, StepExactProgress, first.Step)
	assert.Equal(t, "sd", wo.StorageID())
	assert.True(t, first.Changed())

	second, err := s.Select(context.Background(), wo)
	require.NoError(t, err)
	assert.Equal(t, "sd", second.BackendID)
	assert.False(t, second.ProgressReset)
	assert.False(t, second.Changed())
	assert.Equal(t, int64(40), wo.DownloadedBytes())
}

func TestSelect_CapacityLastFit(t *testing.T) {
	backends := map[string]*fakeBackend{
		"internal": newFake(500, nil),
		"sd":       newFake(50, nil),
		"usb":      newFake(500, nil),
	}
	s := newSelector(t, backends, []string{"internal", "sd", "usb"})
	wo := newOrder(0)

	sel, err := s.Select(context.Background(), wo)
	require.NoError(t, err)
	assert.Equal(t, "usb", sel.BackendID)
	assert.Equal(t, StepCapacity, sel.Step)
	assert.False(t, sel.ProgressReset)
	assert.Equal(t, "usb", wo.StorageID())
}

func TestSelect_CapacityResetsProgress(t *testing.T) {
	backends := map[string]*fakeBackend{
		"internal": newFake(500, map[string]int64{"/a": 12}),
	}
	s := newSelector(t, backends, []string{"internal"})
	wo := newOrder(40)
	wo.SetStorageID("gone")
	_ = wo.SetPackagesIndex(0)

	sel, err := s.Select(context.Background(), wo)
	require.NoError(t, err)
	assert.Equal(t, "internal", sel.BackendID)
	assert.Equal(t, StepCapacity, sel.Step)
	assert.True(t, sel.ProgressReset)
	assert.Equal(t, int64(0), wo.DownloadedBytes())
	assert.Equal(t, 0, wo.ProgressPercent())
	assert.Contains(t, sel.String(), "progress reset")
	assert.True(t, sel.Changed())
}

func TestSelect_NothingFitsKeepsPreviousID(t *testing.T) {
	backends := map[string]*fakeBackend{
		"internal": newFake(60, nil),
		"sd":       newFake(10, nil),
	}
	s := newSelector(t, backends, []string{"internal", "sd"})
	wo := newOrder(40)
	wo.SetStorageID("usb")

	sel, err := s.Select(context.Background(), wo)
	require.NoError(t, err)
	assert.False(t, sel.Found())
	assert.False(t, sel.Changed())
	assert.Equal(t, "usb", wo.StorageID())
	assert.Equal(t, int64(40), wo.DownloadedBytes())
}

func TestSelect_FaultyBackendSkipped(t *testing.T) {
	backends := map[string]*fakeBackend{
		"internal": newFake(500, nil),
		"broken":   newFake(500, nil),
		"slow":     newFake(500, nil),
	}
	backends["broken"].panics = true
	backends["slow"].delay = time.Second
	s := newSelector(t, backends, []string{"internal", "broken", "slow"})

	sel, err := s.Select(context.Background(), newOrder(0))
	require.NoError(t, err)
	assert.Equal(t, "internal", sel.BackendID)
}

func TestSelect_RequirementRules(t *testing.T) {
	backends := map[string]*fakeBackend{
		"internal": newFake(500, nil),
		"sd":       newFake(500, nil),
	}
	onlyInternal := policy.NewFuncCollection("only-internal", func(s policy.Subject) bool {
		storage, _ := s.PolicyInput()["storage"].(map[string]interface{})
		return storage["id"] == "internal"
	})
	s := newSelector(t, backends, []string{"internal", "sd"},
		WithRules(policy.NewRuleMap(onlyInternal)),
		WithRequirements("only-internal", "missing-rule"),
	)

	sel, err := s.Select(context.Background(), newOrder(0))
	require.NoError(t, err)
	assert.Equal(t, "internal", sel.BackendID)
}

func TestSelect_WorkOrderPolicySeesCandidate(t *testing.T) {
	backends := map[string]*fakeBackend{
		"internal": newFake(5000, nil),
		"sd":       newFake(200, nil),
	}
	roomy := policy.NewFuncCollection("roomy", func(s policy.Subject) bool {
		storage, _ := s.PolicyInput()["storage"].(map[string]interface{})
		free, _ := storage["free_bytes"].(int64)
		return free >= 1000
	})
	s := newSelector(t, backends, []string{"internal", "sd"}, WithRules(policy.NewRuleMap(roomy)))

	wo := newOrder(0)
	wo.SetPolicyText("roomy")
	sel, err := s.Select(context.Background(), wo)
	require.NoError(t, err)
	assert.Equal(t, "internal", sel.BackendID)

	bad := newOrder(0)
	bad.SetPolicyText("roomy and")
	sel, err = s.Select(context.Background(), bad)
	require.NoError(t, err)
	assert.False(t, sel.Found())
}

func TestSelect_BuiltinFunctionGroup(t *testing.T) {
	ctx := context.Background()
	collections, err := policy.NewBuiltinCollections(ctx, quiet)
	require.NoError(t, err)
	rules := policy.NewRuleMap(collections...)

	backends := map[string]*fakeBackend{
		"media": newFake(500, nil),
		"maps":  newFake(500, nil),
		"open":  newFake(80, nil),
	}
	backends["media"].groups = []string{"video", "music"}
	backends["maps"].groups = []string{"navigation"}
	s := newSelector(t, backends, []string{"media", "maps", "open"}, WithRules(rules))

	// 100 bytes remain: "open" lacks room, "maps" serves another group.
	wo := newOrder(0)
	wo.SetLabel("function_group", "music")
	sel, err := s.Select(ctx, wo)
	require.NoError(t, err)
	assert.Equal(t, "media", sel.BackendID)
	assert.False(t, sel.ProgressReset)

	// 70 bytes remain: the unrestricted backend now fits and passes last.
	wo = newOrder(30)
	wo.SetLabel("function_group", "music")
	sel, err = s.Select(ctx, wo)
	require.NoError(t, err)
	assert.Equal(t, "open", sel.BackendID)
	assert.True(t, sel.ProgressReset)
}
