package storage

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfroyo/workorders/pkg/engine"
	"github.com/openfroyo/workorders/pkg/policy"
)

// Step identifies how a backend was selected.
type Step string

const (
	// StepNone means no backend was selected.
	StepNone Step = ""

	// StepSticky reuses the already assigned backend.
	StepSticky Step = "sticky"

	// StepExactProgress adopts a backend holding exactly the recorded progress.
	StepExactProgress Step = "exact-progress"

	// StepCapacity assigns the last backend with enough free capacity that passes validation.
	StepCapacity Step = "capacity"
)

// Selection is the outcome of one storage selection.
type Selection struct {
	// WorkOrder is the db index of the work order.
	WorkOrder int64 `json:"work_order"`

	// BackendID is the selected backend, empty when none was found.
	BackendID string `json:"backend_id,omitempty"`

	// PreviousID is the storage id assigned before selection.
	PreviousID string `json:"previous_id,omitempty"`

	// Step is the selection step that produced BackendID.
	Step Step `json:"step,omitempty"`

	// ProgressReset reports whether package progress was discarded.
	ProgressReset bool `json:"progress_reset"`
}

// Found reports whether a backend was selected.
func (s Selection) Found() bool {
	return s.BackendID != ""
}

// Changed reports whether selection modified the work order: it was bound to
// a different backend or its progress was discarded.
func (s Selection) Changed() bool {
	return s.Found() && (s.BackendID != s.PreviousID || s.ProgressReset)
}

// Err returns a KindVSDUnavailable error when nothing was selected, nil otherwise.
func (s Selection) Err() error {
	if s.Found() {
		return nil
	}
	return engine.NewError(engine.KindVSDUnavailable, "no storage backend available", nil).
		WithWorkOrder(s.WorkOrder).
		WithOperation("select_storage")
}

// Selector assigns storage backends to work orders.
type Selector struct {
	registry     *Registry
	prober       *Prober
	rules        policy.Rules
	requirements []string
	logger       zerolog.Logger
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithRules sets the rules used to revalidate policies against candidates.
func WithRules(rules policy.Rules) SelectorOption {
	return func(s *Selector) {
		s.rules = rules
	}
}

// WithRequirements replaces the rule collections every capacity candidate must
// pass in addition to the work order's own policy.
func WithRequirements(names ...string) SelectorOption {
	return func(s *Selector) {
		s.requirements = append([]string(nil), names...)
	}
}

// WithProber sets the prober used for backend queries.
func WithProber(p *Prober) SelectorOption {
	return func(s *Selector) {
		s.prober = p
	}
}

// NewSelector creates a selector over registry.
func NewSelector(registry *Registry, logger zerolog.Logger, opts ...SelectorOption) *Selector {
	s := &Selector{
		registry:     registry,
		requirements: []string{policy.RuleFunctionGroup, policy.RuleFreeSpace},
		logger:       logger.With().Str("component", "storage-selector").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.prober == nil {
		s.prober = NewProber(DefaultProbeOptions(), logger)
	}
	return s
}

// Registry returns the selector's backend registry.
func (s *Selector) Registry() *Registry {
	return s.registry
}

// Prober returns the selector's prober.
func (s *Selector) Prober() *Prober {
	return s.prober
}

// Select chooses a backend for the work order's first package and records it
// as the work order's storage id. Finding nothing is not an error: the returned
// Selection reports it and the storage id is left unchanged. An error is only
// returned for a work order without packages.
func (s *Selector) Select(ctx context.Context, wo *engine.WorkOrder) (Selection, error) {
	sel := Selection{WorkOrder: wo.Index(), PreviousID: wo.StorageID()}

	packages := wo.Packages()
	if len(packages) == 0 {
		return sel, engine.NewError(engine.KindInvalidArgument, "work order has no packages", nil).
			WithWorkOrder(sel.WorkOrder).
			WithOperation("select_storage")
	}
	pkg := packages[0]
	entries := s.registry.Entries()

	logger := s.logger.With().Int64("work_order", sel.WorkOrder).Str("path", pkg.LocalPath).Logger()

	if len(entries) == 0 {
		logger.Debug().Msg("No storage backends registered")
		return sel, nil
	}

	// 1. Sticky reuse of the assigned backend.
	if sel.PreviousID != "" {
		for _, e := range entries {
			if e.ID != sel.PreviousID {
				continue
			}
			if s.prober.Reachable(ctx, e) {
				if _, found := s.prober.ContentObject(ctx, e, pkg.LocalPath); found {
					sel.BackendID = e.ID
					sel.Step = StepSticky
					logger.Debug().Str("storage_id", e.ID).Msg("Reusing assigned storage")
					return sel, nil
				}
			}
			break
		}
	}

	// 2. A backend already holding exactly the recorded progress.
	for _, e := range entries {
		obj, found := s.prober.ContentObject(ctx, e, pkg.LocalPath)
		if found && obj.Size == pkg.BytesTransferred {
			wo.SetStorageID(e.ID)
			sel.BackendID = e.ID
			sel.Step = StepExactProgress
			logger.Debug().Str("storage_id", e.ID).Int64("bytes", obj.Size).Msg("Continuing on storage with matching progress")
			return sel, nil
		}
	}

	// 3. Capacity fallback. Every passing candidate overwrites the previous one.
	downloaded := wo.DownloadedBytes()
	remaining := wo.RemainingBytes()
	for _, e := range entries {
		free, ok := s.prober.FreeCapacity(ctx, e)
		if !ok || free <= remaining {
			continue
		}
		if !s.validate(wo, candidateSubject(wo, e, free)) {
			logger.Debug().Str("storage_id", e.ID).Msg("Storage candidate rejected by policy")
			continue
		}
		sel.BackendID = e.ID
		sel.Step = StepCapacity
	}

	if !sel.Found() {
		logger.Debug().Int64("remaining_bytes", remaining).Msg("No storage backend available")
		return sel, nil
	}

	wo.SetStorageID(sel.BackendID)
	if downloaded > 0 {
		wo.ResetProgress()
		sel.ProgressReset = true
	}
	logger.Info().
		Str("storage_id", sel.BackendID).
		Str("previous_id", sel.PreviousID).
		Bool("progress_reset", sel.ProgressReset).
		Msg("Assigned storage by free capacity")
	return sel, nil
}

// validate evaluates the requirement rules and the work order's own policy
// against a candidate.
func (s *Selector) validate(wo *engine.WorkOrder, candidate policy.Subject) bool {
	if s.rules != nil {
		for _, name := range s.requirements {
			c, ok := s.rules.Lookup(name)
			if !ok {
				continue
			}
			if !c.EvaluateRuleSet(candidate) {
				return false
			}
		}
	}
	ok, err := wo.EvaluatePolicyFor(s.rules, candidate)
	if err != nil {
		return false
	}
	return ok
}

// candidate is a work order seen with a provisional storage assignment.
type candidate struct {
	input map[string]interface{}
}

func (c candidate) PolicyInput() map[string]interface{} {
	return c.input
}

func candidateSubject(wo *engine.WorkOrder, e Entry, free int64) policy.Subject {
	input := wo.PolicyInput()
	storage := map[string]interface{}{
		"id":         e.ID,
		"free_bytes": free,
	}
	if groups := e.FunctionGroups(); len(groups) > 0 {
		list := make([]interface{}, 0, len(groups))
		for _, g := range sortedCopy(groups) {
			list = append(list, g)
		}
		storage["function_groups"] = list
	}
	input["storage"] = storage
	return candidate{input: input}
}

// String renders the selection for logs and the CLI.
func (s Selection) String() string {
	if !s.Found() {
		return fmt.Sprintf("work order #%d: no storage", s.WorkOrder)
	}
	out := fmt.Sprintf("work order #%d: %s via %s", s.WorkOrder, s.BackendID, s.Step)
	if s.ProgressReset {
		out += " (progress reset)"
	}
	return out
}
