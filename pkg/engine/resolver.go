package engine

import (
	"github.com/rs/zerolog"
)

// TriggerResolver classifies trigger events into TriggerContexts.
type TriggerResolver struct {
	logger zerolog.Logger
}

// NewTriggerResolver creates a resolver that logs degraded events to logger.
func NewTriggerResolver(logger zerolog.Logger) *TriggerResolver {
	return &TriggerResolver{logger: logger.With().Str("component", "trigger_resolver").Logger()}
}

// Resolve classifies event. It never fails: unrecognized kinds and unknown
// cadences resolve to the manual default, which enables every lane with the
// critical profile.
func (r *TriggerResolver) Resolve(event TriggerEvent) TriggerContext {
	groupKey := event.GroupKey
	if groupKey == "" {
		groupKey = DefaultGroupKey
	}

	kind, ok := ParseTriggerKind(string(event.Kind))
	if !ok {
		r.logger.Warn().
			Str("kind", string(event.Kind)).
			Msg("Unrecognized trigger kind, using manual defaults")
		return manualDefault(groupKey)
	}

	switch kind {
	case TriggerPullRequest, TriggerMergeGroup:
		return TriggerContext{class: TriggerClassChange, kind: kind, groupKey: groupKey}

	case TriggerSchedule:
		switch event.CadenceID {
		case CadenceDaily:
			return TriggerContext{class: TriggerClassDaily, kind: kind, cadence: CadenceDaily, groupKey: groupKey}
		case CadenceWeekly:
			return TriggerContext{class: TriggerClassWeekly, kind: kind, cadence: CadenceWeekly, groupKey: groupKey}
		}
		r.logger.Warn().
			Str("cadence", string(event.CadenceID)).
			Msg("Unknown schedule cadence, using manual defaults")
		return manualDefault(groupKey)

	default:
		tc := TriggerContext{class: TriggerClassManual, kind: TriggerManual, groupKey: groupKey}
		if event.ManualInputs != nil {
			inputs := *event.ManualInputs
			tc.manual = &inputs
		}
		return tc
	}
}

func manualDefault(groupKey string) TriggerContext {
	return TriggerContext{class: TriggerClassManual, kind: TriggerManual, groupKey: groupKey}
}
