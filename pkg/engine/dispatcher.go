package engine

import (
	"fmt"
	"strings"

	"github.com/openfroyo/lanekeeper/pkg/tagexpr"
)

// LaneDispatcher expands a profile into per-lane execution plans.
type LaneDispatcher struct{}

// NewLaneDispatcher creates a dispatcher.
func NewLaneDispatcher() *LaneDispatcher {
	return &LaneDispatcher{}
}

// Plan returns one plan per lane, in configured order. Concurrency and retries
// are copied unchanged; the lane expression is the profile expression ANDed
// with the lane's suffix.
func (d *LaneDispatcher) Plan(profile TestProfile, specs []LaneSpec) ([]LaneExecutionPlan, error) {
	base, err := tagexpr.Parse(profile.TagExpression)
	if err != nil {
		return nil, NewConfigurationError("invalid profile expression", err).
			WithCode(ErrCodeInvalidTagExpression).
			WithField("tag_expression", profile.TagExpression)
	}

	if err := ValidateLaneSpecs(specs); err != nil {
		return nil, err
	}

	plans := make([]LaneExecutionPlan, 0, len(specs))
	for _, spec := range specs {
		expr := base
		if strings.TrimSpace(spec.TagFilterSuffix) != "" {
			// Already validated by ValidateLaneSpecs.
			expr = tagexpr.And(base, tagexpr.MustParse(spec.TagFilterSuffix))
		}

		plans = append(plans, LaneExecutionPlan{
			LaneID:         spec.ID,
			TagExpression:  expr.String(),
			RequiredTags:   tagexpr.RequiredTags(expr),
			Concurrency:    spec.Concurrency,
			Retries:        spec.Retries,
			TimeoutMinutes: spec.TimeoutMinutes,
			Enabled:        profile.Enabled(spec.Switch()),
			ReportPath:     spec.Report(),
			ArtifactName:   spec.Artifact(),
			Remote:         spec.Remote,
			Costly:         spec.Costly,
		})
	}

	return plans, nil
}

// ValidateLaneSpecs checks lane ids, concurrency, toggles and suffixes.
func ValidateLaneSpecs(specs []LaneSpec) error {
	if len(specs) == 0 {
		return NewConfigurationError("no lanes configured", nil).
			WithCode(ErrCodeInvalidLaneSpec).
			WithField("lanes", "")
	}

	seen := make(map[string]bool, len(specs))
	for i, spec := range specs {
		field := fmt.Sprintf("lanes[%d]", i)

		if strings.TrimSpace(spec.ID) == "" || strings.ContainsAny(spec.ID, " \t/\\") {
			return NewConfigurationError("lane id must be non-empty and contain no spaces or slashes", nil).
				WithCode(ErrCodeInvalidLaneSpec).
				WithField(field+".id", spec.ID)
		}
		if seen[spec.ID] {
			return NewConfigurationError("duplicate lane id", nil).
				WithCode(ErrCodeInvalidLaneSpec).
				WithField(field+".id", spec.ID).
				WithLane(spec.ID)
		}
		seen[spec.ID] = true

		if spec.Concurrency == 0 {
			return NewConfigurationError("concurrency must be positive", nil).
				WithCode(ErrCodeInvalidLaneSpec).
				WithField(field+".concurrency", "0").
				WithLane(spec.ID)
		}

		switch spec.Toggle {
		case "", LaneToggleBinaries, LaneToggleFFI:
		default:
			return NewConfigurationError("unknown lane toggle", nil).
				WithCode(ErrCodeInvalidLaneSpec).
				WithField(field+".toggle", string(spec.Toggle)).
				WithLane(spec.ID)
		}

		if strings.TrimSpace(spec.TagFilterSuffix) != "" {
			if err := tagexpr.Validate(spec.TagFilterSuffix); err != nil {
				return NewConfigurationError("invalid lane tag filter", err).
					WithCode(ErrCodeInvalidLaneSpec).
					WithField(field+".tag_filter_suffix", spec.TagFilterSuffix).
					WithLane(spec.ID)
			}
		}
	}
	return nil
}

// DefaultLanes returns the built-in binaries and FFI lanes. FFI scenarios
// share process-level native state and must run serially.
func DefaultLanes() []LaneSpec {
	return []LaneSpec{
		{
			ID:              BinariesLaneID,
			TagFilterSuffix: "NOT ffi AND NOT broken",
			Concurrency:     5,
			Retries:         2,
			TimeoutMinutes:  90,
			Toggle:          LaneToggleBinaries,
			ReportPath:      "reports/binaries-junit.xml",
			ArtifactName:    "junit-cucumber",
		},
		{
			ID:              "ffi",
			TagFilterSuffix: "ffi AND NOT broken",
			Concurrency:     1,
			Retries:         2,
			TimeoutMinutes:  60,
			Toggle:          LaneToggleFFI,
			ReportPath:      "reports/ffi-junit.xml",
			ArtifactName:    "junit-ffi-cucumber",
			Costly:          true,
		},
	}
}
