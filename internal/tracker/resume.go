package tracker

import (
	"context"
	"errors"
	"sort"
	"strings"

	"buildstate/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// ResumePlan tells a worker where to pick a build up.
type ResumePlan struct {
	Build            *store.Build
	ResumeCheckpoint int

	// Artifact is the latest resumable artifact at ResumeCheckpoint, if any.
	Artifact *store.Artifact

	// RequiredVariables are masked; fetch sensitive values with GetVariable.
	RequiredVariables []store.Variable

	LastFailedCheckpoint *int
}

// PlanResume finds the highest completed checkpoint at or below target
// (default: the build's current checkpoint) and the context needed to
// continue from it. requiredKeys adds caller-declared variables to those
// flagged required_for_resume.
func (s *Service) PlanResume(ctx context.Context, c Caller, buildID uuid.UUID, target *int, requiredKeys []string) (_ *ResumePlan, err error) {
	ctx, span := s.start(ctx, "PlanResume", attribute.String("build.id", buildID.String()))
	defer func() { finish(span, err) }()

	if err := authorize(c, store.PermissionRead); err != nil {
		return nil, err
	}
	b, err := s.loadBuild(ctx, buildID)
	if err != nil {
		return nil, err
	}

	upTo := b.CurrentCheckpoint
	if target != nil {
		if err := checkCheckpoint(buildID, *target); err != nil {
			return nil, err
		}
		upTo = *target
	}

	cp, err := s.store.HighestCompleted(ctx, buildID, upTo)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(KindNoResumePoint, buildID, "no completed checkpoint at or below %d", upTo)
		}
		return nil, storeError(buildID, "find resume checkpoint", err)
	}

	plan := &ResumePlan{Build: b, ResumeCheckpoint: cp}

	a, err := s.store.LatestArtifact(ctx, buildID, cp, true)
	switch {
	case err == nil:
		plan.Artifact = a
	case !errors.Is(err, store.ErrNotFound):
		return nil, storeError(buildID, "find resume artifact", err)
	}

	vars, err := s.requiredVariables(ctx, buildID, requiredKeys)
	if err != nil {
		return nil, err
	}
	plan.RequiredVariables = vars

	failed, err := s.store.LastFailedCheckpoint(ctx, buildID)
	switch {
	case err == nil:
		plan.LastFailedCheckpoint = &failed
	case !errors.Is(err, store.ErrNotFound):
		return nil, storeError(buildID, "find last failure", err)
	}

	span.SetAttributes(attribute.Int("resume_checkpoint", cp))
	s.logger.InfoContext(ctx, "resume planned",
		"build_id", buildID, "resume_checkpoint", cp, "has_artifact", plan.Artifact != nil, "variables", len(vars))
	return plan, nil
}

// requiredVariables collects flagged and caller-named variables, failing
// with KindIncompleteResumeContext if any is absent.
func (s *Service) requiredVariables(ctx context.Context, buildID uuid.UUID, extra []string) ([]store.Variable, error) {
	flagged, err := s.store.ListVariables(ctx, buildID, true)
	if err != nil {
		return nil, storeError(buildID, "list required variables", err)
	}

	byKey := make(map[string]store.Variable, len(flagged)+len(extra))
	var missing []string
	for _, v := range flagged {
		byKey[v.Key] = v
		if !v.Present() {
			missing = append(missing, v.Key)
		}
	}

	for _, key := range extra {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, seen := byKey[key]; seen {
			continue
		}
		v, err := s.store.GetVariable(ctx, buildID, key)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				return nil, storeError(buildID, "load variable", err)
			}
			byKey[key] = store.Variable{BuildID: buildID, Key: key}
			missing = append(missing, key)
			continue
		}
		byKey[key] = *v
		if !v.Present() {
			missing = append(missing, key)
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &Error{
			Kind:    KindIncompleteResumeContext,
			BuildID: buildID,
			Missing: missing,
			Message: "required variables absent: " + strings.Join(missing, ", "),
		}
	}

	out := make([]store.Variable, 0, len(byKey))
	for _, v := range byKey {
		out = append(out, mask(v))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
