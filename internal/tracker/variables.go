package tracker

import (
	"context"
	"errors"

	"buildstate/internal/store"

	"github.com/google/uuid"
)

// VariableRequest upserts one resume-context value.
type VariableRequest struct {
	Key               string
	Value             string
	Type              string
	RequiredForResume bool
	Sensitive         bool
	Checkpoint        *int
}

func (s *Service) SetVariable(ctx context.Context, c Caller, buildID uuid.UUID, req VariableRequest) (*store.Variable, error) {
	if err := authorize(c, store.PermissionWrite); err != nil {
		return nil, err
	}
	if !variableKeyPattern.MatchString(req.Key) {
		return nil, newError(KindInvalidArgument, buildID, "invalid variable key %q", req.Key)
	}
	if req.Type == "" {
		req.Type = "string"
	}
	if !VariableTypes[req.Type] {
		return nil, newError(KindInvalidArgument, buildID, "unknown variable type %q", req.Type)
	}
	if req.Checkpoint != nil {
		if err := checkCheckpoint(buildID, *req.Checkpoint); err != nil {
			return nil, err
		}
	}
	if _, err := s.loadBuild(ctx, buildID); err != nil {
		return nil, err
	}

	now := s.opts.Now()
	v := &store.Variable{
		BuildID:           buildID,
		Key:               req.Key,
		Value:             req.Value,
		Type:              req.Type,
		Sensitive:         req.Sensitive,
		RequiredForResume: req.RequiredForResume,
		SetAtCheckpoint:   req.Checkpoint,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.UpsertVariable(ctx, v); err != nil {
		return nil, storeError(buildID, "upsert variable", err)
	}

	s.logger.DebugContext(ctx, "variable set",
		"build_id", buildID, "key", v.Key, "sensitive", v.Sensitive, "required", v.RequiredForResume)
	return v, nil
}

// GetVariable returns the raw value, including sensitive ones.
func (s *Service) GetVariable(ctx context.Context, c Caller, buildID uuid.UUID, key string) (*store.Variable, error) {
	if err := authorize(c, store.PermissionRead); err != nil {
		return nil, err
	}
	if _, err := s.loadBuild(ctx, buildID); err != nil {
		return nil, err
	}
	v, err := s.store.GetVariable(ctx, buildID, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(KindNotFound, buildID, "variable %q is not set", key)
		}
		return nil, storeError(buildID, "load variable", err)
	}
	return v, nil
}

// ListVariables returns the build's variables with sensitive values masked.
func (s *Service) ListVariables(ctx context.Context, c Caller, buildID uuid.UUID, requiredOnly bool) ([]store.Variable, error) {
	if err := authorize(c, store.PermissionRead); err != nil {
		return nil, err
	}
	if _, err := s.loadBuild(ctx, buildID); err != nil {
		return nil, err
	}
	vars, err := s.store.ListVariables(ctx, buildID, requiredOnly)
	if err != nil {
		return nil, storeError(buildID, "list variables", err)
	}
	for i := range vars {
		vars[i] = mask(vars[i])
	}
	return vars, nil
}
