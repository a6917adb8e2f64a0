package worker

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"buildstate/internal/store"
	"buildstate/pkg/api"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// RestoreOptions selects what a second worker picks up.
type RestoreOptions struct {
	BuildID string

	// Target caps the resume checkpoint; nil means the build's current checkpoint.
	Target *int

	// RequiredKeys are variables the next stage cannot run without.
	RequiredKeys []string

	// DestDir receives the resume artifact. Empty skips retrieval.
	DestDir string
}

// Restored is a resume context ready to hand to the next stage.
type Restored struct {
	Plan         *api.ResumePlanResponse
	ArtifactPath string

	// Variables holds raw values, sensitive ones included.
	Variables map[string]string
}

// Env returns the variables plus the resume checkpoint and artifact path as
// stage environment.
func (r *Restored) Env() map[string]string {
	env := make(map[string]string, len(r.Variables)+2)
	for k, v := range r.Variables {
		env[k] = v
	}
	env[EnvResumeCheckpoint] = strconv.Itoa(r.Plan.ResumeCheckpoint)
	if r.ArtifactPath != "" {
		env[EnvArtifactPath] = r.ArtifactPath
	}
	return env
}

// Restore plans a resume, fetches and verifies the resume artifact and
// loads the required variables. A checksum mismatch leaves nothing in
// DestDir and is returned as is.
func (r *Runner) Restore(ctx context.Context, opts RestoreOptions) (*Restored, error) {
	ctx, span := otel.Tracer("stage-runner").Start(ctx, "restore")
	defer span.End()
	span.SetAttributes(attribute.String("build.id", opts.BuildID))

	plan, err := r.controller.PlanResume(ctx, opts.BuildID, opts.Target, opts.RequiredKeys)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to plan resume: %w", err)
	}
	span.SetAttributes(attribute.Int("resume_checkpoint", plan.ResumeCheckpoint))

	out := &Restored{Plan: plan, Variables: make(map[string]string, len(plan.RequiredVariables))}

	if plan.Artifact != nil && opts.DestDir != "" {
		if r.retriever == nil {
			return nil, errors.New("resume artifact present but no retriever configured")
		}
		a, err := toStoreArtifact(plan.Artifact)
		if err != nil {
			return nil, err
		}
		res, err := r.retriever.Retrieve(ctx, a, filepath.Join(opts.DestDir, artifactFileName(plan.Artifact)))
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		out.ArtifactPath = res.Path
	}

	for _, v := range plan.RequiredVariables {
		value := v.Value
		if v.Sensitive {
			raw, err := r.controller.GetVariable(ctx, opts.BuildID, v.Key)
			if err != nil {
				return nil, fmt.Errorf("failed to load variable %s: %w", v.Key, err)
			}
			value = raw.Value
		}
		out.Variables[v.Key] = value
	}

	r.logger.InfoContext(ctx, "resume context restored",
		"build_id", opts.BuildID,
		"resume_checkpoint", plan.ResumeCheckpoint,
		"artifact", out.ArtifactPath,
		"variables", len(out.Variables),
	)
	return out, nil
}

func artifactFileName(a *api.ArtifactResponse) string {
	if a.Name != nil && plainFileName(*a.Name) {
		return *a.Name
	}
	// Storage paths are URLs or slash-separated keys on every backend.
	base := path.Base(strings.TrimRight(a.StoragePath, "/"))
	if a.Name == nil || *a.Name == "" {
		if plainFileName(base) {
			return base
		}
	}
	return "checkpoint-" + strconv.Itoa(a.Checkpoint)
}

// plainFileName reports whether name can be joined to a directory without
// leaving it.
func plainFileName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && !strings.ContainsRune(name, filepath.Separator)
}

func toStoreArtifact(a *api.ArtifactResponse) (*store.Artifact, error) {
	id, err := uuid.Parse(a.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid artifact id %q: %w", a.ID, err)
	}
	buildID, err := uuid.Parse(a.BuildID)
	if err != nil {
		return nil, fmt.Errorf("invalid build id %q: %w", a.BuildID, err)
	}
	return &store.Artifact{
		ID:          id,
		BuildID:     buildID,
		Checkpoint:  a.Checkpoint,
		Name:        a.Name,
		StorageType: a.StorageType,
		StoragePath: a.StoragePath,
		SizeBytes:   a.SizeBytes,
		Checksum:    a.Checksum,
		Resumable:   a.Resumable,
		Final:       a.Final,
		CreatedBy:   a.CreatedBy,
		CreatedAt:   a.CreatedAt,
	}, nil
}
