package handlers

import (
	"buildstate/internal/store"
	"buildstate/internal/tracker"
	"buildstate/pkg/api"
)

func toBuildResponse(b *store.Build) api.BuildResponse {
	return api.BuildResponse{
		ID:                b.ID.String(),
		BuildNumber:       b.BuildNumber,
		Platform:          b.Platform,
		OSVersion:         b.OSVersion,
		ImageType:         b.ImageType,
		Description:       b.Description,
		Metadata:          b.Metadata,
		CurrentCheckpoint: b.CurrentCheckpoint,
		StartCheckpoint:   b.StartCheckpoint,
		Status:            string(b.Status),
		Owner:             b.Owner,
		Version:           b.Version,
		StartTime:         b.StartTime,
		EndTime:           b.EndTime,
		CreatedAt:         b.CreatedAt,
		UpdatedAt:         b.UpdatedAt,
	}
}

func toLedgerEntryResponse(e *store.CheckpointEntry) api.LedgerEntryResponse {
	return api.LedgerEntryResponse{
		ID:         e.ID,
		BuildID:    e.BuildID.String(),
		Checkpoint: e.Checkpoint,
		Status:     string(e.Status),
		StartTime:  e.StartTime,
		EndTime:    e.EndTime,
		DurationMs: e.DurationMs,
		Message:    e.Message,
		Metadata:   e.Metadata,
		RetryCount: e.RetryCount,
		CreatedBy:  e.CreatedBy,
		CreatedAt:  e.CreatedAt,
	}
}

func toFailureResponse(f *store.FailureRecord) api.FailureResponse {
	return api.FailureResponse{
		ID:             f.ID.String(),
		BuildID:        f.BuildID.String(),
		Checkpoint:     f.Checkpoint,
		Category:       f.Category,
		Message:        f.Message,
		Detail:         f.Detail,
		Component:      f.Component,
		RetryAttempt:   f.RetryAttempt,
		Resolved:       f.Resolved,
		ResolutionNote: f.ResolutionNote,
		ResolvedAt:     f.ResolvedAt,
		ResolvedBy:     f.ResolvedBy,
		CreatedBy:      f.CreatedBy,
		CreatedAt:      f.CreatedAt,
	}
}

func toArtifactResponse(a *store.Artifact) api.ArtifactResponse {
	return api.ArtifactResponse{
		ID:          a.ID.String(),
		BuildID:     a.BuildID.String(),
		Checkpoint:  a.Checkpoint,
		Name:        a.Name,
		StorageType: a.StorageType,
		StoragePath: a.StoragePath,
		SizeBytes:   a.SizeBytes,
		Checksum:    a.Checksum,
		Metadata:    a.Metadata,
		Resumable:   a.Resumable,
		Final:       a.Final,
		CreatedBy:   a.CreatedBy,
		CreatedAt:   a.CreatedAt,
	}
}

func toVariableResponse(v *store.Variable) api.VariableResponse {
	return api.VariableResponse{
		Key:               v.Key,
		Value:             v.Value,
		Type:              v.Type,
		Sensitive:         v.Sensitive,
		RequiredForResume: v.RequiredForResume,
		SetAtCheckpoint:   v.SetAtCheckpoint,
		CreatedAt:         v.CreatedAt,
		UpdatedAt:         v.UpdatedAt,
	}
}

func toResumePlanResponse(p *tracker.ResumePlan) api.ResumePlanResponse {
	resp := api.ResumePlanResponse{
		Build:                toBuildResponse(p.Build),
		ResumeCheckpoint:     p.ResumeCheckpoint,
		RequiredVariables:    make([]api.VariableResponse, 0, len(p.RequiredVariables)),
		LastFailedCheckpoint: p.LastFailedCheckpoint,
	}
	if p.Artifact != nil {
		a := toArtifactResponse(p.Artifact)
		resp.Artifact = &a
	}
	for i := range p.RequiredVariables {
		resp.RequiredVariables = append(resp.RequiredVariables, toVariableResponse(&p.RequiredVariables[i]))
	}
	return resp
}
