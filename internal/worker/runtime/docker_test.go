package runtime

import (
	"testing"

	"github.com/docker/docker/api/types/mount"
)

func TestContainerSpec(t *testing.T) {
	cfg, hostCfg, name := containerSpec(StartOptions{
		Name:    "Build 7 CP 40",
		Image:   "registry.local/rhel9-builder:latest",
		Command: []string{"make", "disk"},
		Env:     map[string]string{"BUILDSTATE_CHECKPOINT": "40"},
		WorkDir: "/var/lib/buildstate/b7",
		Labels:  map[string]string{"buildstate/checkpoint": "40"},
	})

	if name != "build-7-cp-40" {
		t.Errorf("unexpected container name %q", name)
	}
	if cfg.Labels["app.kubernetes.io/managed-by"] != ManagedBy || cfg.Labels["buildstate/checkpoint"] != "40" {
		t.Errorf("unexpected labels %v", cfg.Labels)
	}
	if len(cfg.Env) != 1 || cfg.Env[0] != "BUILDSTATE_CHECKPOINT=40" {
		t.Errorf("unexpected env %v", cfg.Env)
	}
	if cfg.WorkingDir != ContainerWorkDir {
		t.Errorf("expected working dir %s, got %s", ContainerWorkDir, cfg.WorkingDir)
	}
	if len(hostCfg.Mounts) != 1 || hostCfg.Mounts[0].Type != mount.TypeBind || hostCfg.Mounts[0].Source != "/var/lib/buildstate/b7" {
		t.Errorf("unexpected mounts %+v", hostCfg.Mounts)
	}
}

func TestContainerSpec_NoWorkDir(t *testing.T) {
	cfg, hostCfg, name := containerSpec(StartOptions{Image: "alpine", Command: []string{"true"}})

	if name != "" {
		t.Errorf("expected docker to pick the name, got %q", name)
	}
	if cfg.WorkingDir != "" || len(hostCfg.Mounts) != 0 {
		t.Errorf("expected no mounts, got %+v", hostCfg.Mounts)
	}
}
