// Package main is the entry point for the buildstate stage runner.
// It runs one stage command at a checkpoint and reports the outcome to the
// controller, optionally restoring a resume context first.
//
//	worker --build <id> --checkpoint 40 --name configure [--resume] -- make configure
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"buildstate/internal/artifact"
	"buildstate/internal/config"
	"buildstate/internal/logger"
	"buildstate/internal/observability"
	"buildstate/internal/worker"
	"buildstate/internal/worker/runtime"
	"buildstate/pkg/client"
)

type stageFlags struct {
	buildID    string
	checkpoint int
	name       string
	image      string
	workDir    string
	terminal   bool

	resume  bool
	target  int
	require string
	destDir string

	outputPath        string
	outputLocal       string
	outputStorageType string
	outputName        string
	resumable         bool
	final             bool
}

func main() {
	configPath := flag.String("config", "", "Path to config file (default: buildstate.yaml in current directory)")
	var f stageFlags
	flag.StringVar(&f.buildID, "build", "", "Build ID (required)")
	flag.IntVar(&f.checkpoint, "checkpoint", -1, "Checkpoint this stage reports (required)")
	flag.StringVar(&f.name, "name", "", "Stage name")
	flag.StringVar(&f.image, "image", "", "Container image (docker and kubernetes runtimes)")
	flag.StringVar(&f.workDir, "workdir", "", "Working directory for the stage")
	flag.BoolVar(&f.terminal, "terminal", false, "Complete the build when the stage succeeds")
	flag.BoolVar(&f.resume, "resume", false, "Restore the resume context before running")
	flag.IntVar(&f.target, "target", -1, "Highest checkpoint to resume from (default: current)")
	flag.StringVar(&f.require, "require", "", "Comma-separated variables the stage needs")
	flag.StringVar(&f.destDir, "dest", "", "Directory for the restored artifact (default: workdir)")
	flag.StringVar(&f.outputPath, "output", "", "Storage path of the artifact this stage produces")
	flag.StringVar(&f.outputLocal, "output-file", "", "Local copy of the output to hash and size")
	flag.StringVar(&f.outputStorageType, "output-storage", "file", "Storage type of the output")
	flag.StringVar(&f.outputName, "output-name", "", "Artifact name")
	flag.BoolVar(&f.resumable, "resumable", true, "Mark the output resumable")
	flag.BoolVar(&f.final, "final", false, "Mark the output final")
	flag.Parse()

	cfg, err := config.LoadRunner(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewWith(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(log)

	if err := run(cfg, log, f, flag.Args()); err != nil {
		log.Error("stage runner failed", "error", err)
		if errors.Is(err, worker.ErrStageFailed) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger, f stageFlags, command []string) error {
	if f.buildID == "" || f.checkpoint < 0 {
		return errors.New("--build and --checkpoint are required")
	}
	if len(command) == 0 {
		return errors.New("a stage command is required after --")
	}
	if cfg.APIToken == "" {
		return errors.New("api token is required (env: BUILDSTATE_TOKEN)")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracer, err := observability.InitTracer(ctx, "buildstate-worker", cfg.OTELEndpoint)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Warn("failed to shutdown tracer", "error", err)
		}
	}()

	rt, err := newRuntime(cfg, log)
	if err != nil {
		return err
	}

	var s3 artifact.Fetcher
	if cfg.S3Endpoint != "" || cfg.S3Region != "" {
		s3Fetcher, err := artifact.NewS3Fetcher(artifact.S3Config{
			Region:         cfg.S3Region,
			Endpoint:       cfg.S3Endpoint,
			AccessKey:      cfg.S3AccessKey,
			SecretKey:      cfg.S3SecretKey,
			ForcePathStyle: cfg.S3ForcePathStyle,
		})
		if err != nil {
			return fmt.Errorf("failed to create s3 fetcher: %w", err)
		}
		s3 = s3Fetcher
	}
	retriever := artifact.NewRetriever(artifact.DefaultRegistry(cfg.ArtifactRoot, s3), log)

	api := client.New(cfg.ControllerURL, cfg.APIToken)
	runner := worker.NewRunner(api, rt, retriever, worker.RunnerConfig{StageTimeout: cfg.StageTimeout}, log)

	stage := worker.Stage{
		BuildID:    f.buildID,
		Checkpoint: f.checkpoint,
		Name:       f.name,
		Image:      f.image,
		Command:    command,
		WorkDir:    f.workDir,
		Terminal:   f.terminal,
	}

	if f.resume {
		opts := worker.RestoreOptions{BuildID: f.buildID, DestDir: f.destDir}
		if opts.DestDir == "" {
			opts.DestDir = f.workDir
		}
		if f.target >= 0 {
			opts.Target = &f.target
		}
		for _, k := range strings.Split(f.require, ",") {
			if k = strings.TrimSpace(k); k != "" {
				opts.RequiredKeys = append(opts.RequiredKeys, k)
			}
		}

		restored, err := runner.Restore(ctx, opts)
		if err != nil {
			return fmt.Errorf("failed to restore resume context: %w", err)
		}
		stage.Env = restored.Env()
	}

	if f.outputPath != "" {
		stage.Output = &worker.StageOutput{
			Name:        f.outputName,
			StorageType: f.outputStorageType,
			StoragePath: f.outputPath,
			LocalPath:   f.outputLocal,
			Resumable:   f.resumable,
			Final:       f.final,
		}
	}

	res, err := runner.RunStage(ctx, stage)
	if err != nil {
		return err
	}
	log.Info("stage finished", "exit_code", res.ExitCode, "duration", res.Duration)
	return nil
}

func newRuntime(cfg *config.Config, log *slog.Logger) (runtime.Runtime, error) {
	switch cfg.Runtime {
	case "docker":
		rt, err := runtime.NewDockerRuntime(log)
		if err != nil {
			return nil, fmt.Errorf("failed to create docker runtime: %w", err)
		}
		log.Info("using docker runtime")
		return rt, nil
	case "kubernetes":
		rt, err := runtime.NewKubernetesRuntime(runtime.KubernetesConfig{
			Namespace:          cfg.KubernetesNamespace,
			ServiceAccount:     cfg.KubernetesServiceAccount,
			DefaultCPULimit:    cfg.KubernetesCPULimit,
			DefaultMemoryLimit: cfg.KubernetesMemoryLimit,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create kubernetes runtime: %w", err)
		}
		log.Info("using kubernetes runtime", "namespace", cfg.KubernetesNamespace)
		return rt, nil
	default:
		log.Info("using exec runtime", "workdir", cfg.RuntimeWorkDir)
		return runtime.NewExecRuntime(cfg.RuntimeWorkDir), nil
	}
}
