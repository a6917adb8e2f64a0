package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// KubernetesConfig holds configuration for the Kubernetes runtime.
type KubernetesConfig struct {
	// Namespace where stage Jobs are created
	Namespace string
	// ServiceAccount for stage pods (optional)
	ServiceAccount string
	// Resource limits for every stage container
	DefaultCPULimit    string
	DefaultMemoryLimit string
}

// KubernetesRuntime implements the Runtime interface using Kubernetes Jobs.
type KubernetesRuntime struct {
	clientset kubernetes.Interface
	config    KubernetesConfig
	logger    *slog.Logger
}

// KubernetesHandle represents a stage Job. Wait and StreamLogs may run concurrently.
type KubernetesHandle struct {
	clientset kubernetes.Interface
	namespace string
	jobName   string
	logger    *slog.Logger

	mu      sync.Mutex
	podName string
}

const (
	// stageContainer is the name of the single container in a stage pod.
	stageContainer = "stage"

	podPollInterval = 500 * time.Millisecond
)

// NewKubernetesRuntime creates a new Kubernetes-based runtime.
// Tries in-cluster configuration first, falls back to kubeconfig for local development.
func NewKubernetesRuntime(cfg KubernetesConfig, logger *slog.Logger) (*KubernetesRuntime, error) {
	if logger == nil {
		logger = slog.Default()
	}

	config, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := os.Getenv("KUBECONFIG")
		if kubeconfig == "" {
			home, _ := os.UserHomeDir()
			kubeconfig = filepath.Join(home, ".kube", "config")
		}
		logger.Info("in-cluster config not available, using kubeconfig", "path", kubeconfig, "reason", err)
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build kubernetes config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}

	return newKubernetesRuntime(clientset, cfg, logger)
}

func newKubernetesRuntime(clientset kubernetes.Interface, cfg KubernetesConfig, logger *slog.Logger) (*KubernetesRuntime, error) {
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	if cfg.DefaultCPULimit == "" {
		cfg.DefaultCPULimit = "2"
	}
	if cfg.DefaultMemoryLimit == "" {
		cfg.DefaultMemoryLimit = "4Gi"
	}
	for _, q := range []string{cfg.DefaultCPULimit, cfg.DefaultMemoryLimit} {
		if _, err := resource.ParseQuantity(q); err != nil {
			return nil, fmt.Errorf("invalid resource limit %q: %w", q, err)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &KubernetesRuntime{
		clientset: clientset,
		config:    cfg,
		logger:    logger,
	}, nil
}

// Start implements Runtime.Start by creating a Kubernetes Job.
func (k *KubernetesRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	if opts.Image == "" {
		return nil, fmt.Errorf("image is required")
	}
	jobName := resourceName(opts.Name)

	var envVars []corev1.EnvVar
	for key, value := range opts.Env {
		envVars = append(envVars, corev1.EnvVar{Name: key, Value: value})
	}

	resources := corev1.ResourceRequirements{
		Limits: corev1.ResourceList{
			corev1.ResourceCPU:    resource.MustParse(k.config.DefaultCPULimit),
			corev1.ResourceMemory: resource.MustParse(k.config.DefaultMemoryLimit),
		},
	}

	labels := map[string]string{"app.kubernetes.io/managed-by": ManagedBy}
	for key, value := range opts.Labels {
		labels[key] = value
	}
	podLabels := map[string]string{"job-name": jobName}
	for key, value := range labels {
		podLabels[key] = value
	}

	// The stage runner records failures and decides on retries.
	backoffLimit := int32(0)
	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      jobName,
			Namespace: k.config.Namespace,
			Labels:    labels,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoffLimit,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: podLabels},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{
						{
							Name:      stageContainer,
							Image:     opts.Image,
							Command:   opts.Command,
							Env:       envVars,
							Resources: resources,
						},
					},
				},
			},
		},
	}

	if opts.Timeout > 0 {
		deadline := int64(opts.Timeout.Seconds())
		job.Spec.ActiveDeadlineSeconds = &deadline
	}
	if k.config.ServiceAccount != "" {
		job.Spec.Template.Spec.ServiceAccountName = k.config.ServiceAccount
	}

	createdJob, err := k.clientset.BatchV1().Jobs(k.config.Namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes job: %w", err)
	}

	k.logger.InfoContext(ctx, "stage job created", "job", createdJob.Name, "namespace", k.config.Namespace)

	return &KubernetesHandle{
		clientset: k.clientset,
		namespace: k.config.Namespace,
		jobName:   createdJob.Name,
		logger:    k.logger,
	}, nil
}

// Wait polls the stage pod until it succeeds or fails. The exit code comes
// from the stage container; a pod killed by the Job deadline reports its reason.
func (h *KubernetesHandle) Wait(ctx context.Context) (ExitResult, error) {
	pod, err := h.pollPod(ctx, func(p *corev1.Pod) bool {
		return p.Status.Phase == corev1.PodSucceeded || p.Status.Phase == corev1.PodFailed
	})
	if err != nil {
		return ExitResult{ExitCode: -1, Error: err}, err
	}

	if pod.Status.Phase == corev1.PodSucceeded {
		return ExitResult{ExitCode: 0}, nil
	}

	res := ExitResult{ExitCode: -1}
	if term := stageTermination(pod); term != nil {
		res.ExitCode = int(term.ExitCode)
		if term.Reason != "" && term.Reason != "Error" {
			res.Error = fmt.Errorf("container %s: %s", stageContainer, term.Reason)
		}
	}
	if res.Error == nil && pod.Status.Reason != "" {
		res.Error = fmt.Errorf("pod %s: %s", pod.Name, pod.Status.Reason)
	}
	return res, nil
}

func stageTermination(pod *corev1.Pod) *corev1.ContainerStateTerminated {
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.Name == stageContainer && cs.State.Terminated != nil {
			return cs.State.Terminated
		}
	}
	return nil
}

// findPod returns the name of the Job's pod, polling until it exists.
func (h *KubernetesHandle) findPod(ctx context.Context) (string, error) {
	h.mu.Lock()
	name := h.podName
	h.mu.Unlock()
	if name != "" {
		return name, nil
	}

	ticker := time.NewTicker(podPollInterval)
	defer ticker.Stop()

	for {
		pods, err := h.clientset.CoreV1().Pods(h.namespace).List(ctx, metav1.ListOptions{
			LabelSelector: "job-name=" + h.jobName,
		})
		if err != nil {
			return "", fmt.Errorf("failed to list pods for job %s: %w", h.jobName, err)
		}
		if len(pods.Items) > 0 {
			h.mu.Lock()
			h.podName = pods.Items[0].Name
			name = h.podName
			h.mu.Unlock()
			return name, nil
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("no pod for job %s: %w", h.jobName, ctx.Err())
		case <-ticker.C:
		}
	}
}

// pollPod returns the stage pod once done reports true for it.
func (h *KubernetesHandle) pollPod(ctx context.Context, done func(*corev1.Pod) bool) (*corev1.Pod, error) {
	name, err := h.findPod(ctx)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(podPollInterval)
	defer ticker.Stop()

	for {
		pod, err := h.clientset.CoreV1().Pods(h.namespace).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to get pod %s: %w", name, err)
		}
		if done(pod) {
			return pod, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop deletes the Job and its pods. A Job that is already gone is not an error.
func (h *KubernetesHandle) Stop(ctx context.Context) error {
	propagation := metav1.DeletePropagationBackground
	err := h.clientset.BatchV1().Jobs(h.namespace).Delete(ctx, h.jobName, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete job %s: %w", h.jobName, err)
	}
	if h.logger != nil {
		h.logger.InfoContext(ctx, "stage job deleted", "job", h.jobName)
	}
	return nil
}

// StreamLogs follows the stage container's output once it has started.
func (h *KubernetesHandle) StreamLogs(ctx context.Context) (io.ReadCloser, error) {
	pod, err := h.pollPod(ctx, func(p *corev1.Pod) bool {
		return p.Status.Phase != corev1.PodPending
	})
	if err != nil {
		return nil, fmt.Errorf("stage pod for job %s never started: %w", h.jobName, err)
	}

	return h.clientset.CoreV1().Pods(h.namespace).GetLogs(pod.Name, &corev1.PodLogOptions{
		Container: stageContainer,
		Follow:    true,
	}).Stream(ctx)
}
