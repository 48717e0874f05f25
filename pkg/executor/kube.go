package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	policyv1 "k8s.io/api/policy/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8stypes "k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"

	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/types"
)

const restartedAtAnnotation = "guardian.io/restarted-at"

// KubeApplier translates actions into Kubernetes API calls and captures
// the prior state needed to reverse them.
type KubeApplier struct {
	client kubernetes.Interface
}

// NewKubeApplier creates an applier over a Kubernetes clientset.
func NewKubeApplier(client kubernetes.Interface) *KubeApplier {
	return &KubeApplier{client: client}
}

// Apply dispatches on the action kind.
func (a *KubeApplier) Apply(ctx context.Context, action types.Action) (RollbackData, error) {
	switch action.Kind {
	case types.ActionRestart:
		return a.rolloutRestart(ctx, action)
	case types.ActionPatch:
		return a.patchDeployment(ctx, action)
	case types.ActionScale:
		return a.scaleDeployment(ctx, action)
	case types.ActionCordon:
		return a.cordonNode(ctx, action)
	case types.ActionDrain:
		return a.drainNode(ctx, action)
	case types.ActionNetworkPatch:
		return a.networkPatch(ctx, action)
	default:
		return nil, types.PermanentErr("apply", fmt.Errorf("unsupported action kind %q", action.Kind))
	}
}

// Rollback reverses an applied action using its captured state.
func (a *KubeApplier) Rollback(ctx context.Context, action types.Action, data RollbackData) error {
	switch action.Kind {
	case types.ActionRestart:
		// A restart cannot be un-restarted; the rollout simply stands.
		return nil
	case types.ActionPatch:
		return a.rollbackPatch(ctx, action, data)
	case types.ActionNetworkPatch:
		return a.rollbackNetworkPatch(ctx, action, data)
	case types.ActionScale:
		return a.rollbackScale(ctx, action, data)
	case types.ActionCordon, types.ActionDrain:
		return a.rollbackCordon(ctx, action, data)
	default:
		return types.PermanentErr("rollback", fmt.Errorf("unsupported action kind %q", action.Kind))
	}
}

// resourceName splits "deployment/checkout" into its parts.
func resourceName(target types.Target) (kind, name string, err error) {
	parts := strings.SplitN(target.Resource, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", types.PermanentErr("apply",
			fmt.Errorf("malformed resource %q, want kind/name", target.Resource))
	}
	return parts[0], parts[1], nil
}

func (a *KubeApplier) rolloutRestart(ctx context.Context, action types.Action) (RollbackData, error) {
	_, name, err := resourceName(action.Target)
	if err != nil {
		return nil, err
	}

	patch := fmt.Sprintf(
		`{"spec":{"template":{"metadata":{"annotations":{%q:%q}}}}}`,
		restartedAtAnnotation, time.Now().UTC().Format(time.RFC3339))

	_, err = a.client.AppsV1().Deployments(action.Target.Namespace).Patch(
		ctx, name, k8stypes.StrategicMergePatchType, []byte(patch), metav1.PatchOptions{})
	if err != nil {
		return nil, classifyKubeErr("rollout_restart", err)
	}
	return RollbackData{}, nil
}

// patchDeployment adjusts container resources or image. Parameters:
// container (required), and any of memory_limit, memory_request,
// cpu_limit, cpu_request, image.
func (a *KubeApplier) patchDeployment(ctx context.Context, action types.Action) (RollbackData, error) {
	_, name, err := resourceName(action.Target)
	if err != nil {
		return nil, err
	}
	container := action.Parameters["container"]
	if container == "" {
		return nil, types.PermanentErr("patch_deployment", fmt.Errorf("missing container parameter"))
	}

	deploy, err := a.client.AppsV1().Deployments(action.Target.Namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, classifyKubeErr("patch_deployment", err)
	}

	prior := RollbackData{}
	for _, c := range deploy.Spec.Template.Spec.Containers {
		if c.Name != container {
			continue
		}
		prior["image"] = c.Image
		if v, ok := c.Resources.Limits[corev1.ResourceMemory]; ok {
			prior["memory_limit"] = v.String()
		}
		if v, ok := c.Resources.Requests[corev1.ResourceMemory]; ok {
			prior["memory_request"] = v.String()
		}
		if v, ok := c.Resources.Limits[corev1.ResourceCPU]; ok {
			prior["cpu_limit"] = v.String()
		}
		if v, ok := c.Resources.Requests[corev1.ResourceCPU]; ok {
			prior["cpu_request"] = v.String()
		}
	}
	if len(prior) == 0 {
		return nil, types.PermanentErr("patch_deployment",
			fmt.Errorf("container %q not found in %s", container, name))
	}
	prior["container"] = container

	patch, err := containerPatch(container, action.Parameters)
	if err != nil {
		return nil, err
	}
	_, err = a.client.AppsV1().Deployments(action.Target.Namespace).Patch(
		ctx, name, k8stypes.StrategicMergePatchType, patch, metav1.PatchOptions{})
	if err != nil {
		return nil, classifyKubeErr("patch_deployment", err)
	}
	return prior, nil
}

func (a *KubeApplier) rollbackPatch(ctx context.Context, action types.Action, data RollbackData) error {
	_, name, err := resourceName(action.Target)
	if err != nil {
		return err
	}
	container := data["container"]
	if container == "" {
		return types.PermanentErr("rollback", fmt.Errorf("no prior state captured for %s", name))
	}
	patch, err := containerPatch(container, data)
	if err != nil {
		return err
	}
	_, err = a.client.AppsV1().Deployments(action.Target.Namespace).Patch(
		ctx, name, k8stypes.StrategicMergePatchType, patch, metav1.PatchOptions{})
	if err != nil {
		return classifyKubeErr("rollback", err)
	}
	return nil
}

// containerPatch builds a strategic merge patch for one container from
// the recognized parameter keys.
func containerPatch(container string, params map[string]string) ([]byte, error) {
	limits := map[string]string{}
	requests := map[string]string{}
	if v := params["memory_limit"]; v != "" {
		limits["memory"] = v
	}
	if v := params["cpu_limit"]; v != "" {
		limits["cpu"] = v
	}
	if v := params["memory_request"]; v != "" {
		requests["memory"] = v
	}
	if v := params["cpu_request"]; v != "" {
		requests["cpu"] = v
	}

	c := map[string]any{"name": container}
	resources := map[string]any{}
	if len(limits) > 0 {
		resources["limits"] = limits
	}
	if len(requests) > 0 {
		resources["requests"] = requests
	}
	if len(resources) > 0 {
		c["resources"] = resources
	}
	if v := params["image"]; v != "" {
		c["image"] = v
	}
	if len(c) == 1 {
		return nil, types.PermanentErr("patch_deployment", fmt.Errorf("no patchable parameters given"))
	}

	patch := map[string]any{
		"spec": map[string]any{
			"template": map[string]any{
				"spec": map[string]any{
					"containers": []any{c},
				},
			},
		},
	}
	return json.Marshal(patch)
}

func (a *KubeApplier) scaleDeployment(ctx context.Context, action types.Action) (RollbackData, error) {
	_, name, err := resourceName(action.Target)
	if err != nil {
		return nil, err
	}
	replicas, err := strconv.Atoi(action.Parameters["replicas"])
	if err != nil {
		return nil, types.PermanentErr("scale_deployment",
			fmt.Errorf("invalid replicas parameter %q", action.Parameters["replicas"]))
	}

	scale, err := a.client.AppsV1().Deployments(action.Target.Namespace).GetScale(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, classifyKubeErr("scale_deployment", err)
	}
	prior := RollbackData{"replicas": strconv.Itoa(int(scale.Spec.Replicas))}

	scale.Spec.Replicas = int32(replicas)
	_, err = a.client.AppsV1().Deployments(action.Target.Namespace).UpdateScale(ctx, name, scale, metav1.UpdateOptions{})
	if err != nil {
		return nil, classifyKubeErr("scale_deployment", err)
	}
	return prior, nil
}

func (a *KubeApplier) rollbackScale(ctx context.Context, action types.Action, data RollbackData) error {
	_, name, err := resourceName(action.Target)
	if err != nil {
		return err
	}
	replicas, err := strconv.Atoi(data["replicas"])
	if err != nil {
		return types.PermanentErr("rollback", fmt.Errorf("no prior replica count captured"))
	}

	scale, err := a.client.AppsV1().Deployments(action.Target.Namespace).GetScale(ctx, name, metav1.GetOptions{})
	if err != nil {
		return classifyKubeErr("rollback", err)
	}
	scale.Spec.Replicas = int32(replicas)
	_, err = a.client.AppsV1().Deployments(action.Target.Namespace).UpdateScale(ctx, name, scale, metav1.UpdateOptions{})
	if err != nil {
		return classifyKubeErr("rollback", err)
	}
	return nil
}

func (a *KubeApplier) cordonNode(ctx context.Context, action types.Action) (RollbackData, error) {
	_, name, err := resourceName(action.Target)
	if err != nil {
		return nil, err
	}

	node, err := a.client.CoreV1().Nodes().Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, classifyKubeErr("cordon_node", err)
	}
	prior := RollbackData{"unschedulable": strconv.FormatBool(node.Spec.Unschedulable)}
	if node.Spec.Unschedulable {
		return prior, nil
	}

	patch := []byte(`{"spec":{"unschedulable":true}}`)
	_, err = a.client.CoreV1().Nodes().Patch(ctx, name, k8stypes.StrategicMergePatchType, patch, metav1.PatchOptions{})
	if err != nil {
		return nil, classifyKubeErr("cordon_node", err)
	}
	return prior, nil
}

func (a *KubeApplier) rollbackCordon(ctx context.Context, action types.Action, data RollbackData) error {
	_, name, err := resourceName(action.Target)
	if err != nil {
		return err
	}
	// Leave the node cordoned if it was cordoned before we touched it.
	if data["unschedulable"] == "true" {
		return nil
	}
	patch := []byte(`{"spec":{"unschedulable":false}}`)
	_, err = a.client.CoreV1().Nodes().Patch(ctx, name, k8stypes.StrategicMergePatchType, patch, metav1.PatchOptions{})
	if err != nil {
		return classifyKubeErr("rollback", err)
	}
	return nil
}

// drainNode cordons the node, then evicts its non-DaemonSet pods through
// the eviction API so PodDisruptionBudgets are honored.
func (a *KubeApplier) drainNode(ctx context.Context, action types.Action) (RollbackData, error) {
	_, name, err := resourceName(action.Target)
	if err != nil {
		return nil, err
	}

	prior, err := a.cordonNode(ctx, action)
	if err != nil {
		return nil, err
	}

	pods, err := a.client.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{
		FieldSelector: "spec.nodeName=" + name,
	})
	if err != nil {
		return nil, classifyKubeErr("drain_node", err)
	}

	for _, pod := range pods.Items {
		if isDaemonSetPod(&pod) || pod.Status.Phase == corev1.PodSucceeded {
			continue
		}
		eviction := &policyv1.Eviction{
			ObjectMeta: metav1.ObjectMeta{Name: pod.Name, Namespace: pod.Namespace},
		}
		if err := a.client.PolicyV1().Evictions(pod.Namespace).Evict(ctx, eviction); err != nil {
			// 429 means a PodDisruptionBudget is blocking; the caller's
			// retry covers it.
			return nil, classifyKubeErr("drain_node", err)
		}
	}
	return prior, nil
}

func isDaemonSetPod(pod *corev1.Pod) bool {
	for _, ref := range pod.OwnerReferences {
		if ref.Kind == "DaemonSet" {
			return true
		}
	}
	return false
}

// networkPatch applies annotation overrides to a deployment's pod
// template, e.g. forcing a DNS config or sidecar toggle.
func (a *KubeApplier) networkPatch(ctx context.Context, action types.Action) (RollbackData, error) {
	_, name, err := resourceName(action.Target)
	if err != nil {
		return nil, err
	}

	deploy, err := a.client.AppsV1().Deployments(action.Target.Namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, classifyKubeErr("network_patch", err)
	}

	prior := RollbackData{}
	annotations := map[string]string{}
	for k, v := range action.Parameters {
		if !strings.HasPrefix(k, "annotation.") {
			continue
		}
		key := strings.TrimPrefix(k, "annotation.")
		annotations[key] = v
		prior["annotation."+key] = deploy.Spec.Template.Annotations[key]
	}
	if len(annotations) == 0 {
		return nil, types.PermanentErr("network_patch", fmt.Errorf("no annotation.* parameters given"))
	}

	body, err := json.Marshal(map[string]any{
		"spec": map[string]any{
			"template": map[string]any{
				"metadata": map[string]any{"annotations": annotations},
			},
		},
	})
	if err != nil {
		return nil, types.PermanentErr("network_patch", err)
	}
	_, err = a.client.AppsV1().Deployments(action.Target.Namespace).Patch(
		ctx, name, k8stypes.StrategicMergePatchType, body, metav1.PatchOptions{})
	if err != nil {
		return nil, classifyKubeErr("network_patch", err)
	}
	return prior, nil
}

func (a *KubeApplier) rollbackNetworkPatch(ctx context.Context, action types.Action, data RollbackData) error {
	_, name, err := resourceName(action.Target)
	if err != nil {
		return err
	}

	annotations := map[string]any{}
	for k, v := range data {
		if !strings.HasPrefix(k, "annotation.") {
			continue
		}
		key := strings.TrimPrefix(k, "annotation.")
		if v == "" {
			annotations[key] = nil
		} else {
			annotations[key] = v
		}
	}
	if len(annotations) == 0 {
		return types.PermanentErr("rollback", fmt.Errorf("no prior annotations captured for %s", name))
	}

	body, err := json.Marshal(map[string]any{
		"spec": map[string]any{
			"template": map[string]any{
				"metadata": map[string]any{"annotations": annotations},
			},
		},
	})
	if err != nil {
		return types.PermanentErr("rollback", err)
	}
	_, err = a.client.AppsV1().Deployments(action.Target.Namespace).Patch(
		ctx, name, k8stypes.StrategicMergePatchType, body, metav1.PatchOptions{})
	if err != nil {
		return classifyKubeErr("rollback", err)
	}
	return nil
}

// classifyKubeErr maps apiserver errors onto the remediation error
// taxonomy: throttling, timeouts, and server unavailability are
// transient; everything else is permanent.
func classifyKubeErr(op string, err error) error {
	if apierrors.IsTooManyRequests(err) ||
		apierrors.IsServerTimeout(err) ||
		apierrors.IsTimeout(err) ||
		apierrors.IsServiceUnavailable(err) ||
		apierrors.IsInternalError(err) {
		return types.TransientErr(op, err)
	}
	return types.PermanentErr(op, err)
}
