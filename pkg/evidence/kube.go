package evidence

import (
	"context"
	"fmt"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/types"
)

// KubeCollector pulls pod statuses and events from the target cluster via
// the Kubernetes API. It only ever reads.
type KubeCollector struct {
	client kubernetes.Interface
}

// NewKubeCollector creates a collector backed by the given client.
func NewKubeCollector(client kubernetes.Interface) *KubeCollector {
	return &KubeCollector{client: client}
}

// Collect gathers pod states and warning events for the target namespace.
func (c *KubeCollector) Collect(ctx context.Context, target types.Target, window Window) (*Snapshot, error) {
	snap := &Snapshot{
		Target:      target,
		Window:      window,
		CollectedAt: time.Now().UTC(),
	}

	pods, err := c.client.CoreV1().Pods(target.Namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, types.TransientErr("evidence.collect.pods", err)
	}
	for i := range pods.Items {
		pod := &pods.Items[i]
		if target.Resource != "" && !strings.HasPrefix(pod.Name, target.Resource) {
			continue
		}
		snap.Pods = append(snap.Pods, podState(pod))
	}

	events, err := c.client.CoreV1().Events(target.Namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, types.TransientErr("evidence.collect.events", err)
	}
	for _, ev := range events.Items {
		last := ev.LastTimestamp.Time
		if last.IsZero() {
			last = ev.EventTime.Time
		}
		if !window.From.IsZero() && last.Before(window.From) {
			continue
		}
		if target.Resource != "" && !strings.HasPrefix(ev.InvolvedObject.Name, target.Resource) {
			continue
		}
		snap.Events = append(snap.Events, KubeEvent{
			Reason:   ev.Reason,
			Kind:     ev.InvolvedObject.Kind,
			Object:   fmt.Sprintf("%s/%s", ev.InvolvedObject.Kind, ev.InvolvedObject.Name),
			Message:  ev.Message,
			Count:    ev.Count,
			LastSeen: last,
		})
	}

	return snap, nil
}

func podState(pod *corev1.Pod) PodState {
	ps := PodState{
		Name:  pod.Name,
		Phase: string(pod.Status.Phase),
	}
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady && cond.Status == corev1.ConditionTrue {
			ps.Ready = true
		}
	}
	for _, cs := range pod.Status.ContainerStatuses {
		ps.Restarts += cs.RestartCount
		if cs.State.Waiting != nil && ps.WaitingReason == "" {
			ps.WaitingReason = cs.State.Waiting.Reason
		}
		if cs.State.Terminated != nil && ps.TerminatedReason == "" {
			ps.TerminatedReason = cs.State.Terminated.Reason
		}
		if cs.LastTerminationState.Terminated != nil && ps.TerminatedReason == "" {
			ps.TerminatedReason = cs.LastTerminationState.Terminated.Reason
		}
	}
	return ps
}
