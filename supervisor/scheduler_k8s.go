package supervisor

import (
	"context"
	"os"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/rest"
	metricsv1beta1 "k8s.io/metrics/pkg/client/clientset/versioned"

	"github.com/como-project/como/cmn"
)

// podNamespaceEnv is the gate SPEC_FULL.md's "Kubernetes-aware
// scheduling" section names: the resource is only added when the node
// runs under Kubernetes.
const podNamespaceEnv = "POD_NAMESPACE"

// MaybeK8sResource builds the optional pod-memory Resource when
// POD_NAMESPACE is set, or returns ok=false when it isn't — the scheduler
// runs identically without it, Kubernetes being present is never load
// bearing for Overload detection (spec.md §4.4/§7 remains authoritative).
func MaybeK8sResource(podName string, memLimitBytes int64) (Resource, bool) {
	namespace := os.Getenv(podNamespaceEnv)
	if namespace == "" {
		return Resource{}, false
	}

	cfg, err := rest.InClusterConfig()
	if err != nil {
		cmn.Warnf("scheduler: k8s in-cluster config unavailable, skipping pod metrics: %v", err)
		return Resource{}, false
	}
	clientset, err := metricsv1beta1.NewForConfig(cfg)
	if err != nil {
		cmn.Warnf("scheduler: k8s metrics client: %v", err)
		return Resource{}, false
	}

	return Resource{
		Name: "k8s-pod-memory",
		UsageFraction: func() float64 {
			m, err := clientset.MetricsV1beta1().PodMetricses(namespace).Get(context.Background(), podName, metav1.GetOptions{})
			if err != nil {
				cmn.Warnf("scheduler: fetch pod metrics: %v", err)
				return 0
			}
			if memLimitBytes <= 0 {
				return 0
			}
			var used int64
			for _, c := range m.Containers {
				if q, ok := c.Usage["memory"]; ok {
					used += q.Value()
				}
			}
			return float64(used) / float64(memLimitBytes)
		},
	}, true
}
