package kubernetes

import (
	"context"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// ConfigMapSource reads extension to MIME entries from the data of a
// ConfigMap, one key per extension:
//
//	data:
//	  css: text/css
//	  svg: image/svg+xml
type ConfigMapSource struct {
	clientset kubernetes.Interface
	namespace string
	name      string
}

func NewConfigMapSource(clientset kubernetes.Interface, namespace, name string) *ConfigMapSource {
	return &ConfigMapSource{
		clientset: clientset,
		namespace: namespace,
		name:      name,
	}
}

// Load fetches the ConfigMap once. The table is read-only afterwards, so
// there is no watch.
func (s *ConfigMapSource) Load(ctx context.Context) (map[string]string, error) {
	cm, err := s.clientset.CoreV1().ConfigMaps(s.namespace).Get(ctx, s.name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get configmap %s/%s: %w", s.namespace, s.name, err)
	}

	entries := make(map[string]string, len(cm.Data))
	for ext, mime := range cm.Data {
		entries[ext] = mime
	}
	return entries, nil
}
