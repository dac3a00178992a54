package factory

import (
	"context"
	"fmt"
	"os"

	k8s "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/hasirciogluhq/xstatic/cmd/httpd/internal/config"
	"github.com/hasirciogluhq/xstatic/cmd/httpd/internal/contenttype"
	"github.com/hasirciogluhq/xstatic/cmd/httpd/internal/contenttype/kubernetes"
	"github.com/hasirciogluhq/xstatic/cmd/httpd/internal/logger"
)

// ContentTypeFactory builds the content-type table based on configuration
type ContentTypeFactory struct {
	cfg *config.Config

	// Clientset is used for the kubernetes source when set; otherwise one
	// is built from kubeconfig or the in-cluster config.
	Clientset k8s.Interface
}

// NewContentTypeFactory creates a new content-type table factory
func NewContentTypeFactory(cfg *config.Config) *ContentTypeFactory {
	return &ContentTypeFactory{cfg: cfg}
}

// Create loads the table once; it is read-only from then on.
func (f *ContentTypeFactory) Create(ctx context.Context) (*contenttype.Table, error) {
	switch f.cfg.ContentTypeSource {
	case config.ContentTypeSourceStatic, "":
		return f.createStaticTable(), nil
	case config.ContentTypeSourceKubernetes:
		return f.createKubernetesTable(ctx)
	default:
		return nil, fmt.Errorf("unknown content-type source: %s", f.cfg.ContentTypeSource)
	}
}

func (f *ContentTypeFactory) createStaticTable() *contenttype.Table {
	table := contenttype.NewTable(contenttype.Builtin(), f.cfg.ContentTypes)
	logger.Info("Created static content-type table", "entries", table.Len())
	return table
}

func (f *ContentTypeFactory) createKubernetesTable(ctx context.Context) (*contenttype.Table, error) {
	clientset := f.Clientset
	if clientset == nil {
		var err error
		clientset, err = f.buildClientset()
		if err != nil {
			return nil, err
		}
	}

	src := kubernetes.NewConfigMapSource(clientset, f.cfg.Namespace, f.cfg.ContentTypeConfigMap)
	entries, err := src.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load content types: %w", err)
	}

	// ConfigMap entries override the static ones
	table := contenttype.NewTable(contenttype.Builtin(), f.cfg.ContentTypes, entries)
	logger.Info("Created content-type table from ConfigMap",
		"namespace", f.cfg.Namespace,
		"configmap", f.cfg.ContentTypeConfigMap,
		"entries", table.Len())
	return table, nil
}

func (f *ContentTypeFactory) buildClientset() (k8s.Interface, error) {
	logger.Info("Creating Kubernetes client",
		"kubeconfig", f.cfg.KubeConfigPath,
		"context", f.cfg.KubeContext)

	kubeconfig := f.cfg.KubeConfigPath
	if kubeconfig == "" && !inCluster() {
		if home := os.Getenv("HOME"); home != "" {
			kubeconfig = home + "/.kube/config"
		}
	}

	configOverrides := &clientcmd.ConfigOverrides{}
	if f.cfg.KubeContext != "" {
		configOverrides.CurrentContext = f.cfg.KubeContext
		logger.Info("Using specific Kubernetes context", "context", f.cfg.KubeContext)
	}

	var restConfig *rest.Config
	var err error

	// Try kubeconfig first (out of cluster or explicit config)
	if kubeconfig != "" {
		restConfig, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
			&clientcmd.ClientConfigLoadingRules{ExplicitPath: kubeconfig},
			configOverrides,
		).ClientConfig()
		if err != nil {
			logger.Warn("Failed to load kubeconfig, will try in-cluster config", "error", err)
		}
	}

	// Fallback to in-cluster config
	if restConfig == nil {
		logger.Info("Attempting in-cluster Kubernetes configuration")
		restConfig, err = rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to build kubernetes config (tried kubeconfig and in-cluster): %w", err)
		}
	}

	clientset, err := k8s.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	return clientset, nil
}

func inCluster() bool {
	_, err := os.Stat("/var/run/secrets/kubernetes.io/serviceaccount")
	return err == nil
}
