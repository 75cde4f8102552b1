// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"context"
	"errors"
	"fmt"
	"time"

	pipelinev1 "github.com/tektoncd/pipeline/pkg/apis/pipeline/v1"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/client-go/kubernetes"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	ctrlclient "sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/telekom/tekton-step/pkg/version"
)

// ErrClientConstructionFailed is returned when no API client could be built
// for an identity (bad TLS material, unusable kubeconfig, ...).
var ErrClientConstructionFailed = errors.New("client construction failed")

// Scheme knows the core Kubernetes types and the Tekton v1 pipeline types.
var Scheme = runtime.NewScheme()

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(Scheme))
	utilruntime.Must(pipelinev1.AddToScheme(Scheme))
}

// Clients is the API client handle handed out by the ClientCache.
type Clients struct {
	// Client performs typed CRUD on Tekton resources.
	Client ctrlclient.Client
	// Kube is used for pods and their logs.
	Kube kubernetes.Interface
	// Namespace is the namespace of the identity, used when a document
	// declares none and no default namespace was supplied.
	Namespace string

	// Fingerprint and CreatedAt describe the cache entry this handle came from.
	Fingerprint string
	CreatedAt   time.Time
}

// Factory builds clients for an identity.
type Factory func(ctx context.Context, id Identity) (*Clients, error)

// RESTConfig resolves a rest.Config and the effective namespace for an identity.
// Credentials are left to the standard kubeconfig loading rules; the identity
// only overrides server, trust material and namespace.
func RESTConfig(id Identity) (*rest.Config, string, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if id.Kubeconfig != "" {
		rules.ExplicitPath = id.Kubeconfig
	}

	overrides := &clientcmd.ConfigOverrides{CurrentContext: id.Context}
	if id.Server != "" {
		overrides.ClusterInfo.Server = id.Server
	}
	if id.InsecureSkipTLSVerify {
		// client-go refuses a root CA together with the insecure flag
		overrides.ClusterInfo.InsecureSkipTLSVerify = true
	} else if len(id.CAData) > 0 {
		overrides.ClusterInfo.CertificateAuthorityData = id.CAData
	}
	if id.Namespace != "" {
		overrides.Context.Namespace = id.Namespace
	}

	clientConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides)
	cfg, err := clientConfig.ClientConfig()
	if err != nil {
		return nil, "", fmt.Errorf("load client config for cluster %s: %w", id.DisplayName(), err)
	}
	ns, _, err := clientConfig.Namespace()
	if err != nil || ns == "" {
		ns = "default"
	}
	cfg.UserAgent = version.UserAgent()
	return cfg, ns, nil
}

// NewClients is the default Factory.
func NewClients(_ context.Context, id Identity) (*Clients, error) {
	cfg, ns, err := RESTConfig(id)
	if err != nil {
		return nil, err
	}
	c, err := ctrlclient.New(cfg, ctrlclient.Options{Scheme: Scheme})
	if err != nil {
		return nil, fmt.Errorf("create client for cluster %s: %w", id.DisplayName(), err)
	}
	kube, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("create clientset for cluster %s: %w", id.DisplayName(), err)
	}
	return &Clients{Client: c, Kube: kube, Namespace: ns}, nil
}
