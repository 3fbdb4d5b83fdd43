package main

import (
	"context"
	"fmt"
	"time"

	log "github.com/Financial-Times/go-logger"
	core "k8s.io/api/core/v1"
	v1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
)

const (
	registryLabelSelector = "classification-orchestrator=true"
	secretsName           = "classification-orchestrator.secrets"
	defaultAppPort        = int32(8080)
	rewatchDelay          = 5 * time.Second
)

// k8sRegistry discovers cache replicas and classifiers from labelled services,
// with their signing secrets kept in a single secret keyed by service name.
type k8sRegistry struct {
	k8sClient kubernetes.Interface
	namespace string
}

func newK8sRegistry(namespace string) (*k8sRegistry, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("cannot load in-cluster config: %w", err)
	}

	k8sClient, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create k8s client: %w", err)
	}

	return &k8sRegistry{k8sClient: k8sClient, namespace: namespace}, nil
}

func (r *k8sRegistry) snapshot(ctx context.Context) (registrySnapshot, error) {
	k8sServices, err := r.k8sClient.CoreV1().Services(r.namespace).List(ctx, v1.ListOptions{LabelSelector: registryLabelSelector})
	if err != nil {
		return nil, fmt.Errorf("failed to get the list of services from k8s cluster: %v", err.Error())
	}

	k8sSecret, err := r.k8sClient.CoreV1().Secrets(r.namespace).Get(ctx, secretsName, v1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("cannot find secret with name %s: %s", secretsName, err.Error())
	}

	snapshot := registrySnapshot{}
	for i := range k8sServices.Items {
		k8sService := &k8sServices.Items[i]
		secretKey, found := k8sSecret.Data[k8sService.Name]
		if !found {
			log.Warnf("No secret key registered for service %s", k8sService.Name)
		}

		snapshot[k8sService.Name] = endpointConfig{
			General: generalConfig{
				Host: k8sService.Name,
				Port: int(getAppPortForService(k8sService)),
			},
			Security: securityConfig{SecretKey: string(secretKey)},
		}
	}

	return snapshot, nil
}

// watch calls onChange with a fresh snapshot after every change to the labelled services
// and keeps watching until ctx is done.
func (r *k8sRegistry) watch(ctx context.Context, onChange func(registrySnapshot)) {
	for {
		r.watchOnce(ctx, onChange)

		select {
		case <-ctx.Done():
			return
		case <-time.After(rewatchDelay):
			log.Infof("Services watching terminated. Reconnecting...")
		}
	}
}

func (r *k8sRegistry) watchOnce(ctx context.Context, onChange func(registrySnapshot)) {
	watcher, err := r.k8sClient.CoreV1().Services(r.namespace).Watch(ctx, v1.ListOptions{LabelSelector: registryLabelSelector})
	if err != nil {
		log.WithError(err).Errorf("Error while starting to watch services")
		return
	}
	defer watcher.Stop()

	log.Infof("Started watching services")
	for msg := range watcher.ResultChan() {
		switch msg.Type {
		case watch.Added, watch.Modified, watch.Deleted:
			if k8sService, ok := msg.Object.(*core.Service); ok {
				log.Infof("Service with name %s changed (%s)", k8sService.Name, msg.Type)
			}
			snapshot, err := r.snapshot(ctx)
			if err != nil {
				log.WithError(err).Errorf("Cannot refresh endpoint registry")
				continue
			}
			onChange(snapshot)
		default:
			log.Errorf("Error received on watch services. Channel may be full")
		}
	}
}

func getAppPortForService(k8sService *core.Service) int32 {
	for _, port := range k8sService.Spec.Ports {
		if port.Name == "app" {
			return port.Port
		}
	}

	return defaultAppPort
}
