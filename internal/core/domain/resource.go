package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Resource is the polymorphic "resource" block of a finding. Known
// namespaces get a typed variant; everything else is a GenericResource.
type Resource interface {
	// Kind names the variant, e.g. "Kubernetes" or "Generic".
	Kind() string
	// Raw is the undecoded sub-structure, always available.
	Raw() map[string]any
}

// KubernetesResource is an EKS workload.
type KubernetesResource struct {
	ClusterName       string
	WorkloadName      string
	WorkloadNamespace string
	WorkloadType      string
	Username          string
	raw               map[string]any
}

func (r KubernetesResource) Kind() string        { return NamespaceKubernetes }
func (r KubernetesResource) Raw() map[string]any { return r.raw }

// InstanceResource is an EC2 instance.
type InstanceResource struct {
	InstanceID       string
	InstanceType     string
	AvailabilityZone string
	ImageID          string
	Name             string
	raw              map[string]any
}

func (r InstanceResource) Kind() string        { return NamespaceEC2 }
func (r InstanceResource) Raw() map[string]any { return r.raw }

// AccessKeyResource is an IAM principal acting through an access key.
type AccessKeyResource struct {
	AccessKeyID string
	PrincipalID string
	UserName    string
	UserType    string
	raw         map[string]any
}

func (r AccessKeyResource) Kind() string        { return NamespaceIAMUser }
func (r AccessKeyResource) Raw() map[string]any { return r.raw }

// S3Resource lists the buckets involved in the finding.
type S3Resource struct {
	Buckets  []string
	UserName string
	raw      map[string]any
}

func (r S3Resource) Kind() string        { return NamespaceS3 }
func (r S3Resource) Raw() map[string]any { return r.raw }

// GenericResource carries resources without a dedicated formatter.
type GenericResource struct {
	ResourceType string
	raw          map[string]any
}

func (r GenericResource) Kind() string        { return "Generic" }
func (r GenericResource) Raw() map[string]any { return r.raw }

// resourceTypeVariants is used when the namespace alone does not say what
// the resource is, e.g. Runtime findings raised on instances or clusters.
var resourceTypeVariants = map[string]string{
	"Instance":   NamespaceEC2,
	"AccessKey":  NamespaceIAMUser,
	"S3Bucket":   NamespaceS3,
	"EKSCluster": NamespaceKubernetes,
}

// NewResource selects the variant for a resource block. Fields inside the
// block are best-effort: only the block itself is mandatory.
func NewResource(namespace string, raw map[string]any) Resource {
	kind := namespace
	switch kind {
	case NamespaceKubernetes, NamespaceEC2, NamespaceIAMUser, NamespaceS3:
	default:
		kind = resourceTypeVariants[stringAt(raw, "resourceType")]
	}

	switch kind {
	case NamespaceKubernetes:
		return KubernetesResource{
			ClusterName:       stringAt(raw, "eksClusterDetails.name"),
			WorkloadName:      stringAt(raw, "kubernetesDetails.kubernetesWorkloadDetails.name"),
			WorkloadNamespace: stringAt(raw, "kubernetesDetails.kubernetesWorkloadDetails.namespace"),
			WorkloadType:      stringAt(raw, "kubernetesDetails.kubernetesWorkloadDetails.type"),
			Username:          stringAt(raw, "kubernetesDetails.kubernetesUserDetails.username"),
			raw:               raw,
		}
	case NamespaceEC2:
		return InstanceResource{
			InstanceID:       stringAt(raw, "instanceDetails.instanceId"),
			InstanceType:     stringAt(raw, "instanceDetails.instanceType"),
			AvailabilityZone: stringAt(raw, "instanceDetails.availabilityZone"),
			ImageID:          stringAt(raw, "instanceDetails.imageId"),
			Name:             nameTag(raw),
			raw:              raw,
		}
	case NamespaceIAMUser:
		return AccessKeyResource{
			AccessKeyID: stringAt(raw, "accessKeyDetails.accessKeyId"),
			PrincipalID: stringAt(raw, "accessKeyDetails.principalId"),
			UserName:    stringAt(raw, "accessKeyDetails.userName"),
			UserType:    stringAt(raw, "accessKeyDetails.userType"),
			raw:         raw,
		}
	case NamespaceS3:
		return S3Resource{
			Buckets:  bucketNames(raw),
			UserName: stringAt(raw, "accessKeyDetails.userName"),
			raw:      raw,
		}
	default:
		return GenericResource{ResourceType: stringAt(raw, "resourceType"), raw: raw}
	}
}

func nameTag(raw map[string]any) string {
	v, ok, _ := lookup(raw, "instanceDetails.tags")
	if !ok {
		return ""
	}
	tags, ok := v.([]any)
	if !ok {
		return ""
	}
	for _, t := range tags {
		tag, ok := t.(map[string]any)
		if !ok {
			continue
		}
		if stringAt(tag, "key") == "Name" {
			return stringAt(tag, "value")
		}
	}
	return ""
}

func bucketNames(raw map[string]any) []string {
	v, ok, _ := lookup(raw, "s3BucketDetails")
	if !ok {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var names []string
	for _, item := range list {
		bucket, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if name := stringAt(bucket, "name"); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// FlattenResource turns a nested map into sorted "a.b[0].c: value" lines.
func FlattenResource(raw map[string]any) []string {
	var lines []string
	flatten("", raw, &lines)
	sort.Strings(lines)
	return lines
}

func flatten(prefix string, v any, lines *[]string) {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			flatten(key, child, lines)
		}
	case []any:
		for i, child := range val {
			flatten(fmt.Sprintf("%s[%d]", prefix, i), child, lines)
		}
	case nil:
		// nulls carry no information for an operator
	default:
		s := strings.TrimSpace(fmt.Sprint(val))
		if s == "" {
			return
		}
		*lines = append(*lines, prefix+": "+s)
	}
}
