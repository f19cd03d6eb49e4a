package domain

import (
	"sort"
	"strings"
)

// Threat purposes published by GuardDuty. The list is not closed: anything
// else that parses is carried verbatim in TypeTaxonomy.ThreatPurpose.
const (
	PurposeBackdoor            = "Backdoor"
	PurposeBehavior            = "Behavior"
	PurposeCredentialAccess    = "CredentialAccess"
	PurposeCryptoCurrency      = "CryptoCurrency"
	PurposeDefenseEvasion      = "DefenseEvasion"
	PurposeDiscovery           = "Discovery"
	PurposeExecution           = "Execution"
	PurposeExfiltration        = "Exfiltration"
	PurposeImpact              = "Impact"
	PurposeInitialAccess       = "InitialAccess"
	PurposePenTest             = "PenTest"
	PurposePersistence         = "Persistence"
	PurposePolicy              = "Policy"
	PurposePrivilegeEscalation = "PrivilegeEscalation"
	PurposeRecon               = "Recon"
	PurposeStealth             = "Stealth"
	PurposeTrojan              = "Trojan"
	PurposeUnauthorizedAccess  = "UnauthorizedAccess"
)

// Resource namespaces with a dedicated resource formatter.
const (
	NamespaceEC2        = "EC2"
	NamespaceIAMUser    = "IAMUser"
	NamespaceKubernetes = "Kubernetes"
	NamespaceS3         = "S3"
	NamespaceRuntime    = "Runtime"
	NamespaceLambda     = "Lambda"
	NamespaceRDS        = "RDS"
)

// TypeTaxonomy is the decomposition of a finding type string
// ("ThreatPurpose:ResourceNamespace/Artifact").
type TypeTaxonomy struct {
	Raw               string `json:"raw"`
	ThreatPurpose     string `json:"threatPurpose"`
	ResourceNamespace string `json:"resourceNamespace"`
	Artifact          string `json:"artifact"`
	Recognized        bool   `json:"recognized"`
}

// WellFormed reports whether all three segments were present.
func (t TypeTaxonomy) WellFormed() bool {
	return t.ThreatPurpose != "" && t.ResourceNamespace != "" && t.Artifact != ""
}

// Catalog is the lookup table of known purpose/namespace pairs. It is
// immutable once built; With returns an extended copy.
type Catalog struct {
	pairs map[string]map[string]struct{}
}

// NewCatalog builds a catalog from purpose -> namespaces.
func NewCatalog(known map[string][]string) *Catalog {
	c := &Catalog{pairs: make(map[string]map[string]struct{}, len(known))}
	for purpose, namespaces := range known {
		c.add(purpose, namespaces...)
	}
	return c
}

func (c *Catalog) add(purpose string, namespaces ...string) {
	if purpose == "" {
		return
	}
	set, ok := c.pairs[purpose]
	if !ok {
		set = make(map[string]struct{}, len(namespaces))
		c.pairs[purpose] = set
	}
	for _, ns := range namespaces {
		if ns != "" {
			set[ns] = struct{}{}
		}
	}
}

// With returns a copy of the catalog that also knows purpose x namespaces.
func (c *Catalog) With(purpose string, namespaces ...string) *Catalog {
	next := &Catalog{pairs: make(map[string]map[string]struct{}, len(c.pairs)+1)}
	for p, set := range c.pairs {
		for ns := range set {
			next.add(p, ns)
		}
	}
	next.add(purpose, namespaces...)
	return next
}

// Known reports whether the pair is in the catalog.
func (c *Catalog) Known(purpose, namespace string) bool {
	set, ok := c.pairs[purpose]
	if !ok {
		return false
	}
	_, ok = set[namespace]
	return ok
}

// KnownPurpose reports whether the purpose appears with any namespace.
func (c *Catalog) KnownPurpose(purpose string) bool {
	_, ok := c.pairs[purpose]
	return ok
}

// Pairs lists the catalog as sorted "Purpose:Namespace" strings.
func (c *Catalog) Pairs() []string {
	out := make([]string, 0, len(c.pairs)*4)
	for p, set := range c.pairs {
		for ns := range set {
			out = append(out, p+":"+ns)
		}
	}
	sort.Strings(out)
	return out
}

// Classify splits a type string and checks the pair against the catalog.
// It never fails; anything it cannot place is returned with Recognized=false
// and whatever segments could be parsed.
func (c *Catalog) Classify(typeString string) TypeTaxonomy {
	t := ParseType(typeString)
	if !t.WellFormed() {
		return t
	}
	t.Recognized = c.Known(t.ThreatPurpose, t.ResourceNamespace)
	return t
}

// ParseType applies the grammar only. The first ':' and the first '/' after
// it are significant; the artifact keeps any later '/'.
func ParseType(typeString string) TypeTaxonomy {
	t := TypeTaxonomy{Raw: typeString}

	purpose, rest, ok := strings.Cut(typeString, ":")
	t.ThreatPurpose = purpose
	if !ok {
		return t
	}

	namespace, artifact, _ := strings.Cut(rest, "/")
	t.ResourceNamespace = namespace
	t.Artifact = artifact
	return t
}

// DefaultCatalog returns the finding categories published at the time of
// writing. New upstream categories are added here or through the
// presentation config.
func DefaultCatalog() *Catalog {
	return NewCatalog(map[string][]string{
		PurposeBackdoor:            {NamespaceEC2, NamespaceLambda, NamespaceRuntime},
		PurposeBehavior:            {NamespaceEC2},
		PurposeCredentialAccess:    {NamespaceIAMUser, NamespaceKubernetes, NamespaceRDS},
		PurposeCryptoCurrency:      {NamespaceEC2, NamespaceLambda, NamespaceRuntime},
		PurposeDefenseEvasion:      {NamespaceEC2, NamespaceIAMUser, NamespaceKubernetes, NamespaceRuntime},
		PurposeDiscovery:           {NamespaceIAMUser, NamespaceKubernetes, NamespaceS3, NamespaceRDS},
		PurposeExecution:           {NamespaceEC2, NamespaceKubernetes, NamespaceRuntime},
		PurposeExfiltration:        {NamespaceIAMUser, NamespaceS3},
		PurposeImpact:              {NamespaceEC2, NamespaceIAMUser, NamespaceKubernetes, NamespaceS3, NamespaceRuntime},
		PurposeInitialAccess:       {NamespaceIAMUser},
		PurposePenTest:             {NamespaceIAMUser, NamespaceS3},
		PurposePersistence:         {NamespaceIAMUser, NamespaceKubernetes, NamespaceRuntime},
		PurposePolicy:              {NamespaceIAMUser, NamespaceKubernetes, NamespaceS3},
		PurposePrivilegeEscalation: {NamespaceIAMUser, NamespaceKubernetes, NamespaceRuntime},
		PurposeRecon:               {NamespaceEC2, NamespaceIAMUser},
		PurposeStealth:             {NamespaceIAMUser, NamespaceS3},
		PurposeTrojan:              {NamespaceEC2, NamespaceLambda},
		PurposeUnauthorizedAccess:  {NamespaceEC2, NamespaceIAMUser, NamespaceKubernetes, NamespaceLambda, NamespaceS3, NamespaceRuntime, NamespaceRDS},
	})
}

var defaultCatalog = DefaultCatalog()

// Classify uses the default catalog.
func Classify(typeString string) TypeTaxonomy {
	return defaultCatalog.Classify(typeString)
}

const docsBaseURL = "https://docs.aws.amazon.com/guardduty/latest/ug/guardduty_finding-types-"

// docsGroups maps lowercased namespaces to the docs page they live on. The
// pages do not follow the namespace names (IAMUser lives on iam.html), so
// namespaces without an entry get no link rather than a guessed one.
var docsGroups = map[string]string{
	"iamuser":    "iam",
	"ec2":        "ec2",
	"s3":         "s3",
	"kubernetes": "kubernetes",
}

// DocsLink returns the finding-type documentation URL or "" when the
// namespace has no known docs page.
func DocsLink(t TypeTaxonomy) string {
	if !t.WellFormed() {
		return ""
	}
	ns := strings.ToLower(t.ResourceNamespace)
	group, ok := docsGroups[ns]
	if !ok {
		return ""
	}
	anchor := strings.ToLower(t.ThreatPurpose) + "-" + group + "-" + strings.ToLower(t.Artifact)
	return docsBaseURL + group + ".html#" + anchor
}
