package cluster

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"sigs.k8s.io/yaml"

	"github.com/azimuth-cloud/azimuth-portal/internal/apperrors"
	"github.com/azimuth-cloud/azimuth-portal/internal/awx"
	"github.com/azimuth-cloud/azimuth-portal/internal/models"
)

// typeDocument is the cluster-type metadata carried by a job template's
// description field, either inline YAML or a URL pointing at a YAML document.
type typeDocument struct {
	Label         string                    `json:"label"`
	Description   string                    `json:"description"`
	LogoURL       string                    `json:"logo_url"`
	Parameters    []models.ClusterParameter `json:"parameters"`
	UsageTemplate string                    `json:"usage_template"`
	// Annotations carry the tenancy ACL keys, among others.
	Annotations map[string]string `json:"annotations"`
}

// metadataResolver turns template descriptions into parsed documents,
// caching fetched URLs for a short window.
type metadataResolver struct {
	http  *http.Client
	cache *gocache.Cache
}

func newMetadataResolver() *metadataResolver {
	return &metadataResolver{
		http:  &http.Client{Timeout: 10 * time.Second},
		cache: gocache.New(10*time.Minute, 15*time.Minute),
	}
}

// resolve parses the metadata document for a job template. A template with
// no description cannot become a cluster type; that is a deployment mistake
// and fails hard rather than being skipped.
func (r *metadataResolver) resolve(ctx context.Context, template *awx.JobTemplate) (*typeDocument, error) {
	description := strings.TrimSpace(template.Description)
	if description == "" {
		return nil, apperrors.ImproperlyConfigured(
			"job template %q has no metadata document", template.Name)
	}
	if cached, ok := r.cache.Get(description); ok {
		return cached.(*typeDocument), nil
	}

	raw := []byte(description)
	if strings.HasPrefix(description, "http://") || strings.HasPrefix(description, "https://") {
		fetched, err := r.fetch(ctx, description)
		if err != nil {
			return nil, err
		}
		raw = fetched
	}

	var doc typeDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, apperrors.Wrap(apperrors.KindImproperlyConfigured, err,
			"invalid metadata document for job template %q", template.Name)
	}
	r.cache.Set(description, &doc, gocache.DefaultExpiration)
	return &doc, nil
}

func (r *metadataResolver) fetch(ctx context.Context, docURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindImproperlyConfigured, err,
			"invalid metadata document URL %q", docURL)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindCommunicationError, err,
			"fetching metadata document %q", docURL)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperrors.CommunicationError(
			"metadata document %q returned status %d", docURL, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

// clusterType projects a template and its document into the DTO.
func clusterType(template *awx.JobTemplate, doc *typeDocument) models.ClusterType {
	label := doc.Label
	if label == "" {
		label = template.Name
	}
	return models.ClusterType{
		Name:          template.Name,
		Label:         label,
		Description:   doc.Description,
		LogoURL:       doc.LogoURL,
		Parameters:    doc.Parameters,
		UsageTemplate: doc.UsageTemplate,
	}
}
