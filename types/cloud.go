package types

import (
	"fmt"
	"strings"
)

// CloudProvider is the hyperscaler a database runs on
type CloudProvider string

const (
	CloudAWS   CloudProvider = "AWS"
	CloudGCP   CloudProvider = "GCP"
	CloudAzure CloudProvider = "AZURE"
)

// ParseCloudProvider accepts any casing of a known provider
func ParseCloudProvider(s string) (CloudProvider, error) {
	switch CloudProvider(strings.ToUpper(strings.TrimSpace(s))) {
	case CloudAWS:
		return CloudAWS, nil
	case CloudGCP:
		return CloudGCP, nil
	case CloudAzure:
		return CloudAzure, nil
	}
	return "", fmt.Errorf("unknown cloud provider %q (want aws, gcp or azure)", s)
}

func (c CloudProvider) String() string {
	return string(c)
}
