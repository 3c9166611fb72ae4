package ucp

import "strings"

const (
	// ProtocolName is the protocol field of the discovery profile.
	ProtocolName = "UCP"
	// RESTEndpointService names the REST base URL in the profile services map.
	RESTEndpointService = "dev.ucp.shopping.rest.endpoint"
	// CheckoutCapability identifies the checkout-session capability.
	CheckoutCapability = "dev.ucp.shopping.checkout"
)

// Profile defines model for the discovery document at /.well-known/ucp.
type Profile struct {
	Protocol     string            `json:"protocol"`
	Version      string            `json:"version"`
	Merchant     Merchant          `json:"merchant"`
	Services     map[string]string `json:"services"`
	Extensions   Extensions        `json:"extensions"`
	Capabilities []Capability      `json:"capabilities"`
}

// Merchant defines model for Profile.Merchant.
type Merchant struct {
	Name string `json:"name"`
}

// Extensions defines model for Profile.Extensions.
type Extensions struct {
	AP2 AP2Extension `json:"ap2"`
}

// AP2Extension advertises AP2 mandate support.
type AP2Extension struct {
	Supported          bool     `json:"supported"`
	SupportedVPFormats []string `json:"supported_vp_formats"`
}

// Capability defines model for Profile.Capabilities.Item.
type Capability struct {
	ID        string              `json:"id"`
	Binding   string              `json:"binding"`
	Endpoints CapabilityEndpoints `json:"endpoints"`
}

// CapabilityEndpoints lists the REST endpoints of the checkout capability.
// Paths keep the literal {id} placeholder.
type CapabilityEndpoints struct {
	Create   string `json:"create"`
	Read     string `json:"read"`
	Update   string `json:"update"`
	Complete string `json:"complete"`
	Cancel   string `json:"cancel"`
}

// NewProfile builds the discovery profile for a gateway reachable at
// baseURL. VP formats are advertised only when AP2 is enabled.
func NewProfile(baseURL, merchantName string, ap2Enabled bool, vpFormats []string) Profile {
	base := strings.TrimRight(baseURL, "/")
	formats := []string{}
	if ap2Enabled {
		formats = append(formats, vpFormats...)
	}
	return Profile{
		Protocol: ProtocolName,
		Version:  APIVersion,
		Merchant: Merchant{Name: merchantName},
		Services: map[string]string{RESTEndpointService: base},
		Extensions: Extensions{
			AP2: AP2Extension{Supported: ap2Enabled, SupportedVPFormats: formats},
		},
		Capabilities: []Capability{{
			ID:      CheckoutCapability,
			Binding: "rest",
			Endpoints: CapabilityEndpoints{
				Create:   base + "/checkout-sessions",
				Read:     base + "/checkout-sessions/{id}",
				Update:   base + "/checkout-sessions/{id}",
				Complete: base + "/checkout-sessions/{id}/complete",
				Cancel:   base + "/checkout-sessions/{id}/cancel",
			},
		}},
	}
}
