// Package targets turns an nmap XML report into an ordered list of web
// endpoints to capture.
package targets

import (
	"net"
	"strings"
)

// Target is a single web endpoint discovered in a scan report.
type Target struct {
	URL     string `json:"url"`
	Address string `json:"address"`
	Port    string `json:"port"`
}

// Filter drops targets during extraction. The zero value keeps everything.
type Filter struct {
	ExcludeAddresses []string // addresses to leave out
	OpenOnly         bool     // skip ports whose state is not "open"
}

// Extract returns one target per port whose service name contains "http",
// in report order. Ports are not deduplicated. Hosts without an address are
// skipped.
func Extract(report *Report) []Target {
	return ExtractWithFilter(report, Filter{})
}

// ExtractWithFilter is Extract with ports dropped according to filter.
func ExtractWithFilter(report *Report, filter Filter) []Target {
	if report == nil {
		return nil
	}

	excluded := make(map[string]struct{}, len(filter.ExcludeAddresses))
	for _, addr := range filter.ExcludeAddresses {
		excluded[strings.TrimSpace(addr)] = struct{}{}
	}

	var targets []Target
	for _, host := range report.Hosts {
		addr := host.Address()
		if addr == "" {
			continue
		}
		if _, skip := excluded[addr]; skip {
			continue
		}

		for _, port := range host.Ports {
			if !IsWebService(port.Service) {
				continue
			}
			if filter.OpenOnly && port.State.State != "open" {
				continue
			}
			targets = append(targets, Target{
				URL:     BuildURL(addr, port.PortID),
				Address: addr,
				Port:    port.PortID,
			})
		}
	}
	return targets
}

// ExtractFile parses the report at path and extracts its targets.
func ExtractFile(path string, filter Filter) ([]Target, error) {
	report, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	return ExtractWithFilter(report, filter), nil
}

// IsWebService reports whether service names something HTTP-like. The match
// is a loose substring test, so "https-alt" and "http-proxy" qualify.
func IsWebService(service *Service) bool {
	if service == nil {
		return false
	}
	return strings.Contains(strings.ToLower(service.Name), "http")
}

// Scheme returns https for port 443 and http for anything else. The service
// name is not consulted: https on 8443 is still http here.
func Scheme(port string) string {
	if port == "443" {
		return "https"
	}
	return "http"
}

// BuildURL returns scheme://address:port. IPv6 addresses are bracketed.
func BuildURL(address, port string) string {
	return Scheme(port) + "://" + net.JoinHostPort(address, port)
}
