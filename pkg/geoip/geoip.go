// Package geoip provides an optional country lookup used to stamp newly
// created fingerprint identities for abuse triage. The lookup is read-only
// at resolution time and never feeds into fingerprint derivation.
package geoip

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// Service wraps a MaxMind GeoLite2 City database.
type Service struct {
	cityReader *geoip2.Reader
}

// NewService opens the .mmdb file at the given path.
func NewService(cityDBPath string) (*Service, error) {
	cityReader, err := geoip2.Open(cityDBPath)
	if err != nil {
		return nil, fmt.Errorf("open city database: %w", err)
	}
	return &Service{cityReader: cityReader}, nil
}

// Close releases the underlying database handle.
func (s *Service) Close() {
	if s != nil && s.cityReader != nil {
		s.cityReader.Close()
	}
}

// CountryCode returns the ISO country code for an IP address, or "" when the
// IP is unparseable or unknown. A nil Service always returns "".
func (s *Service) CountryCode(ipAddress string) string {
	if s == nil || s.cityReader == nil {
		return ""
	}
	ip := net.ParseIP(ipAddress)
	if ip == nil {
		return ""
	}
	record, err := s.cityReader.City(ip)
	if err != nil {
		return ""
	}
	return record.Country.IsoCode
}
