// Package revocation parses revocation material embedded inside a CMS
// signature (Adobe RevocationInfoArchival) and exposes it as a revocation
// checker. Embedded data reflects the revocation state at signing time;
// live CRL/OCSP fetching is a caller-supplied concern.
package revocation

import (
	"crypto/x509"
	"encoding/asn1"

	"golang.org/x/crypto/ocsp"
)

// OIDInfoArchival identifies the Adobe RevocationInfoArchival signed
// attribute (1.2.840.113583.1.1.8).
var OIDInfoArchival = asn1.ObjectIdentifier{1, 2, 840, 113583, 1, 1, 8}

// InfoArchival is the container holding the revocation information
// archived for the certificates embedded in a signature.
type InfoArchival struct {
	CRL   CRL   `asn1:"tag:0,optional,explicit"`
	OCSP  OCSP  `asn1:"tag:1,optional,explicit"`
	Other Other `asn1:"tag:2,optional,explicit"`
}

// CRL holds raw DER certificate revocation lists, parseable with
// x509.ParseRevocationList.
type CRL []asn1.RawValue

// OCSP holds raw DER OCSP responses, parseable with ocsp.ParseResponse.
type OCSP []asn1.RawValue

// Other carries revocation data in a non-CRL, non-OCSP format.
type Other struct {
	Type  asn1.ObjectIdentifier
	Value []byte
}

// AddCRL embeds the raw bytes of a DER-encoded CRL.
func (r *InfoArchival) AddCRL(b []byte) error {
	r.CRL = append(r.CRL, asn1.RawValue{FullBytes: b})
	return nil
}

// AddOCSP embeds the raw bytes of a DER-encoded OCSP response.
func (r *InfoArchival) AddOCSP(b []byte) error {
	r.OCSP = append(r.OCSP, asn1.RawValue{FullBytes: b})
	return nil
}

// IsEmpty reports whether no revocation material is embedded at all.
func (r *InfoArchival) IsEmpty() bool {
	return len(r.CRL) == 0 && len(r.OCSP) == 0
}

// EmbeddedChecker answers revocation queries from archived CRL and OCSP
// data. It implements the certs.RevocationChecker interface.
type EmbeddedChecker struct {
	info InfoArchival
}

func NewEmbeddedChecker(info InfoArchival) *EmbeddedChecker {
	return &EmbeddedChecker{info: info}
}

// CheckRevocation reports whether cert appears as revoked in any embedded
// CRL or OCSP response. A certificate not mentioned by any embedded
// source is treated as not revoked; malformed entries are skipped.
func (c *EmbeddedChecker) CheckRevocation(cert, issuer *x509.Certificate) (bool, error) {
	for _, raw := range c.info.CRL {
		crl, err := x509.ParseRevocationList(raw.FullBytes)
		if err != nil {
			continue
		}
		for _, entry := range crl.RevokedCertificateEntries {
			if entry.SerialNumber.Cmp(cert.SerialNumber) == 0 {
				return true, nil
			}
		}
	}

	for _, raw := range c.info.OCSP {
		// Verify the responder signature when the issuer is known;
		// fall back to an unverified parse otherwise.
		resp, err := ocsp.ParseResponse(raw.FullBytes, issuer)
		if err != nil {
			if issuer == nil {
				continue
			}
			resp, err = ocsp.ParseResponse(raw.FullBytes, nil)
			if err != nil {
				continue
			}
		}
		if resp.SerialNumber == nil || resp.SerialNumber.Cmp(cert.SerialNumber) != 0 {
			continue
		}
		if resp.Status == ocsp.Revoked {
			return true, nil
		}
	}

	return false, nil
}
