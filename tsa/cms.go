package tsa

import (
	"context"
	"encoding/asn1"
	"fmt"

	"github.com/digitorus/pkcs7"
	"github.com/digitorus/timestamp"
	"go.uber.org/zap"
)

// Shells over the PKCS#7 SignedData layout. Every field is kept as a raw
// element so re-encoding never rewrites bytes it does not own: only the
// unsigned attributes of a SignerInfo are rebuilt, which keeps the signed
// attributes and the signature value byte-identical.

type cmsContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

type cmsSignedDataShell struct {
	Raw              asn1.RawContent
	Version          int
	DigestAlgorithms asn1.RawValue
	ContentInfo      asn1.RawValue
	Certificates     asn1.RawValue `asn1:"optional,tag:0"`
	CRLs             asn1.RawValue `asn1:"optional,tag:1"`
	SignerInfos      asn1.RawValue `asn1:"set"`
}

type cmsSignerInfoShell struct {
	Raw                       asn1.RawContent
	Version                   int
	IssuerAndSerialNumber     asn1.RawValue
	DigestAlgorithm           asn1.RawValue
	AuthenticatedAttributes   asn1.RawValue `asn1:"optional,tag:0"`
	DigestEncryptionAlgorithm asn1.RawValue
	EncryptedDigest           asn1.RawValue
	UnauthenticatedAttributes asn1.RawValue `asn1:"optional,tag:1,set"`
}

type cmsAttribute struct {
	Type   asn1.ObjectIdentifier
	Values asn1.RawValue
}

// ExtractTimestamp scans the unsigned attributes of every signer in a
// CMS signature for an RFC 3161 timestamp token. A candidate attribute
// that fails to parse is logged and skipped; only the absence of any
// parseable token yields a nil Timestamp. At most one timestamp per
// signature is supported.
func (m *Manager) ExtractTimestamp(signatureDER []byte) (*Timestamp, error) {
	p7, err := pkcs7.Parse(signatureDER)
	if err != nil {
		m.audit("extract_timestamp", "", err)
		return nil, fmt.Errorf("parse CMS signature: %w", err)
	}

	for _, s := range p7.Signers {
		for _, attr := range s.UnauthenticatedAttributes {
			if !attr.Type.Equal(OIDAttributeTimeStampToken) {
				continue
			}
			token, err := timestamp.Parse(attr.Value.Bytes)
			if err != nil {
				m.Logger.Warn("skipping unparseable timestamp attribute candidate",
					zap.String("oid", attr.Type.String()),
					zap.Error(err))
				continue
			}

			ts := &Timestamp{Token: token, Raw: attr.Value.Bytes}
			if len(token.Certificates) > 0 {
				ts.Certificate = token.Certificates[0]
			}
			m.audit("extract_timestamp", token.Time.UTC().String(), nil)
			return ts, nil
		}
	}

	m.audit("extract_timestamp", "none", nil)
	return nil, nil
}

// AddTimestampToSignature obtains a token for the signature value of the
// first signer (using the failover path) and embeds it as an unsigned
// attribute, returning the re-encoded CMS signature.
func (m *Manager) AddTimestampToSignature(ctx context.Context, signatureDER []byte, fc FailoverConfig) ([]byte, error) {
	p7, err := pkcs7.Parse(signatureDER)
	if err != nil {
		m.audit("add_timestamp", "", err)
		return nil, fmt.Errorf("parse CMS signature: %w", err)
	}
	if len(p7.Signers) == 0 {
		err := &UsageError{Msg: "CMS signature has no signers"}
		m.audit("add_timestamp", "", err)
		return nil, err
	}

	// RFC 3161 signature timestamps cover the signature value itself.
	req, err := m.CreateTimestampRequest(p7.Signers[0].EncryptedDigest, nil)
	if err != nil {
		return nil, err
	}

	resp, err := m.RequestTimestampWithFailover(ctx, req, fc)
	if err != nil {
		m.audit("add_timestamp", "", err)
		return nil, err
	}

	out, err := embedTimestampToken(signatureDER, resp.Raw)
	if err != nil {
		m.audit("add_timestamp", "", err)
		return nil, err
	}

	m.audit("add_timestamp", resp.Token.Time.UTC().String(), nil)
	return out, nil
}

// embedTimestampToken splices the token into the first SignerInfo's
// unsigned attributes. An existing timestamp attribute is replaced,
// keeping the one-token-per-signature invariant.
func embedTimestampToken(signatureDER, tokenDER []byte) ([]byte, error) {
	var ci cmsContentInfo
	if rest, err := asn1.Unmarshal(signatureDER, &ci); err != nil {
		return nil, fmt.Errorf("decode ContentInfo: %w", err)
	} else if len(rest) > 0 {
		return nil, fmt.Errorf("trailing data after ContentInfo")
	}

	var sd cmsSignedDataShell
	if _, err := asn1.Unmarshal(ci.Content.FullBytes, &sd); err != nil {
		return nil, fmt.Errorf("decode SignedData: %w", err)
	}

	var signerInfos []asn1.RawValue
	if _, err := asn1.UnmarshalWithParams(sd.SignerInfos.FullBytes, &signerInfos, "set"); err != nil {
		return nil, fmt.Errorf("decode SignerInfos: %w", err)
	}
	if len(signerInfos) == 0 {
		return nil, fmt.Errorf("SignedData has no SignerInfo")
	}

	newFirst, err := signerInfoWithToken(signerInfos[0].FullBytes, tokenDER)
	if err != nil {
		return nil, err
	}

	var setBody []byte
	setBody = append(setBody, newFirst...)
	for _, si := range signerInfos[1:] {
		setBody = append(setBody, si.FullBytes...)
	}
	newSet, err := wrapDER(asn1.ClassUniversal, asn1.TagSet, setBody)
	if err != nil {
		return nil, err
	}

	// SignerInfos is the final element of SignedData; splice it onto the
	// untouched leading body.
	oldBody, err := derBody(sd.Raw)
	if err != nil {
		return nil, fmt.Errorf("decode SignedData header: %w", err)
	}
	lead := oldBody[:len(oldBody)-len(sd.SignerInfos.FullBytes)]

	newSignedData, err := wrapDER(asn1.ClassUniversal, asn1.TagSequence, append(append([]byte{}, lead...), newSet...))
	if err != nil {
		return nil, err
	}

	return asn1.Marshal(cmsContentInfo{
		ContentType: ci.ContentType,
		Content: asn1.RawValue{
			Class:      asn1.ClassContextSpecific,
			Tag:        0,
			IsCompound: true,
			Bytes:      newSignedData,
		},
	})
}

// signerInfoWithToken rebuilds one SignerInfo with the timestamp token as
// its (sole) timestamp unsigned attribute, preserving all other bytes.
func signerInfoWithToken(signerInfoDER, tokenDER []byte) ([]byte, error) {
	var si cmsSignerInfoShell
	if _, err := asn1.Unmarshal(signerInfoDER, &si); err != nil {
		return nil, fmt.Errorf("decode SignerInfo: %w", err)
	}

	// Surviving unsigned attributes, minus any previous timestamp.
	var attrs []byte
	if len(si.UnauthenticatedAttributes.Bytes) > 0 {
		data := si.UnauthenticatedAttributes.Bytes
		for len(data) > 0 {
			var el asn1.RawValue
			rest, err := asn1.Unmarshal(data, &el)
			if err != nil {
				return nil, fmt.Errorf("decode unsigned attribute: %w", err)
			}
			var attr cmsAttribute
			if _, err := asn1.Unmarshal(el.FullBytes, &attr); err == nil && attr.Type.Equal(OIDAttributeTimeStampToken) {
				data = rest
				continue
			}
			attrs = append(attrs, el.FullBytes...)
			data = rest
		}
	}

	values, err := wrapDER(asn1.ClassUniversal, asn1.TagSet, tokenDER)
	if err != nil {
		return nil, err
	}
	var rawValues asn1.RawValue
	if _, err := asn1.Unmarshal(values, &rawValues); err != nil {
		return nil, fmt.Errorf("reparse attribute value: %w", err)
	}
	tokenAttr, err := asn1.Marshal(cmsAttribute{
		Type:   OIDAttributeTimeStampToken,
		Values: rawValues,
	})
	if err != nil {
		return nil, fmt.Errorf("encode timestamp attribute: %w", err)
	}
	attrs = append(attrs, tokenAttr...)

	newUnauth, err := wrapDER(asn1.ClassContextSpecific, 1, attrs)
	if err != nil {
		return nil, err
	}

	// The unsigned attribute set is the final element of SignerInfo.
	body, err := derBody(si.Raw)
	if err != nil {
		return nil, fmt.Errorf("decode SignerInfo header: %w", err)
	}
	lead := body
	if len(si.UnauthenticatedAttributes.FullBytes) > 0 {
		lead = body[:len(body)-len(si.UnauthenticatedAttributes.FullBytes)]
	}

	return wrapDER(asn1.ClassUniversal, asn1.TagSequence, append(append([]byte{}, lead...), newUnauth...))
}

// derBody strips the tag and length header of a DER element.
func derBody(der []byte) ([]byte, error) {
	if len(der) < 2 {
		return nil, fmt.Errorf("element too short")
	}
	offset := 2
	length := int(der[1])
	if der[1]&0x80 != 0 {
		n := int(der[1] & 0x7f)
		if n == 0 || n > 4 || len(der) < 2+n {
			return nil, fmt.Errorf("unsupported length encoding")
		}
		length = 0
		for i := 0; i < n; i++ {
			length = length<<8 | int(der[2+i])
		}
		offset = 2 + n
	}
	if len(der) < offset+length {
		return nil, fmt.Errorf("element truncated")
	}
	return der[offset : offset+length], nil
}

// wrapDER encodes body under a compound tag.
func wrapDER(class, tag int, body []byte) ([]byte, error) {
	return asn1.Marshal(asn1.RawValue{
		Class:      class,
		Tag:        tag,
		IsCompound: true,
		Bytes:      body,
	})
}
