// Package pdfvalidate validates PDF documents: structural soundness,
// embedded CMS/PKCS#7 signatures against their covered byte ranges,
// certificate chains against trusted roots and RFC 3161 timestamps.
//
// Basic usage:
//
//	engine := pdfvalidate.NewEngine(trustedRoots...)
//	result := engine.ValidateDocument(ctx, raw)
//	if !result.IsValid {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
//
// The result is a plain value, serializable to JSON, and the only
// artifact handed to the surrounding application.
package pdfvalidate

import (
	"crypto/x509"

	"go.uber.org/zap"

	"github.com/vaultsign/pdfvalidate/certs"
	"github.com/vaultsign/pdfvalidate/signatures"
	"github.com/vaultsign/pdfvalidate/structure"
	"github.com/vaultsign/pdfvalidate/tsa"
)

// Engine runs the full validation pass. Engines hold no per-document
// state: one Engine may validate many documents concurrently, and
// results from one call never leak into another.
type Engine struct {
	Logger       *zap.Logger
	Structure    *structure.Validator
	Signatures   *signatures.Engine
	Certs        *certs.Manager
	TSA          *tsa.Manager
	TrustedRoots []*x509.Certificate
}

// NewEngine wires the component managers together. Without trusted
// roots, signatures are still checked cryptographically but chains are
// not anchored, which surfaces as warnings.
func NewEngine(trustedRoots ...*x509.Certificate) *Engine {
	cm := certs.NewManager()
	tm := tsa.NewManager()
	se := signatures.NewEngine(trustedRoots...)
	se.Certs = cm
	se.TSA = tm

	return &Engine{
		Logger:       zap.NewNop(),
		Structure:    structure.NewValidator(),
		Signatures:   se,
		Certs:        cm,
		TSA:          tm,
		TrustedRoots: trustedRoots,
	}
}

// SetLogger installs a logger on the engine and every component.
func (e *Engine) SetLogger(l *zap.Logger) {
	e.Logger = l
	e.Signatures.Logger = l
	e.TSA.Logger = l
}
