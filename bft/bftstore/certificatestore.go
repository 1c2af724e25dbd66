package bftstore

import (
	"context"

	"github.com/harbor-bft/harbor/bft/bftcore"
)

// CertificateStore manages storage and retrieval of commit certificates,
// exactly one per committed height.
type CertificateStore interface {
	// SaveCertificate records the certificate for its height.
	// A second save for the same height fails with
	// [CertificateOverwriteError] regardless of contents;
	// two certificates for one height indicate a consensus violation
	// or a serious programming bug, so callers treat it as fatal.
	SaveCertificate(ctx context.Context, cert bftcore.CommitCertificate) error

	// LoadCertificate loads the certificate recorded for the given height,
	// or fails with [HeightUnknownError].
	LoadCertificate(ctx context.Context, height uint64) (bftcore.CommitCertificate, error)

	// NetworkHeight returns the highest height with a recorded certificate.
	// Before any save it fails with [ErrStoreUninitialized].
	NetworkHeight(ctx context.Context) (uint64, error)
}
