package bftmemstore

import (
	"context"
	"sync"

	"github.com/harbor-bft/harbor/bft/bftcore"
	"github.com/harbor-bft/harbor/bft/bftstore"
)

// CertificateStore is an in-memory implementation of
// [bftstore.CertificateStore].
type CertificateStore struct {
	mu sync.RWMutex

	byHeight map[uint64]bftcore.CommitCertificate

	maxHeight uint64
}

func NewCertificateStore() *CertificateStore {
	return &CertificateStore{
		byHeight: make(map[uint64]bftcore.CommitCertificate),
	}
}

func (s *CertificateStore) SaveCertificate(_ context.Context, cert bftcore.CommitCertificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byHeight[cert.Height]; ok {
		return bftstore.CertificateOverwriteError{Height: cert.Height}
	}

	s.byHeight[cert.Height] = cert
	if cert.Height > s.maxHeight {
		s.maxHeight = cert.Height
	}

	return nil
}

func (s *CertificateStore) LoadCertificate(_ context.Context, height uint64) (bftcore.CommitCertificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cert, ok := s.byHeight[height]
	if !ok {
		return bftcore.CommitCertificate{}, bftstore.HeightUnknownError{Want: height}
	}

	return cert, nil
}

func (s *CertificateStore) NetworkHeight(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.byHeight) == 0 {
		return 0, bftstore.ErrStoreUninitialized
	}

	return s.maxHeight, nil
}
