package bftmemstore_test

import (
	"testing"

	"github.com/harbor-bft/harbor/bft/bftstore"
	"github.com/harbor-bft/harbor/bft/bftstore/bftmemstore"
	"github.com/harbor-bft/harbor/bft/bftstore/bftstoretest"
)

func TestCertificateStoreCompliance(t *testing.T) {
	t.Parallel()

	bftstoretest.TestCertificateStoreCompliance(t, func(func(func())) (bftstore.CertificateStore, error) {
		return bftmemstore.NewCertificateStore(), nil
	})
}
