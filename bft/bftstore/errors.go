package bftstore

import (
	"errors"
	"fmt"
)

// HeightUnknownError is returned when loading a height
// that has no recorded entry.
type HeightUnknownError struct {
	Want uint64
}

func (e HeightUnknownError) Error() string {
	return fmt.Sprintf("height %d unknown", e.Want)
}

// CertificateOverwriteError is returned from
// [CertificateStore.SaveCertificate] if a certificate already exists
// at the given height.
// This error indicates a serious programming bug
// or a safety violation upstream.
type CertificateOverwriteError struct {
	Height uint64
}

func (e CertificateOverwriteError) Error() string {
	return fmt.Sprintf(
		"attempted to overwrite existing commit certificate at height %d",
		e.Height,
	)
}

// ValidatorSetOverwriteError is returned from
// [ValidatorStore.SaveValidatorSet] if a membership record already exists
// at the given height.
type ValidatorSetOverwriteError struct {
	Height uint64
}

func (e ValidatorSetOverwriteError) Error() string {
	return fmt.Sprintf(
		"attempted to overwrite existing validator set at height %d",
		e.Height,
	)
}

// ErrStoreUninitialized is returned by store methods
// that need a corresponding Save call before a call to Load is valid.
var ErrStoreUninitialized = errors.New("uninitialized")
