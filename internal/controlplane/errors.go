package controlplane

import (
	"errors"

	"github.com/berinia/conductor/internal/store"
)

// Sentinel errors for control plane operations.
var (
	ErrNotFound        = store.ErrNotFound
	ErrInvalidRequest  = errors.New("invalid request")
	ErrAlreadyFinished = store.ErrCampaignFinished
)
