package memory

import (
	"testing"

	"github.com/andrioni/nessie/internal/backend/backendtest"
	"github.com/andrioni/nessie/internal/versioned"
)

func TestBackend(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) versioned.Backend {
		return New()
	})
}
