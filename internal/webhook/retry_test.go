package webhook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 1*time.Second, retryDelay(1))
	assert.Equal(t, 4*time.Second, retryDelay(2))
}
