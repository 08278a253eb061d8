package llmclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseLogitExtractsFromSurroundingText(t *testing.T) {
	logit, err := parseLogit("Here you go: {\"logit\": 7.5} thanks")
	assert.NoError(t, err)
	assert.Equal(t, 7.5, logit)
}

func TestParseLogitRejectsMissingJSON(t *testing.T) {
	_, err := parseLogit("no json here")
	assert.Error(t, err)
}

func TestBackoffCapsAtFourSeconds(t *testing.T) {
	assert.Less(t, backoff(1), 4*time.Second)
	assert.Equal(t, 4*time.Second, backoff(10))
}
