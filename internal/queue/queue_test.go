package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vectorpipe/embedworker/internal/catalog"
)

func testVectorizer() *catalog.Vectorizer {
	return &catalog.Vectorizer{
		ID:           1,
		SourceSchema: "public", SourceTable: "documents",
		QueueSchema: "ai", QueueTable: "_vectorizer_q_1",
		DLQSchema: "ai", DLQTable: "_vectorizer_q_1_dlq",
		PrimaryKey: []catalog.PKColumn{{AttName: "id", TypName: "int8"}},
	}
}

func TestBackoffDelay_DoublesUntilCap(t *testing.T) {
	base := 30 * time.Second
	cap := 30 * time.Minute

	assert.Equal(t, 60*time.Second, BackoffDelay(1, base, cap))
	assert.Equal(t, 120*time.Second, BackoffDelay(2, base, cap))
	assert.Equal(t, cap, BackoffDelay(20, base, cap))
}

func TestBackoffDelay_DefaultsWhenUnset(t *testing.T) {
	d := BackoffDelay(0, 0, 0)
	assert.Equal(t, 30*time.Second, d)
}

func TestAdvisoryLockKey_DeterministicForSamePK(t *testing.T) {
	pk := map[string]interface{}{"id": float64(42)}
	k1, err := advisoryLockKey(1, pk)
	assert.NoError(t, err)
	k2, err := advisoryLockKey(1, pk)
	assert.NoError(t, err)
	assert.Equal(t, k1, k2)
}

func TestAdvisoryLockKey_DiffersAcrossVectorizers(t *testing.T) {
	pk := map[string]interface{}{"id": float64(42)}
	k1, _ := advisoryLockKey(1, pk)
	k2, _ := advisoryLockKey(2, pk)
	assert.NotEqual(t, k1, k2)
}

func TestVectorizerQueueRefs(t *testing.T) {
	v := testVectorizer()
	assert.Equal(t, "ai._vectorizer_q_1", v.Queue().String())
	assert.Equal(t, "ai._vectorizer_q_1_dlq", v.DLQ().String())
	assert.Equal(t, "public.documents", v.Source().String())
}
