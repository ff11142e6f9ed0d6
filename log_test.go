package edb

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComponentLoggerTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	base := newNopLogger().Output(&buf)
	l := componentLogger(base, "env")
	l.Info().Msg("hello")
	assert.Contains(t, buf.String(), `"component":"env"`)
}

func TestLogCommitEmitsTxnFields(t *testing.T) {
	var buf bytes.Buffer
	l := newNopLogger().Output(&buf).Level(0)
	logCommit(l, txnID(7), 3, 2*time.Millisecond)
	out := buf.String()
	assert.Contains(t, out, `"txn_id":7`)
	assert.Contains(t, out, `"dirty_pages":3`)
}
