package ndjson

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkReader returns the configured chunks one Read at a time.
type chunkReader struct {
	chunks []string
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	c.chunks[0] = c.chunks[0][n:]
	if c.chunks[0] == "" {
		c.chunks = c.chunks[1:]
	}
	return n, nil
}

func collect(t *testing.T, r io.Reader, maxLine int) []string {
	t.Helper()
	var out []string
	err := NewReader(r, maxLine).Each(func(msg json.RawMessage) error {
		out = append(out, string(msg))
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestReader_ObjectSplitAcrossChunks(t *testing.T) {
	r := &chunkReader{chunks: []string{
		`{"action":{"type":"co`,
		`de"}}` + "\n" + `{"act`,
		`ion":2}` + "\n",
	}}

	got := collect(t, r, 0)
	assert.Equal(t, []string{`{"action":{"type":"code"}}`, `{"action":2}`}, got)
}

func TestReader_OneByteAtATime(t *testing.T) {
	src := "{\"a\":1}\n{\"b\":2}\n"
	got := collect(t, iotest.OneByteReader(strings.NewReader(src)), 0)
	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`}, got)
}

func TestReader_TrailingUnterminatedLine(t *testing.T) {
	got := collect(t, strings.NewReader("{\"a\":1}\n{\"b\":2}"), 0)
	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`}, got)
}

func TestReader_EmptyAndBlankLines(t *testing.T) {
	got := collect(t, strings.NewReader("\n\n  \r\n{\"a\":1}\r\n\n\t\n{\"b\":2}\n\n"), 0)
	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`}, got)
}

func TestReader_EmptyStream(t *testing.T) {
	_, err := NewReader(strings.NewReader(""), 0).Next()
	assert.ErrorIs(t, err, io.EOF)

	assert.Empty(t, collect(t, strings.NewReader("\n  \n"), 0))
}

func TestReader_LineLongerThanBuffer(t *testing.T) {
	long := `{"blob":"` + strings.Repeat("x", 200*1024) + `"}`
	got := collect(t, iotest.HalfReader(strings.NewReader(long+"\n")), 0)
	require.Len(t, got, 1)
	assert.Equal(t, long, got[0])
}

func TestReader_LineTooLong(t *testing.T) {
	r := NewReader(strings.NewReader(`{"a":"`+strings.Repeat("x", 64)+`"}`+"\n"), 16)
	_, err := r.Next()
	assert.ErrorIs(t, err, ErrLineTooLong)
}

func TestReader_InvalidJSONReportsLine(t *testing.T) {
	r := NewReader(strings.NewReader("{\"a\":1}\n\nnot json\n"), 0)

	_, err := r.Next()
	require.NoError(t, err)

	_, err = r.Next()
	var synErr *SyntaxError
	require.True(t, errors.As(err, &synErr))
	assert.Equal(t, 3, synErr.Line)
}

func TestReader_EachStopsOnCallbackError(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := NewReader(strings.NewReader("1\n2\n3\n"), 0).Each(func(json.RawMessage) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestReader_PropagatesReadError(t *testing.T) {
	boom := errors.New("connection reset")
	r := io.MultiReader(strings.NewReader("{\"a\":1}\n{\"b\""), iotest.ErrReader(boom))

	var got []string
	err := NewReader(r, 0).Each(func(msg json.RawMessage) error {
		got = append(got, string(msg))
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{`{"a":1}`}, got)
}
